package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/resilient/internal/consumer"
)

const instrumentationName = "github.com/vietddude/resilient/consumer"

// Middleware starts a consumer span per message, parented to the trace
// context found in the message headers. A nil tracer uses the global provider.
func Middleware(tracer trace.Tracer) consumer.Middleware {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return func(next consumer.Handler) consumer.Handler {
		return func(ctx context.Context, msg *consumer.Message) error {
			ctx = Extract(ctx, msg.Headers)
			ctx, span := tracer.Start(ctx, "process "+msg.RoutingKey,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.system", "rabbitmq"),
					attribute.String("messaging.message.id", msg.ID),
					attribute.String("messaging.rabbitmq.destination.routing_key", msg.RoutingKey),
					attribute.Bool("messaging.rabbitmq.redelivered", msg.Redelivered),
				),
			)
			defer span.End()

			err := next(ctx, msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}
