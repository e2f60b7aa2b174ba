// Package telemetry carries trace context through message headers.
package telemetry

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/propagation"
)

// Propagator is the text map propagator used for message headers.
var Propagator propagation.TextMapPropagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// HeaderCarrier adapts AMQP style headers to propagation.TextMapCarrier.
type HeaderCarrier map[string]any

// Get returns the header as a string, or "" if absent or not textual.
func (c HeaderCarrier) Get(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Set stores a header.
func (c HeaderCarrier) Set(key, value string) {
	c[key] = value
}

// Keys lists header names in sorted order.
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Extract returns ctx carrying the remote span context found in headers.
func Extract(ctx context.Context, headers map[string]any) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return Propagator.Extract(ctx, HeaderCarrier(headers))
}

// Inject writes the span context of ctx into headers. headers must not be nil.
func Inject(ctx context.Context, headers map[string]any) {
	Propagator.Inject(ctx, HeaderCarrier(headers))
}
