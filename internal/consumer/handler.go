package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/protobuf/proto"

	"github.com/vietddude/resilient/internal/resilience/classify"
)

// DecodeOptions configures the typed handlers.
type DecodeOptions struct {
	// RoutingKey, when set, restricts the handler to one routing key. Messages
	// with any other key are acknowledged without being handled.
	RoutingKey string
	Logger     *slog.Logger
}

func (o DecodeOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o DecodeOptions) skip(msg *Message) bool {
	if o.RoutingKey == "" || msg.RoutingKey == o.RoutingKey {
		return false
	}
	o.logger().Warn("Unsupported routing key", "message_id", msg.ID, "routing_key", msg.RoutingKey)
	return true
}

// JSONHandler decodes each message body as JSON into T before calling fn.
// A body that does not decode is a permanent failure.
func JSONHandler[T any](fn func(ctx context.Context, v T) error, opts DecodeOptions) Handler {
	return func(ctx context.Context, msg *Message) error {
		if opts.skip(msg) {
			return nil
		}
		var v T
		if err := json.Unmarshal(msg.Body, &v); err != nil {
			opts.logger().Warn("Failed to deserialize message", "message_id", msg.ID, "error", err)
			return classify.MarkPermanent(fmt.Errorf("decode json: %w", err))
		}
		return fn(ctx, v)
	}
}

// ProtoHandler decodes each message body as protobuf into a fresh message
// from newMsg before calling fn. A body that does not decode is a permanent failure.
func ProtoHandler[T proto.Message](newMsg func() T, fn func(ctx context.Context, v T) error, opts DecodeOptions) Handler {
	return func(ctx context.Context, msg *Message) error {
		if opts.skip(msg) {
			return nil
		}
		v := newMsg()
		if err := proto.Unmarshal(msg.Body, v); err != nil {
			opts.logger().Warn("Failed to deserialize message", "message_id", msg.ID, "error", err)
			return classify.MarkPermanent(fmt.Errorf("decode proto: %w", err))
		}
		return fn(ctx, v)
	}
}

// Chain composes middleware so the first one is outermost.
func Chain(h Handler, mw ...Middleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
