package consumer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrAlreadySettled is returned when a message is acked or nacked twice.
var ErrAlreadySettled = errors.New("consumer: message already settled")

// Acknowledger is the broker-side acknowledgement capability of one delivery.
// Each method is called at most once per message.
type Acknowledger interface {
	Ack(ctx context.Context) error
	Nack(ctx context.Context, requeue bool) error
}

// Disposition is how a message was settled with the broker.
type Disposition int

const (
	// Acked: handled successfully.
	Acked Disposition = iota
	// Rejected: negatively acknowledged without requeue.
	Rejected
	// Requeued: negatively acknowledged and returned to the queue.
	Requeued
)

func (d Disposition) String() string {
	switch d {
	case Acked:
		return "acked"
	case Rejected:
		return "rejected"
	case Requeued:
		return "requeued"
	default:
		return "unknown"
	}
}

// Message is one delivery pulled from a Stream. Handlers may read it but
// settling is the consumer's job.
type Message struct {
	ID          string
	RoutingKey  string
	Body        []byte
	Headers     map[string]any
	Redelivered bool
	Timestamp   time.Time

	ack     Acknowledger
	settled atomic.Bool
}

// NewMessage builds a message settled through ack.
func NewMessage(id, routingKey string, body []byte, ack Acknowledger) *Message {
	return &Message{
		ID:         id,
		RoutingKey: routingKey,
		Body:       body,
		Headers:    map[string]any{},
		ack:        ack,
	}
}

// Settled reports whether the message has been acked or nacked.
func (m *Message) Settled() bool {
	return m.settled.Load()
}

// Header returns a header value as a string, or "" if absent or not a string.
func (m *Message) Header(key string) string {
	switch v := m.Headers[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func (m *Message) settle(ctx context.Context, d Disposition) error {
	if !m.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	if m.ack == nil {
		return nil
	}
	switch d {
	case Acked:
		return m.ack.Ack(ctx)
	case Requeued:
		return m.ack.Nack(ctx, true)
	default:
		return m.ack.Nack(ctx, false)
	}
}
