package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/resilient/internal/consumer"
	"github.com/vietddude/resilient/internal/resilience/backoff"
	"github.com/vietddude/resilient/internal/resilience/classify"
)

// fakeAcknowledger records what the stream sends back to the broker.
type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeAcknowledger) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.record(fmt.Sprintf("ack %d %v", tag, multiple))
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.record(fmt.Sprintf("nack %d %v %v", tag, multiple, requeue))
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.record(fmt.Sprintf("reject %d %v", tag, requeue))
	return nil
}

func TestConfig(t *testing.T) {
	if err := (Config{}).Validate(); !errors.Is(err, ErrNoURL) {
		t.Errorf("Validate() = %v, want ErrNoURL", err)
	}
	if err := (Config{URL: "amqp://localhost"}).Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	cfg := Config{URL: "amqp://localhost"}.withDefaults()
	if cfg.ExchangeType != "topic" || cfg.Prefetch != 1 || cfg.DialTimeout != DefaultDialTimeout || cfg.Heartbeat != DefaultHeartbeat {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if args := queueArgs(Config{DeadLetterExchange: "dlx"}); args["x-dead-letter-exchange"] != "dlx" {
		t.Errorf("queueArgs = %v", args)
	}
	if queueArgs(Config{}) != nil {
		t.Error("queueArgs should be nil without a dead-letter exchange")
	}
}

func TestRule(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   classify.Class
		wantOk bool
	}{
		{"closed", amqp091.ErrClosed, classify.Transient, true},
		{"connection forced", &amqp091.Error{Code: amqp091.ConnectionForced}, classify.Transient, true},
		{"resource error", &amqp091.Error{Code: amqp091.ResourceError}, classify.Transient, true},
		{"access refused", &amqp091.Error{Code: amqp091.AccessRefused}, classify.Permanent, true},
		{"not found", fmt.Errorf("declare: %w", &amqp091.Error{Code: amqp091.NotFound}), classify.Permanent, true},
		{"precondition", &amqp091.Error{Code: amqp091.PreconditionFailed}, classify.Permanent, true},
		{"unknown recoverable", &amqp091.Error{Code: 999, Recover: true}, classify.Transient, true},
		{"unknown fatal", &amqp091.Error{Code: 999}, classify.Permanent, true},
		{"not connected", ErrNotConnected, classify.Transient, true},
		{"other", errors.New("x"), classify.Transient, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Rule(tt.err)
			if ok != tt.wantOk || (ok && got != tt.want) {
				t.Errorf("Rule() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOk)
			}
		})
	}
}

func TestDeliveryStream_Next(t *testing.T) {
	ack := &fakeAcknowledger{}
	deliveries := make(chan amqp091.Delivery, 3)
	deliveries <- amqp091.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		MessageId:    "m-1",
		RoutingKey:   "orders.created",
		Body:         []byte("a"),
		Headers:      amqp091.Table{"traceparent": "x"},
		Redelivered:  true,
		Timestamp:    time.Unix(100, 0),
	}
	deliveries <- amqp091.Delivery{Acknowledger: ack, DeliveryTag: 2, ConsumerTag: "ctag"}
	deliveries <- amqp091.Delivery{Acknowledger: ack, DeliveryTag: 3, ConsumerTag: "ctag"}
	close(deliveries)

	var mu sync.Mutex
	s := newDeliveryStream(deliveries, make(chan *amqp091.Error, 1), &mu, nil)
	ctx := context.Background()

	m1, err := s.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m1.ID != "m-1" || m1.RoutingKey != "orders.created" || string(m1.Body) != "a" || !m1.Redelivered {
		t.Errorf("message = %+v", m1)
	}
	if m1.Header("traceparent") != "x" || !m1.Timestamp.Equal(time.Unix(100, 0)) {
		t.Errorf("headers/timestamp lost: %+v", m1)
	}

	m2, _ := s.Next(ctx)
	if m2.ID != "ctag-2" {
		t.Errorf("fallback id = %q, want ctag-2", m2.ID)
	}
	m3, _ := s.Next(ctx)

	// Settle through a consumer run so the unexported settle path is used.
	settle := func(m *consumer.Message, err error) {
		c, _ := consumer.New(func(context.Context, *consumer.Message) error { return err }, consumer.Config{
			Policy: testPolicy(),
		})
		msgs := make(chan *consumer.Message, 1)
		msgs <- m
		close(msgs)
		c.Run(ctx, consumer.NewChanStream(msgs, nil), nil)
	}
	settle(m1, nil)
	settle(m2, classify.MarkPermanent(errors.New("bad")))
	c, _ := consumer.New(func(context.Context, *consumer.Message) error { return classify.MarkPermanent(errors.New("bad")) },
		consumer.Config{Policy: testPolicy(), RequeueOnFailure: true})
	msgs := make(chan *consumer.Message, 1)
	msgs <- m3
	close(msgs)
	c.Run(ctx, consumer.NewChanStream(msgs, nil), nil)

	want := []string{"ack 1 false", "reject 2 false", "nack 3 false true"}
	ack.mu.Lock()
	got := append([]string(nil), ack.calls...)
	ack.mu.Unlock()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("acknowledgements = %v, want %v", got, want)
	}

	if _, err := s.Next(ctx); !errors.Is(err, consumer.ErrStreamEnded) {
		t.Errorf("Next after close = %v, want ErrStreamEnded", err)
	}
}

func TestDeliveryStream_ChannelError(t *testing.T) {
	closes := make(chan *amqp091.Error, 1)
	closes <- &amqp091.Error{Code: amqp091.ConnectionForced, Reason: "broker shutdown"}
	var mu sync.Mutex
	s := newDeliveryStream(make(chan amqp091.Delivery), closes, &mu, nil)

	_, err := s.Next(context.Background())
	var amqpErr *amqp091.Error
	if !errors.As(err, &amqpErr) || amqpErr.Code != amqp091.ConnectionForced {
		t.Errorf("err = %v, want connection forced", err)
	}
}

func TestDeliveryStream_ContextCancel(t *testing.T) {
	var mu sync.Mutex
	s := newDeliveryStream(make(chan amqp091.Delivery), nil, &mu, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDeliveryStream_CloseCancelsOnce(t *testing.T) {
	var mu sync.Mutex
	cancels, closes := 0, 0
	s := newDeliveryStream(make(chan amqp091.Delivery), nil, &mu, func() error {
		cancels++
		return nil
	})
	s.onClose = func() error {
		closes++
		return nil
	}

	_ = s.Close()
	_ = s.Close()
	if cancels != 1 || closes != 1 {
		t.Errorf("cancels = %d, closes = %d, want 1 and 1", cancels, closes)
	}
}

func TestPreparePublishing(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	in := amqp091.Publishing{Headers: amqp091.Table{"k": "v"}}
	out := preparePublishing(ctx, in)

	if out.MessageId == "" || out.Timestamp.IsZero() || out.DeliveryMode != amqp091.Persistent {
		t.Errorf("defaults not applied: %+v", out)
	}
	if out.Headers["k"] != "v" || out.Headers["traceparent"] == nil {
		t.Errorf("headers = %v", out.Headers)
	}
	if _, ok := in.Headers["traceparent"]; ok {
		t.Error("caller headers must not be modified")
	}
}

func testPolicy() backoff.Policy {
	return backoff.Policy{InitialInterval: time.Millisecond, Multiplier: 2, MaxInterval: time.Millisecond, MaxAttempts: 1}
}
