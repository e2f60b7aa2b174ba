package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"google.golang.org/protobuf/proto"

	"github.com/vietddude/resilient/internal/metrics"
	"github.com/vietddude/resilient/internal/resilience/backoff"
	"github.com/vietddude/resilient/internal/resilience/retry"
	"github.com/vietddude/resilient/internal/telemetry"
)

// ErrNotConfirmed is returned when the broker nacks a published message.
var ErrNotConfirmed = errors.New("amqp: publish not confirmed by broker")

// Publisher publishes messages with confirms, reconnecting under a backoff
// policy whenever a publish fails.
type Publisher struct {
	cfg    Config
	exec   *retry.Executor
	logger *slog.Logger
	dial   func(ctx context.Context) (*Client, error)

	mu     sync.Mutex
	client *Client
}

// NewPublisher connects once and returns a publisher. policy bounds how long
// a single Publish keeps reconnecting.
func NewPublisher(ctx context.Context, cfg Config, policy backoff.Policy, logger *slog.Logger) (*Publisher, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		cfg:    cfg,
		logger: logger,
		dial: func(ctx context.Context) (*Client, error) {
			c, err := Dial(ctx, cfg)
			if err != nil {
				return nil, err
			}
			if err := c.confirmMode(); err != nil {
				_ = c.Close()
				return nil, fmt.Errorf("failed to enable confirms: %w", err)
			}
			return c, nil
		},
	}
	p.exec = retry.NewExecutor(policy, Classifier(),
		retry.WithLogger(logger),
		retry.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("Failed to publish, reconnecting", "error", err, "retry_in", wait)
		}),
	)

	client, err := p.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect publisher: %w", err)
	}
	p.client = client
	return p, nil
}

// Publish sends payload with the given headers. The trace context of ctx is
// injected into the headers.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, payload []byte, headers map[string]any) error {
	return p.PublishMessage(ctx, exchange, routingKey, amqp091.Publishing{
		ContentType: "application/octet-stream",
		Headers:     amqp091.Table(headers),
		Body:        payload,
	})
}

// PublishJSON encodes v as JSON and publishes it.
func (p *Publisher) PublishJSON(ctx context.Context, exchange, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return p.PublishMessage(ctx, exchange, routingKey, amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// PublishProto encodes m as protobuf and publishes it.
func (p *Publisher) PublishProto(ctx context.Context, exchange, routingKey string, m proto.Message) error {
	body, err := proto.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode proto: %w", err)
	}
	return p.PublishMessage(ctx, exchange, routingKey, amqp091.Publishing{
		ContentType: "application/x-protobuf",
		Type:        string(proto.MessageName(m)),
		Body:        body,
	})
}

// PublishMessage publishes msg as is, filling message id, timestamp,
// persistence and trace headers when unset.
func (p *Publisher) PublishMessage(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error {
	msg = preparePublishing(ctx, msg)
	err := p.exec.Do(ctx, nil, func(ctx context.Context) error {
		return p.publishOnce(ctx, exchange, routingKey, msg)
	})

	result := "ok"
	if err != nil {
		result = "failed"
	}
	metrics.PublishesTotal.WithLabelValues(exchange, result).Inc()
	return err
}

func preparePublishing(ctx context.Context, msg amqp091.Publishing) amqp091.Publishing {
	if msg.MessageId == "" {
		msg.MessageId = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.DeliveryMode == 0 {
		msg.DeliveryMode = amqp091.Persistent
	}
	headers := make(amqp091.Table, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	telemetry.Inject(ctx, headers)
	msg.Headers = headers
	return msg
}

func (p *Publisher) publishOnce(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error {
	client, err := p.connection(ctx)
	if err != nil {
		return err
	}

	confirm, err := client.publish(ctx, exchange, routingKey, msg)
	if err == nil && confirm != nil {
		var acked bool
		acked, err = confirm.WaitContext(ctx)
		if err == nil && !acked {
			err = ErrNotConfirmed
		}
	}
	if err != nil {
		p.reset(client)
		return err
	}
	return nil
}

// connection returns the live client, dialing a new one if needed.
func (p *Publisher) connection(ctx context.Context) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnected() {
		return p.client, nil
	}
	if p.client != nil {
		_ = p.client.Close()
		p.client = nil
	}

	client, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

// reset drops client so the next attempt reconnects.
func (p *Publisher) reset(client *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == client {
		_ = client.Close()
		p.client = nil
	}
}

// Close closes the publisher's connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}
