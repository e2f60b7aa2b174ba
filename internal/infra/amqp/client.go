// Package amqp connects the resilient consumer to RabbitMQ through
// github.com/rabbitmq/amqp091-go.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/vietddude/resilient/internal/consumer"
)

// Client owns one connection and one channel. Channel calls are serialised
// through chMu; amqp091 channels are not safe for concurrent use.
type Client struct {
	cfg Config

	conn *amqp091.Connection
	ch   *amqp091.Channel
	chMu sync.Mutex

	connected atomic.Bool
}

// Dial connects to the broker, opens a channel and declares the topology.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := amqp091.DialConfig(cfg.URL, amqp091.Config{
		Heartbeat: cfg.Heartbeat,
		Dial: func(network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := &Client{cfg: cfg, conn: conn, ch: ch}
	if err := c.setup(); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	c.connected.Store(true)
	return c, nil
}

// setup declares exchange, queue and bindings and applies QoS.
func (c *Client) setup() error {
	if err := c.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	if c.cfg.Exchange != "" {
		err := c.ch.ExchangeDeclare(
			c.cfg.Exchange,
			c.cfg.ExchangeType,
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", c.cfg.Exchange, err)
		}
	}

	if c.cfg.Queue == "" {
		return nil
	}
	_, err := c.ch.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		queueArgs(c.cfg),
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", c.cfg.Queue, err)
	}

	if c.cfg.Exchange == "" {
		return nil
	}
	keys := c.cfg.RoutingKeys
	if len(keys) == 0 {
		keys = []string{"#"}
	}
	for _, key := range keys {
		if err := c.ch.QueueBind(c.cfg.Queue, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q to %q: %w", c.cfg.Queue, key, err)
		}
	}
	return nil
}

func queueArgs(cfg Config) amqp091.Table {
	if cfg.DeadLetterExchange == "" {
		return nil
	}
	return amqp091.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
}

// Consume starts a consumer on the configured queue. The returned stream is
// the only reader of the deliveries.
func (c *Client) Consume(ctx context.Context) (*DeliveryStream, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}
	if c.cfg.Queue == "" {
		return nil, ErrNoQueue
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	closes := c.ch.NotifyClose(make(chan *amqp091.Error, 1))

	c.chMu.Lock()
	deliveries, err := c.ch.Consume(
		c.cfg.Queue,
		c.cfg.ConsumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	c.chMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to consume %q: %w", c.cfg.Queue, err)
	}

	tag := c.cfg.ConsumerTag
	return newDeliveryStream(deliveries, closes, &c.chMu, func() error {
		if tag == "" {
			// Server generated tag: closing the channel cancels the consumer.
			return nil
		}
		return c.ch.Cancel(tag, false)
	}), nil
}

// publish sends one message. The confirmation is only meaningful when the
// channel is in confirm mode.
func (c *Client) publish(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) (*amqp091.DeferredConfirmation, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}
	c.chMu.Lock()
	defer c.chMu.Unlock()
	return c.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
}

func (c *Client) confirmMode() error {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	return c.ch.Confirm(false)
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && !c.conn.IsClosed()
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	if !c.connected.CompareAndSwap(true, false) {
		return nil
	}
	c.chMu.Lock()
	_ = c.ch.Close()
	c.chMu.Unlock()
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return err
	}
	return nil
}

// Dialer opens a fresh connection and stream on every call, so the consumer
// supervisor can reconnect after a broker failure.
type Dialer struct {
	cfg Config
}

// NewDialer creates a Dialer for cfg.
func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg}
}

// Dial implements consumer.Dialer. Closing the stream closes the connection.
func (d *Dialer) Dial(ctx context.Context) (consumer.Stream, error) {
	client, err := Dial(ctx, d.cfg)
	if err != nil {
		return nil, err
	}
	stream, err := client.Consume(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	stream.onClose = client.Close
	return stream, nil
}
