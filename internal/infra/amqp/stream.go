package amqp

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/vietddude/resilient/internal/consumer"
)

// DeliveryStream adapts an amqp091 delivery channel to consumer.Stream.
type DeliveryStream struct {
	deliveries <-chan amqp091.Delivery
	closes     <-chan *amqp091.Error
	chMu       *sync.Mutex

	cancel  func() error
	onClose func() error

	ended     atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newDeliveryStream(
	deliveries <-chan amqp091.Delivery,
	closes <-chan *amqp091.Error,
	chMu *sync.Mutex,
	cancel func() error,
) *DeliveryStream {
	return &DeliveryStream{
		deliveries: deliveries,
		closes:     closes,
		chMu:       chMu,
		cancel:     cancel,
	}
}

// Next implements consumer.Stream. A closed delivery channel is the end of
// the stream unless the channel was closed with an error, which is returned.
func (s *DeliveryStream) Next(ctx context.Context) (*consumer.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case amqpErr, ok := <-s.closes:
		if ok && amqpErr != nil {
			return nil, fmt.Errorf("channel closed: %w", amqpErr)
		}
		// Closed cleanly; drain what is left.
		s.closes = nil
		return s.Next(ctx)
	case d, ok := <-s.deliveries:
		if !ok {
			// The close notification is sent before deliveries are closed.
			select {
			case amqpErr, ok := <-s.closes:
				if ok && amqpErr != nil {
					return nil, fmt.Errorf("channel closed: %w", amqpErr)
				}
			default:
			}
			s.ended.Store(true)
			return nil, consumer.ErrStreamEnded
		}
		return toMessage(d, s.chMu), nil
	}
}

// Close cancels the broker-side consumer if it is still active and releases
// the underlying connection when the stream owns it.
func (s *DeliveryStream) Close() error {
	s.closeOnce.Do(func() {
		if !s.ended.Load() && s.cancel != nil {
			s.chMu.Lock()
			err := s.cancel()
			s.chMu.Unlock()
			if err != nil {
				s.closeErr = fmt.Errorf("cancel consumer: %w", err)
			}
		}
		if s.onClose != nil {
			if err := s.onClose(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}

func toMessage(d amqp091.Delivery, chMu *sync.Mutex) *consumer.Message {
	id := d.MessageId
	if id == "" {
		id = d.ConsumerTag + "-" + strconv.FormatUint(d.DeliveryTag, 10)
	}
	msg := consumer.NewMessage(id, d.RoutingKey, d.Body, &acker{d: d, chMu: chMu})
	for k, v := range d.Headers {
		msg.Headers[k] = v
	}
	msg.Redelivered = d.Redelivered
	msg.Timestamp = d.Timestamp
	return msg
}

// acker settles one delivery under the channel lock.
type acker struct {
	d    amqp091.Delivery
	chMu *sync.Mutex
}

func (a *acker) Ack(ctx context.Context) error {
	return a.withChannelLock(func() error {
		return a.d.Ack(false)
	})
}

// Nack requeues the delivery or rejects it. A rejected delivery goes to the
// queue's dead-letter exchange if one is configured.
func (a *acker) Nack(ctx context.Context, requeue bool) error {
	return a.withChannelLock(func() error {
		if requeue {
			return a.d.Nack(false, true)
		}
		return a.d.Reject(false)
	})
}

func (a *acker) withChannelLock(fn func() error) error {
	if a.chMu == nil {
		return fn()
	}
	a.chMu.Lock()
	defer a.chMu.Unlock()
	return fn()
}
