// Package consumer runs a message handler over a broker stream with retries
// and graceful cancellation.
//
// A Consumer pulls one message at a time, hands it to the handler through the
// retry executor and settles it exactly once: ack on success, nack on a
// permanent or exhausted failure, requeue when shutdown interrupted a retry.
// A poisoned message never halts the loop; only a stream-level failure does.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vietddude/resilient/internal/resilience/backoff"
	"github.com/vietddude/resilient/internal/resilience/cancel"
	"github.com/vietddude/resilient/internal/resilience/classify"
	"github.com/vietddude/resilient/internal/resilience/retry"
)

// ErrAlreadyRunning is reported when Run is called on a consumer that is
// already running.
var ErrAlreadyRunning = errors.New("consumer: already running")

// Handler processes one message. Returning an error marked with
// classify.Permanent skips retries for that message.
type Handler func(ctx context.Context, msg *Message) error

// Middleware decorates a Handler.
type Middleware func(Handler) Handler

// Config configures a Consumer.
type Config struct {
	Name       string
	Policy     backoff.Policy
	Classifier classify.Classifier

	// RequeueOnFailure requeues messages that failed permanently or exhausted
	// their retries instead of rejecting them. Off by default to avoid
	// infinite redelivery of messages that cannot succeed.
	RequeueOnFailure bool

	Sink          OutcomeSink
	Middleware    []Middleware
	OnStateChange func(State)
	Logger        *slog.Logger

	// RetryOptions are passed to every per-message retry loop.
	RetryOptions []retry.Option
}

// Consumer applies a Handler to every message of a Stream.
type Consumer struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger

	state   atomic.Int32
	running atomic.Bool
}

// New creates a Consumer.
func New(handler Handler, cfg Config) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("consumer: nil handler")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("consumer %q: %w", cfg.Name, err)
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classify.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "consumer"
	}

	c := &Consumer{
		cfg:     cfg,
		handler: Chain(handler, cfg.Middleware...),
		logger:  cfg.Logger.With("consumer", cfg.Name),
	}
	// Idle until the first Run.
	c.state.Store(int32(Stopped))
	return c, nil
}

// Name returns the consumer's name.
func (c *Consumer) Name() string { return c.cfg.Name }

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.logger.Debug("Consumer state changed", "state", s.String())
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}

// Run consumes stream until token fires, ctx ends, the stream ends, or the
// stream fails. It takes ownership of stream and closes it before returning.
// A nil token means only ctx requests shutdown.
func (c *Consumer) Run(ctx context.Context, stream Stream, token *cancel.Token) Outcome {
	if !c.running.CompareAndSwap(false, true) {
		return Outcome{Kind: OutcomeFatal, Err: ErrAlreadyRunning}
	}
	defer c.running.Store(false)

	if token == nil {
		token = cancel.New()
	}

	c.setState(Starting)
	out := c.run(ctx, stream, token)

	if err := stream.Close(); err != nil {
		c.logger.Warn("Failed to close stream", "error", err)
	}

	switch out.Kind {
	case OutcomeFatal:
		c.setState(Fatal)
		c.logger.Error("Consumer failed", "error", out.Err, "processed", out.Processed)
	default:
		c.setState(Stopped)
		c.logger.Info("Consumer stopped", "outcome", out.Kind.String(), "processed", out.Processed)
	}
	return out
}

func (c *Consumer) run(ctx context.Context, stream Stream, token *cancel.Token) Outcome {
	processed := 0
	drain := func() Outcome {
		c.setState(Draining)
		return Outcome{Kind: OutcomeStopped, Processed: processed}
	}

	if shutdownRequested(ctx, token) {
		return drain()
	}

	// Waiting for the next message races cancellation inside Next's select.
	pullCtx, stop := token.Context(ctx)
	defer stop()

	c.setState(Running)
	for {
		msg, err := stream.Next(pullCtx)
		if err != nil {
			switch {
			case shutdownRequested(ctx, token):
				return drain()
			case errors.Is(err, ErrStreamEnded):
				return Outcome{Kind: OutcomeStreamEnded, Processed: processed}
			default:
				return Outcome{Kind: OutcomeFatal, Err: fmt.Errorf("receive message: %w", err), Processed: processed}
			}
		}
		if msg == nil {
			continue
		}

		// The message arrived together with a shutdown request: hand it back untouched.
		if shutdownRequested(ctx, token) {
			if err := msg.settle(context.WithoutCancel(ctx), Requeued); err != nil {
				return Outcome{Kind: OutcomeFatal, Err: fmt.Errorf("requeue message %s: %w", msg.ID, err), Processed: processed}
			}
			processed++
			return drain()
		}

		if err := c.handle(ctx, msg, token); err != nil {
			return Outcome{Kind: OutcomeFatal, Err: err, Processed: processed}
		}
		processed++

		// A cancelled retry or a token fired mid-handler: the in-flight message is settled, stop here.
		if shutdownRequested(ctx, token) {
			return drain()
		}
	}
}

// handle runs the handler under the retry executor and settles msg. The
// returned error is a broker-side settle failure, which is fatal to the run.
func (c *Consumer) handle(ctx context.Context, msg *Message, token *cancel.Token) error {
	start := time.Now()
	attempts := 0

	opts := make([]retry.Option, 0, len(c.cfg.RetryOptions)+2)
	opts = append(opts, retry.WithLogger(c.logger))
	opts = append(opts, c.cfg.RetryOptions...)
	opts = append(opts, retry.WithAttemptHook(func(n int) { attempts = n }))

	_, err := retry.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.invoke(ctx, msg)
	}, c.cfg.Policy, c.cfg.Classifier, token, opts...)

	outcome := MessageOutcome{
		Consumer: c.cfg.Name,
		Message:  msg,
		Attempts: attempts,
	}

	switch {
	case err == nil:
		outcome.Disposition = Acked
	case retry.IsCancelled(err):
		// Shutdown interrupted a retry; the message did not fail, let another consumer take it.
		outcome.Disposition = Requeued
	case c.cfg.RequeueOnFailure:
		outcome.Disposition = Requeued
	default:
		outcome.Disposition = Rejected
	}
	if err != nil {
		outcome.Err = errors.Unwrap(err)
		if outcome.Err == nil {
			outcome.Err = err
		}
		outcome.Failure, _ = retry.KindOf(err)
	}

	if settleErr := msg.settle(context.WithoutCancel(ctx), outcome.Disposition); settleErr != nil {
		return fmt.Errorf("settle message %s as %s: %w", msg.ID, outcome.Disposition, settleErr)
	}
	outcome.Duration = time.Since(start)

	if c.cfg.Sink != nil {
		c.cfg.Sink.Record(context.WithoutCancel(ctx), outcome)
	}
	return nil
}

// invoke calls the handler, turning a panic into a permanent failure so one
// bad message cannot take the loop down.
func (c *Consumer) invoke(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = classify.MarkPermanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return c.handler(ctx, msg)
}

func shutdownRequested(ctx context.Context, token *cancel.Token) bool {
	return token.IsCancelled() || ctx.Err() != nil
}
