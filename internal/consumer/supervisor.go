package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/resilient/internal/resilience/backoff"
	"github.com/vietddude/resilient/internal/resilience/cancel"
	"github.com/vietddude/resilient/internal/resilience/classify"
	"github.com/vietddude/resilient/internal/resilience/retry"
)

// Supervisor keeps a Consumer connected: it dials a stream, runs the
// consumer, and reconnects under a backoff policy when dialing fails or the
// stream dies. A clean stop or the end of the stream ends supervision.
type Supervisor struct {
	consumer *Consumer
	dialer   Dialer
	exec     *retry.Executor
	logger   *slog.Logger
}

// NewSupervisor creates a Supervisor. The classifier decides which dial
// errors are worth reconnecting for; fatal stream outcomes always are.
// The reconnect policy must be valid.
func NewSupervisor(
	c *Consumer,
	d Dialer,
	policy backoff.Policy,
	classifier classify.Classifier,
	logger *slog.Logger,
	opts ...retry.Option,
) (*Supervisor, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("supervisor %q: %w", c.Name(), err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("consumer", c.Name())

	all := []retry.Option{
		retry.WithLogger(logger),
		retry.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("Failed to connect and consume, retrying", "error", err, "retry_in", wait)
		}),
	}
	all = append(all, opts...)

	return &Supervisor{
		consumer: c,
		dialer:   d,
		exec:     retry.NewExecutor(policy, classifier, all...),
		logger:   logger,
	}, nil
}

// Run supervises until the consumer stops cleanly, its stream ends, the
// reconnect budget is exhausted (OutcomeFatal), or token/ctx request
// shutdown (OutcomeStopped).
func (s *Supervisor) Run(ctx context.Context, token *cancel.Token) Outcome {
	total := 0
	for {
		out, err := retry.Execute(ctx, s.exec, token, func(ctx context.Context) (Outcome, error) {
			return s.connectAndConsume(ctx, token)
		})
		total += out.Processed

		switch {
		case err == nil && out.Kind == OutcomeFatal:
			// The stream served messages before it died; start a fresh reconnect budget.
			s.logger.Warn("Stream failed after consuming, reconnecting", "error", out.Err, "processed", out.Processed)
			continue
		case err == nil:
			out.Processed = total
			return out
		case retry.IsCancelled(err):
			return Outcome{Kind: OutcomeStopped, Processed: total}
		default:
			s.logger.Error("Reconnect logic failed", "error", err)
			return Outcome{Kind: OutcomeFatal, Err: err, Processed: total}
		}
	}
}

func (s *Supervisor) connectAndConsume(ctx context.Context, token *cancel.Token) (Outcome, error) {
	s.logger.Debug("Connecting stream")
	stream, err := s.dialer.Dial(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("dial stream: %w", err)
	}

	out := s.consumer.Run(ctx, stream, token)
	if out.Kind == OutcomeFatal && out.Processed == 0 {
		return Outcome{}, classify.MarkTransient(out.Err)
	}
	return out, nil
}
