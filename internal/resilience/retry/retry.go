// Package retry drives fallible operations through a backoff policy.
//
// An operation is attempted once; failures are classified, permanent ones end
// the loop, transient ones wait for the next backoff interval and try again
// until the policy budget runs out or cancellation is requested. Operations
// may run several times and must be safe to repeat.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/resilient/internal/resilience/backoff"
	"github.com/vietddude/resilient/internal/resilience/cancel"
	"github.com/vietddude/resilient/internal/resilience/classify"
)

// Operation is one attempt of a unit of work.
type Operation[T any] func(ctx context.Context) (T, error)

// Clock is the time source of a retry loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type options struct {
	notify    []func(err error, wait time.Duration)
	onAttempt func(attempt int)
	logger    *slog.Logger
	clock     Clock
}

// Option customises a retry loop.
type Option func(*options)

// WithNotify registers fn to be called before every backoff wait with the
// error that caused it. Callbacks run in registration order.
func WithNotify(fn func(err error, wait time.Duration)) Option {
	return func(o *options) { o.notify = append(o.notify, fn) }
}

// WithAttemptHook registers fn to be called before every attempt, starting at 1.
func WithAttemptHook(fn func(attempt int)) Option {
	return func(o *options) { o.onAttempt = fn }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{clock: realClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// never is a channel that is never closed, standing in for a nil token.
var never = make(chan struct{})

// Do runs op until it succeeds, fails permanently, exhausts policy, or is
// cancelled through ctx or token. A nil classifier means classify.Default;
// a nil token means only ctx can cancel. An invalid policy is rejected before
// the first attempt.
//
// Cancellation interrupts backoff waits only. A running attempt is never
// aborted by the token; the loop stops at its next suspension point.
func Do[T any](
	ctx context.Context,
	op Operation[T],
	policy backoff.Policy,
	classifier classify.Classifier,
	token *cancel.Token,
	opts ...Option,
) (T, error) {
	var zero T
	if err := policy.Validate(); err != nil {
		return zero, fmt.Errorf("retry: invalid policy: %w", err)
	}
	o := buildOptions(opts)
	if classifier == nil {
		classifier = classify.Default()
	}
	tokenDone := (<-chan struct{})(never)
	if token != nil {
		tokenDone = token.Done()
	}

	if policy.Unbounded() {
		o.logger.Warn("Retrying without attempt or time bound, only cancellation ends the loop")
	}

	state := backoff.NewState(o.clock.Now())
	var lastErr error

	for {
		if cancelled(ctx, token) {
			return zero, &Error{Kind: KindCancelled, Attempts: state.Attempt, Err: lastErr}
		}

		if o.onAttempt != nil {
			o.onAttempt(state.Attempt + 1)
		}
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		state.Attempt++
		lastErr = err

		// The attempt failed because our own context ended, not because of the work.
		if ctx.Err() != nil {
			return zero, &Error{Kind: KindCancelled, Attempts: state.Attempt, Err: err}
		}

		if classifier.Classify(err) == classify.Permanent {
			return zero, &Error{Kind: KindPermanent, Attempts: state.Attempt, Err: err}
		}

		state.Observe(o.clock.Now())
		if !policy.ShouldContinue(state) {
			return zero, &Error{Kind: KindExhausted, Attempts: state.Attempt, Err: err}
		}

		wait := policy.NextInterval(state)
		for _, fn := range o.notify {
			fn(err, wait)
		}
		o.logger.Debug("Transient failure, backing off",
			"attempt", state.Attempt,
			"wait", wait,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return zero, &Error{Kind: KindCancelled, Attempts: state.Attempt, Err: err}
		case <-tokenDone:
			return zero, &Error{Kind: KindCancelled, Attempts: state.Attempt, Err: err}
		case <-o.clock.After(wait):
		}
	}
}

func cancelled(ctx context.Context, token *cancel.Token) bool {
	if ctx.Err() != nil {
		return true
	}
	return token != nil && token.IsCancelled()
}

// Executor bundles a policy, a classifier and options for repeated use.
type Executor struct {
	policy     backoff.Policy
	classifier classify.Classifier
	opts       []Option
}

// NewExecutor creates an Executor. A nil classifier means classify.Default.
func NewExecutor(policy backoff.Policy, classifier classify.Classifier, opts ...Option) *Executor {
	if classifier == nil {
		classifier = classify.Default()
	}
	return &Executor{policy: policy, classifier: classifier, opts: opts}
}

// Policy returns the executor's backoff policy.
func (e *Executor) Policy() backoff.Policy { return e.policy }

// Do runs fn under the executor's policy. Per-call options are applied after
// the executor's own.
func (e *Executor) Do(ctx context.Context, token *cancel.Token, fn func(ctx context.Context) error, opts ...Option) error {
	_, err := Execute(ctx, e, token, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

// Execute runs op under e's policy and returns its result.
func Execute[T any](ctx context.Context, e *Executor, token *cancel.Token, op Operation[T], opts ...Option) (T, error) {
	all := make([]Option, 0, len(e.opts)+len(opts))
	all = append(all, e.opts...)
	all = append(all, opts...)
	return Do(ctx, op, e.policy, e.classifier, token, all...)
}
