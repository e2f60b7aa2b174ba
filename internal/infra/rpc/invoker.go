// Package rpc retries remote calls under a time budget.
//
// Call wraps any request function (a JSON-RPC call through HTTPClient, a
// generated gRPC client method on a DialGRPC connection) and retries it with
// the default backoff policy until it succeeds, fails permanently, or the
// timeout elapses.
package rpc

import (
	"context"
	"time"

	"github.com/vietddude/resilient/internal/resilience/backoff"
	"github.com/vietddude/resilient/internal/resilience/cancel"
	"github.com/vietddude/resilient/internal/resilience/retry"
)

// DefaultTimeout bounds CallWithDefaultTimeout.
const DefaultTimeout = 30 * time.Second

// Policy returns the retry policy used for a call bounded by timeout.
func Policy(timeout time.Duration) backoff.Policy {
	p := backoff.Default()
	p.MaxElapsedTime = timeout
	return p
}

// Call retries fn until it succeeds, fails permanently, timeout elapses or
// token fires. A nil token means only ctx can cancel.
func Call[T any](
	ctx context.Context,
	timeout time.Duration,
	token *cancel.Token,
	fn func(ctx context.Context) (T, error),
	opts ...retry.Option,
) (T, error) {
	return retry.Do(ctx, retry.Operation[T](fn), Policy(timeout), Classifier(), token, opts...)
}

// CallWithDefaultTimeout is Call with DefaultTimeout.
func CallWithDefaultTimeout[T any](
	ctx context.Context,
	token *cancel.Token,
	fn func(ctx context.Context) (T, error),
	opts ...retry.Option,
) (T, error) {
	return Call(ctx, DefaultTimeout, token, fn, opts...)
}
