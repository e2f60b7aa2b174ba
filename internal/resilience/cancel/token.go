// Package cancel provides a broadcast cancellation token.
package cancel

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
)

// Token is a write-once cancellation signal shared by pointer between one
// owner and any number of listeners. Its state moves from pending to
// cancelled exactly once and never back. The zero value is a pending token.
type Token struct {
	cancelled atomic.Bool

	mu   sync.Mutex
	done chan struct{} // created lazily, closed on Trigger
}

// New returns a pending token.
func New() *Token {
	return &Token{}
}

// doneLocked returns the done channel, creating it if needed. t.mu must be held.
func (t *Token) doneLocked() chan struct{} {
	if t.done == nil {
		t.done = make(chan struct{})
	}
	return t.done
}

// Trigger cancels the token. It reports whether this call performed the
// transition; triggering an already cancelled token is a no-op.
func (t *Token) Trigger() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled.Load() {
		return false
	}
	t.cancelled.Store(true)
	close(t.doneLocked())
	return true
}

// IsCancelled reports whether the token has been triggered. It never blocks.
func (t *Token) IsCancelled() bool {
	return t.cancelled.Load()
}

// Done returns a channel closed when the token is triggered. Every listener
// observes the same close.
func (t *Token) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doneLocked()
}

// Context derives a context that is cancelled when either parent is done or
// the token fires. The returned CancelFunc releases the watcher and must be called.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if t.IsCancelled() {
		cancel()
		return ctx, cancel
	}
	go func() {
		select {
		case <-t.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// OnSignal triggers the token when one of sig arrives. Watching ends when ctx
// is done or the returned stop function is called.
func (t *Token) OnSignal(ctx context.Context, sig ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig...)

	quit := make(chan struct{})
	var stopOnce sync.Once
	go func() {
		select {
		case <-ch:
			t.Trigger()
		case <-ctx.Done():
		case <-quit:
		}
	}()

	return func() {
		stopOnce.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
