package cancel

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"
)

func TestToken_TriggerIsIdempotent(t *testing.T) {
	tok := New()
	if tok.IsCancelled() {
		t.Fatal("new token must be pending")
	}

	if !tok.Trigger() {
		t.Error("first trigger must perform the transition")
	}
	if tok.Trigger() {
		t.Error("second trigger must be a no-op")
	}
	if !tok.IsCancelled() {
		t.Error("token must stay cancelled")
	}
}

func TestToken_ZeroValueIsPending(t *testing.T) {
	var tok Token
	if tok.IsCancelled() {
		t.Fatal("zero token must be pending")
	}
	done := tok.Done()
	select {
	case <-done:
		t.Fatal("done must not be closed before trigger")
	default:
	}

	if !tok.Trigger() || tok.Trigger() {
		t.Error("zero token must trigger exactly once")
	}
	select {
	case <-done:
	default:
		t.Error("channel obtained before trigger must be closed")
	}
	select {
	case <-tok.Done():
	default:
		t.Error("done must be closed after trigger")
	}
}

func TestToken_TriggerBeforeDone(t *testing.T) {
	var tok Token
	tok.Trigger()
	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("done must be closed when triggered before the first Done call")
	}
}

func TestToken_BroadcastToAllListeners(t *testing.T) {
	tok := New()

	const listeners = 32
	var ready, wg sync.WaitGroup
	ready.Add(listeners)
	wg.Add(listeners)
	for i := 0; i < listeners; i++ {
		go func() {
			defer wg.Done()
			ready.Done()
			<-tok.Done()
		}()
	}
	ready.Wait()

	tok.Trigger()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not every listener observed the cancellation")
	}
}

func TestToken_ConcurrentTrigger(t *testing.T) {
	tok := New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok.Trigger() {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if transitions != 1 {
		t.Errorf("expected exactly one transition, got %d", transitions)
	}
}

func TestToken_Context(t *testing.T) {
	t.Run("token fires", func(t *testing.T) {
		tok := New()
		ctx, cancel := tok.Context(context.Background())
		defer cancel()

		tok.Trigger()
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("context not cancelled by token")
		}
	})

	t.Run("already cancelled", func(t *testing.T) {
		tok := New()
		tok.Trigger()
		ctx, cancel := tok.Context(context.Background())
		defer cancel()
		if ctx.Err() == nil {
			t.Fatal("context must be cancelled immediately")
		}
	})

	t.Run("parent cancelled leaves token pending", func(t *testing.T) {
		tok := New()
		parent, parentCancel := context.WithCancel(context.Background())
		ctx, cancel := tok.Context(parent)
		defer cancel()

		parentCancel()
		<-ctx.Done()
		if tok.IsCancelled() {
			t.Fatal("parent cancellation must not trigger the token")
		}
	})
}

func TestToken_OnSignal(t *testing.T) {
	tok := New()
	stop := tok.OnSignal(context.Background(), syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-tok.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not trigger the token")
	}
}
