package consumer

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/vietddude/resilient/internal/resilience/backoff"
	"github.com/vietddude/resilient/internal/resilience/cancel"
	"github.com/vietddude/resilient/internal/resilience/classify"
)

func reconnectPolicy() backoff.Policy {
	return backoff.Policy{
		InitialInterval: time.Millisecond,
		Multiplier:      2,
		MaxInterval:     4 * time.Millisecond,
		MaxAttempts:     4,
	}
}

func newTestSupervisor(t *testing.T, c *Consumer, d Dialer) *Supervisor {
	t.Helper()
	s, err := NewSupervisor(c, d, reconnectPolicy(), nil, quietLogger())
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	return s
}

func TestNewSupervisor_RejectsInvalidPolicy(t *testing.T) {
	c := newTestConsumer(t, func(ctx context.Context, msg *Message) error { return nil }, nil)
	dialer := DialerFunc(func(ctx context.Context) (Stream, error) {
		t.Error("dial must not be called")
		return nil, errors.New("unreachable")
	})

	policy := reconnectPolicy()
	policy.Multiplier = 0.5
	if _, err := NewSupervisor(c, dialer, policy, nil, quietLogger()); !errors.Is(err, backoff.ErrInvalidMultiplier) {
		t.Errorf("err = %v, want ErrInvalidMultiplier", err)
	}
}

func TestSupervisor_ReconnectsAfterDialFailures(t *testing.T) {
	rec := &recorder{}
	dials := 0
	dialer := DialerFunc(func(ctx context.Context) (Stream, error) {
		dials++
		if dials < 3 {
			return nil, errors.New("dial tcp 127.0.0.1:5672: connect: connection refused")
		}
		return feed(rec, "1", "2"), nil
	})

	c := newTestConsumer(t, func(ctx context.Context, msg *Message) error { return nil }, nil)
	s := newTestSupervisor(t, c, dialer)

	out := s.Run(context.Background(), cancel.New())

	if out.Kind != OutcomeStreamEnded || out.Processed != 2 {
		t.Fatalf("outcome = %+v, want stream_ended after 2", out)
	}
	if dials != 3 {
		t.Errorf("dials = %d, want 3", dials)
	}
	if got := rec.Events(); !reflect.DeepEqual(got, []string{"ack:1", "ack:2"}) {
		t.Errorf("settlements = %v", got)
	}
}

func TestSupervisor_PermanentDialErrorIsFatal(t *testing.T) {
	dials := 0
	dialer := DialerFunc(func(ctx context.Context) (Stream, error) {
		dials++
		return nil, classify.MarkPermanent(errors.New("ACCESS_REFUSED"))
	})

	c := newTestConsumer(t, func(ctx context.Context, msg *Message) error { return nil }, nil)
	out := newTestSupervisor(t, c, dialer).Run(context.Background(), nil)

	if out.Kind != OutcomeFatal || out.Err == nil {
		t.Fatalf("outcome = %v, want fatal", out)
	}
	if dials != 1 {
		t.Errorf("dials = %d, want 1", dials)
	}
}

func TestSupervisor_ExhaustsReconnectBudget(t *testing.T) {
	errBroken := errors.New("connection reset by peer")
	dials := 0
	dialer := DialerFunc(func(ctx context.Context) (Stream, error) {
		dials++
		errs := make(chan error, 1)
		errs <- errBroken
		return NewChanStream(make(chan *Message), errs), nil
	})

	c := newTestConsumer(t, func(ctx context.Context, msg *Message) error { return nil }, nil)
	out := newTestSupervisor(t, c, dialer).Run(context.Background(), nil)

	if out.Kind != OutcomeFatal || !errors.Is(out.Err, errBroken) {
		t.Fatalf("outcome = %v, want fatal wrapping %v", out, errBroken)
	}
	if dials != 4 {
		t.Errorf("dials = %d, want 4", dials)
	}
}

func TestSupervisor_StopsOnToken(t *testing.T) {
	token := cancel.New()
	dialer := DialerFunc(func(ctx context.Context) (Stream, error) {
		return NewChanStream(make(chan *Message), nil), nil
	})

	running := make(chan struct{}, 1)
	c := newTestConsumer(t, func(ctx context.Context, msg *Message) error { return nil }, func(cfg *Config) {
		cfg.OnStateChange = func(s State) {
			if s == Running {
				select {
				case running <- struct{}{}:
				default:
				}
			}
		}
	})

	done := make(chan Outcome, 1)
	go func() {
		done <- newTestSupervisor(t, c, dialer).Run(context.Background(), token)
	}()

	<-running
	token.Trigger()

	select {
	case out := <-done:
		if out.Kind != OutcomeStopped {
			t.Errorf("outcome = %v, want stopped", out)
		}
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
}
