package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/resilient/internal/consumer"
	"github.com/vietddude/resilient/internal/core/config"
	"github.com/vietddude/resilient/internal/resilience/classify"
)

type nopAck struct {
	mu     sync.Mutex
	events []string
}

func (a *nopAck) Ack(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, "ack")
	return nil
}

func (a *nopAck) Nack(ctx context.Context, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.events = append(a.events, "requeue")
	} else {
		a.events = append(a.events, "reject")
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, extra string) *config.AppConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(`
consumer:
  name: orders
retry:
  initial_interval: 1ms
  max_interval: 2ms
  max_attempts: 2
reconnect:
  initial_interval: 1ms
  max_interval: 2ms
  max_attempts: 2
` + extra))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.Server.Port = 0 // Random port
	return cfg
}

// dialOnce serves the given messages on the first dial, then ends the stream.
func dialOnce(msgs ...*consumer.Message) consumer.Dialer {
	return consumer.DialerFunc(func(ctx context.Context) (consumer.Stream, error) {
		ch := make(chan *consumer.Message, len(msgs))
		for _, m := range msgs {
			ch <- m
		}
		close(ch)
		return consumer.NewChanStream(ch, nil), nil
	})
}

func waitDone(t *testing.T, app *App) {
	t.Helper()
	select {
	case <-app.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}
}

func TestApp_Lifecycle(t *testing.T) {
	ack := &nopAck{}
	handler := func(ctx context.Context, msg *consumer.Message) error {
		if msg.ID == "bad" {
			return classify.MarkPermanent(errors.New("unknown order"))
		}
		return nil
	}

	app, err := NewApp(context.Background(), testConfig(t, ""),
		WithHandler(handler),
		WithDialer(dialOnce(
			consumer.NewMessage("good", "orders.created", []byte(`{}`), ack),
			consumer.NewMessage("bad", "orders.created", []byte(`{}`), ack),
		)),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := app.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
	waitDone(t, app)

	out := app.Outcome()
	if out.Kind != consumer.OutcomeStreamEnded || out.Processed != 2 {
		t.Errorf("outcome = %v processed %d", out, out.Processed)
	}

	pending, err := app.deadLetters.Repo.ListPending(ctx, "orders", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].MessageID != "bad" {
		t.Errorf("dead letters = %+v", pending)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestApp_StopDrains(t *testing.T) {
	// A dialer whose stream never yields: only shutdown ends the run.
	dialer := consumer.DialerFunc(func(ctx context.Context) (consumer.Stream, error) {
		return consumer.NewChanStream(make(chan *consumer.Message), nil), nil
	})

	app, err := NewApp(context.Background(), testConfig(t, ""), WithDialer(dialer), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	if err := app.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if out := app.Outcome(); out.Kind != consumer.OutcomeStopped {
		t.Errorf("outcome = %v, want stopped", out)
	}
	if app.State() != consumer.Stopped {
		t.Errorf("state = %v", app.State())
	}
}

func TestApp_ForwardsToJSONRPC(t *testing.T) {
	var mu sync.Mutex
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
			ID     uint64          `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		methods = append(methods, req.Method)
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": true, "id": req.ID})
	}))
	defer server.Close()

	ack := &nopAck{}
	app, err := NewApp(context.Background(), testConfig(t, "rpc:\n  http_endpoint: "+server.URL+"\n"),
		WithDialer(dialOnce(
			consumer.NewMessage("m1", "order_create", []byte(`{"id":1}`), ack),
			consumer.NewMessage("m2", "order_create", []byte(`not json`), ack),
		)),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	app.Start(context.Background())
	waitDone(t, app)
	defer app.Stop(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(methods) != 1 || methods[0] != "order_create" {
		t.Errorf("forwarded methods = %v", methods)
	}

	ack.mu.Lock()
	defer ack.mu.Unlock()
	if len(ack.events) != 2 || ack.events[0] != "ack" || ack.events[1] != "reject" {
		t.Errorf("settlements = %v, want [ack reject]", ack.events)
	}
}

func TestNewApp_RequiresBrokerURL(t *testing.T) {
	if _, err := NewApp(context.Background(), testConfig(t, ""), WithLogger(quietLogger())); err == nil {
		t.Fatal("expected error without amqp url")
	}
}

func TestNewApp_DeadLetterBackends(t *testing.T) {
	tests := []struct {
		name       string
		yaml       string
		wantRepo   bool
		wantPruner bool
	}{
		{"memory default", "", true, false},
		{"memory with retention", "dead_letter:\n  retention: 24h\n", true, true},
		{"disabled", "dead_letter:\n  backend: none\n  retention: 24h\n", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, err := NewApp(context.Background(), testConfig(t, tt.yaml),
				WithDialer(dialOnce()), WithLogger(quietLogger()))
			if err != nil {
				t.Fatalf("NewApp failed: %v", err)
			}
			defer app.Stop(context.Background())

			if (app.deadLetters.Repo != nil) != tt.wantRepo {
				t.Errorf("repo = %v, want %v", app.deadLetters.Repo != nil, tt.wantRepo)
			}
			if (app.pruner != nil) != tt.wantPruner {
				t.Errorf("pruner = %v, want %v", app.pruner != nil, tt.wantPruner)
			}
		})
	}
}
