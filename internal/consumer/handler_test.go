package consumer

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vietddude/resilient/internal/resilience/classify"
)

type orderCreated struct {
	ID     string `json:"id"`
	Amount int    `json:"amount"`
}

func TestJSONHandler(t *testing.T) {
	var got orderCreated
	calls := 0
	h := JSONHandler(func(ctx context.Context, v orderCreated) error {
		calls++
		got = v
		return nil
	}, DecodeOptions{RoutingKey: "orders.created", Logger: quietLogger()})

	tests := []struct {
		name       string
		routingKey string
		body       string
		wantCalls  int
		permanent  bool
	}{
		{"decodes body", "orders.created", `{"id":"o-1","amount":5}`, 1, false},
		{"skips other routing keys", "orders.deleted", `{"id":"o-2"}`, 0, false},
		{"malformed body is permanent", "orders.created", `{"id":`, 0, true},
		{"wrong type is permanent", "orders.created", `{"amount":"five"}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = 0
			err := h(context.Background(), NewMessage("m", tt.routingKey, []byte(tt.body), nil))
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.permanent != classify.IsPermanent(err) {
				t.Errorf("IsPermanent(%v) = %v, want %v", err, !tt.permanent, tt.permanent)
			}
			if !tt.permanent && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	if got.ID != "o-1" || got.Amount != 5 {
		t.Errorf("decoded %+v", got)
	}
}

func TestJSONHandler_PassesHandlerError(t *testing.T) {
	errDown := errors.New("database is down")
	h := JSONHandler(func(ctx context.Context, v map[string]any) error {
		return errDown
	}, DecodeOptions{})

	err := h(context.Background(), NewMessage("m", "any", []byte(`{}`), nil))
	if !errors.Is(err, errDown) {
		t.Errorf("err = %v, want %v", err, errDown)
	}
	if classify.IsPermanent(err) {
		t.Error("handler error must keep its own class")
	}
}

func TestProtoHandler(t *testing.T) {
	body, err := proto.Marshal(wrapperspb.String("hello"))
	if err != nil {
		t.Fatal(err)
	}

	var got string
	h := ProtoHandler(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} },
		func(ctx context.Context, v *wrapperspb.StringValue) error {
			got = v.GetValue()
			return nil
		}, DecodeOptions{Logger: quietLogger()})

	if err := h(context.Background(), NewMessage("m", "k", body, nil)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want hello", got)
	}

	err = h(context.Background(), NewMessage("m", "k", []byte{0xff, 0xff, 0xff}, nil))
	if !classify.IsPermanent(err) {
		t.Errorf("invalid proto err = %v, want permanent", err)
	}
}
