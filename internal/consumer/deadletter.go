package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/infra/storage"
	"github.com/vietddude/resilient/internal/resilience/retry"
)

// DeadLetterSink persists rejected messages so they can be inspected and
// replayed later. Acked and requeued outcomes are ignored.
type DeadLetterSink struct {
	repo   storage.FailedMessageRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewDeadLetterSink creates a sink writing to repo. A nil logger means slog.Default().
func NewDeadLetterSink(repo storage.FailedMessageRepository, logger *slog.Logger) *DeadLetterSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterSink{repo: repo, logger: logger, now: time.Now}
}

// Record implements OutcomeSink.
func (s *DeadLetterSink) Record(ctx context.Context, o MessageOutcome) {
	if o.Disposition != Rejected || o.Message == nil {
		return
	}

	fm := &domain.FailedMessage{
		Consumer:   o.Consumer,
		MessageID:  o.Message.ID,
		RoutingKey: o.Message.RoutingKey,
		Body:       o.Message.Body,
		Headers:    stringHeaders(o.Message.Headers),
		Failure:    failureType(o.Failure),
		Attempts:   o.Attempts,
		CreatedAt:  s.now(),
	}
	if o.Err != nil {
		fm.Error = o.Err.Error()
	}

	if err := s.repo.Add(ctx, fm); err != nil {
		s.logger.Error("Failed to store dead letter",
			"consumer", o.Consumer,
			"message_id", o.Message.ID,
			"error", err,
		)
	}
}

func failureType(k retry.Kind) domain.FailureType {
	if k == retry.KindExhausted {
		return domain.FailureTypeExhausted
	}
	return domain.FailureTypePermanent
}

func stringHeaders(h map[string]any) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		switch v := v.(type) {
		case string:
			out[k] = v
		case []byte:
			out[k] = string(v)
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
