package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/resilient/internal/infra/storage"
)

// HeaderDeadLetterID carries the dead-letter record id on replayed messages.
const HeaderDeadLetterID = "x-dead-letter-id"

// Publisher publishes a raw payload. *amqp.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload []byte, headers map[string]any) error
}

// ReplayOptions selects what Replay republishes and where to.
type ReplayOptions struct {
	Consumer string
	Exchange string
	// Queue is used as the routing key when Exchange is empty, publishing
	// straight to the queue through the default exchange.
	Queue string
	Limit int
}

// Replay republishes pending dead letters of a consumer, oldest first, and
// marks each one resolved once the broker confirmed it. It stops at the
// first publish failure and returns how many were replayed.
func Replay(
	ctx context.Context,
	repo storage.FailedMessageRepository,
	pub Publisher,
	opts ReplayOptions,
	log *slog.Logger,
) (int, error) {
	pending, err := repo.ListPending(ctx, opts.Consumer, opts.Limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list dead letters: %w", err)
	}

	replayed := 0
	for _, fm := range pending {
		routingKey := fm.RoutingKey
		if opts.Exchange == "" {
			routingKey = opts.Queue
		}

		headers := make(map[string]any, len(fm.Headers)+1)
		for k, v := range fm.Headers {
			headers[k] = v
		}
		headers[HeaderDeadLetterID] = fm.ID

		if err := pub.Publish(ctx, opts.Exchange, routingKey, fm.Body, headers); err != nil {
			return replayed, fmt.Errorf("failed to replay %s: %w", fm.ID, err)
		}
		if err := repo.MarkResolved(ctx, fm.ID); err != nil {
			// Published but still pending: a later replay would duplicate it.
			log.Warn("Failed to mark dead letter resolved", "id", fm.ID, "error", err)
			return replayed, fmt.Errorf("failed to resolve %s: %w", fm.ID, err)
		}
		replayed++
		log.Info("Replayed dead letter", "id", fm.ID, "message_id", fm.MessageID, "routing_key", routingKey)
	}
	return replayed, nil
}
