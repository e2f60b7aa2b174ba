package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/resilient/internal/core/domain"
)

var (
	// ErrFailedMessageNotFound is returned when a failed message doesn't exist
	ErrFailedMessageNotFound = errors.New("failed message not found")
)

// FailedMessageRepository stores messages the consumer rejected.
type FailedMessageRepository interface {
	// Add stores a failed message. An empty ID is assigned by the repository.
	Add(ctx context.Context, fm *domain.FailedMessage) error

	// Get retrieves a failed message by ID
	Get(ctx context.Context, id string) (*domain.FailedMessage, error)

	// ListPending returns pending failed messages of a consumer, oldest first.
	// limit <= 0 means no limit.
	ListPending(ctx context.Context, consumer string, limit int) ([]*domain.FailedMessage, error)

	// MarkResolved marks a failed message as resolved (e.g. replayed)
	MarkResolved(ctx context.Context, id string) error

	// Count returns the number of pending failed messages of a consumer
	Count(ctx context.Context, consumer string) (int, error)
}

// FailedMessagePruner is implemented by repositories that keep resolved
// records until deleted. Redis expires records by TTL instead.
type FailedMessagePruner interface {
	// DeleteResolvedOlderThan deletes records resolved before the threshold
	// and returns how many were deleted.
	DeleteResolvedOlderThan(ctx context.Context, threshold time.Time) (int, error)
}
