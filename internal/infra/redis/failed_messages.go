package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/infra/storage"
)

const defaultRecordTTL = 7 * 24 * time.Hour

// FailedMessageRepo implements storage.FailedMessageRepository using Redis.
// Records are JSON values with a TTL; each consumer has a sorted set of
// pending IDs scored by creation time.
type FailedMessageRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFailedMessageRepo creates a new Redis-backed failed message repository.
func NewFailedMessageRepo(client *Client, ttl time.Duration) *FailedMessageRepo {
	if ttl <= 0 {
		ttl = defaultRecordTTL
	}
	return &FailedMessageRepo{
		rdb: client.rdb,
		ttl: ttl,
	}
}

// Key helpers
func pendingKey(consumer string) string {
	return fmt.Sprintf("failed_messages:%s", consumer)
}

func recordKey(id string) string {
	return fmt.Sprintf("failed_message:%s", id)
}

// Add stores the record and indexes it as pending.
func (r *FailedMessageRepo) Add(ctx context.Context, fm *domain.FailedMessage) error {
	if fm.ID == "" {
		fm.ID = uuid.NewString()
	}
	if fm.Status == "" {
		fm.Status = domain.FailedMessageStatusPending
	}
	if fm.CreatedAt.IsZero() {
		fm.CreatedAt = time.Now()
	}

	data, err := json.Marshal(fm)
	if err != nil {
		return fmt.Errorf("failed to marshal failed message: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(fm.ID), data, r.ttl)
		pipe.ZAdd(ctx, pendingKey(fm.Consumer), redis.Z{
			Score:  float64(fm.CreatedAt.UnixMilli()),
			Member: fm.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add failed message: %w", err)
	}
	return nil
}

// Get retrieves a failed message by ID.
func (r *FailedMessageRepo) Get(ctx context.Context, id string) (*domain.FailedMessage, error) {
	data, err := r.rdb.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrFailedMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed message: %w", err)
	}

	var fm domain.FailedMessage
	if err := json.Unmarshal(data, &fm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed message: %w", err)
	}
	return &fm, nil
}

// ListPending returns pending records, oldest first.
func (r *FailedMessageRepo) ListPending(
	ctx context.Context,
	consumer string,
	limit int,
) ([]*domain.FailedMessage, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.rdb.ZRange(ctx, pendingKey(consumer), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	out := make([]*domain.FailedMessage, 0, len(ids))
	for _, id := range ids {
		fm, err := r.Get(ctx, id)
		if errors.Is(err, storage.ErrFailedMessageNotFound) {
			// Record expired but ID still indexed, drop it
			r.rdb.ZRem(ctx, pendingKey(consumer), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, fm)
	}
	return out, nil
}

// MarkResolved flags the record resolved and removes it from the pending index.
func (r *FailedMessageRepo) MarkResolved(ctx context.Context, id string) error {
	fm, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	fm.Status = domain.FailedMessageStatusResolved
	fm.ResolvedAt = &now

	data, err := json.Marshal(fm)
	if err != nil {
		return fmt.Errorf("failed to marshal failed message: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(id), data, r.ttl)
		pipe.ZRem(ctx, pendingKey(fm.Consumer), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to resolve failed message: %w", err)
	}
	return nil
}

// Count returns the number of pending records of a consumer.
func (r *FailedMessageRepo) Count(ctx context.Context, consumer string) (int, error) {
	count, err := r.rdb.ZCard(ctx, pendingKey(consumer)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
