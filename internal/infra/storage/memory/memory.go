package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/infra/storage"
)

// FailedMessageRepo is an in-process FailedMessageRepository.
type FailedMessageRepo struct {
	mu       sync.RWMutex
	messages map[string]*domain.FailedMessage
}

func NewFailedMessageRepo() *FailedMessageRepo {
	return &FailedMessageRepo{
		messages: make(map[string]*domain.FailedMessage),
	}
}

func (r *FailedMessageRepo) Add(ctx context.Context, fm *domain.FailedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fm.ID == "" {
		fm.ID = uuid.NewString()
	}
	if fm.Status == "" {
		fm.Status = domain.FailedMessageStatusPending
	}
	if fm.CreatedAt.IsZero() {
		fm.CreatedAt = time.Now()
	}
	cp := *fm
	r.messages[fm.ID] = &cp
	return nil
}

func (r *FailedMessageRepo) Get(ctx context.Context, id string) (*domain.FailedMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fm, ok := r.messages[id]
	if !ok {
		return nil, storage.ErrFailedMessageNotFound
	}
	cp := *fm
	return &cp, nil
}

func (r *FailedMessageRepo) ListPending(
	ctx context.Context,
	consumer string,
	limit int,
) ([]*domain.FailedMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.FailedMessage
	for _, fm := range r.messages {
		if fm.Consumer == consumer && fm.Status == domain.FailedMessageStatusPending {
			cp := *fm
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *FailedMessageRepo) MarkResolved(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fm, ok := r.messages[id]
	if !ok {
		return storage.ErrFailedMessageNotFound
	}
	now := time.Now()
	fm.Status = domain.FailedMessageStatusResolved
	fm.ResolvedAt = &now
	return nil
}

func (r *FailedMessageRepo) Count(ctx context.Context, consumer string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, fm := range r.messages {
		if fm.Consumer == consumer && fm.Status == domain.FailedMessageStatusPending {
			count++
		}
	}
	return count, nil
}

func (r *FailedMessageRepo) DeleteResolvedOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, fm := range r.messages {
		if fm.Status == domain.FailedMessageStatusResolved && fm.ResolvedAt != nil && fm.ResolvedAt.Before(threshold) {
			delete(r.messages, id)
			deleted++
		}
	}
	return deleted, nil
}
