package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/resilient/internal/infra/storage"
)

// Pruner deletes resolved dead letters based on a retention period.
type Pruner struct {
	retention time.Duration
	repo      storage.FailedMessagePruner
	log       *slog.Logger
	now       func() time.Time
}

// NewPruner creates a new Pruner worker. A nil logger means slog.Default().
func NewPruner(retention time.Duration, repo storage.FailedMessagePruner, log *slog.Logger) *Pruner {
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{
		retention: retention,
		repo:      repo,
		log:       log,
		now:       time.Now,
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check every 10% of the retention period, between 1 minute and 1 hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	threshold := p.now().Add(-p.retention)

	n, err := p.repo.DeleteResolvedOlderThan(ctx, threshold)
	if err != nil {
		p.log.Error("Failed to prune dead letters", "error", err)
		return
	}
	if n > 0 {
		p.log.Info("Pruned resolved dead letters", "count", n, "older_than", threshold)
	}
}
