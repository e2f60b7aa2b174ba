package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakePruneRepo struct {
	thresholds []time.Time
	err        error
}

func (f *fakePruneRepo) DeleteResolvedOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	f.thresholds = append(f.thresholds, threshold)
	return 1, f.err
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPruner_Prune(t *testing.T) {
	repo := &fakePruneRepo{}
	p := NewPruner(24*time.Hour, repo, quiet())
	now := time.Unix(1_700_000_000, 0)
	p.now = func() time.Time { return now }

	p.prune(context.Background())

	if len(repo.thresholds) != 1 || !repo.thresholds[0].Equal(now.Add(-24*time.Hour)) {
		t.Errorf("thresholds = %v", repo.thresholds)
	}
}

func TestPruner_PruneErrorIsLogged(t *testing.T) {
	repo := &fakePruneRepo{err: errors.New("connection refused")}
	NewPruner(time.Hour, repo, quiet()).prune(context.Background())
	if len(repo.thresholds) != 1 {
		t.Errorf("prune calls = %d", len(repo.thresholds))
	}
}

func TestPruner_Start(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		repo := &fakePruneRepo{}
		NewPruner(0, repo, quiet()).Start(context.Background())
		if len(repo.thresholds) != 0 {
			t.Errorf("disabled pruner ran %d times", len(repo.thresholds))
		}
	})

	t.Run("prunes on start then stops", func(t *testing.T) {
		repo := &fakePruneRepo{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		// The initial prune runs before the loop checks ctx.
		NewPruner(time.Hour, repo, quiet()).Start(ctx)
		if len(repo.thresholds) != 1 {
			t.Errorf("prune calls = %d, want 1", len(repo.thresholds))
		}
	})
}
