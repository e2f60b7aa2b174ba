package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/resilient/internal/core/config"
	"github.com/vietddude/resilient/internal/health"
	"github.com/vietddude/resilient/internal/infra/redis"
	"github.com/vietddude/resilient/internal/infra/storage"
	"github.com/vietddude/resilient/internal/infra/storage/memory"
	"github.com/vietddude/resilient/internal/infra/storage/postgres"
	"github.com/vietddude/resilient/internal/metrics"
)

// DeadLetterStore is the configured dead-letter backend and the resources
// behind it.
type DeadLetterStore struct {
	// Repo is nil when dead-lettering is disabled.
	Repo   storage.FailedMessageRepository
	Checks map[string]health.Checker

	closers []func() error
}

// OpenDeadLetters opens the backend selected by cfg.DeadLetter.Backend.
// Postgres migrations are applied on open.
func OpenDeadLetters(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*DeadLetterStore, error) {
	s := &DeadLetterStore{Checks: make(map[string]health.Checker)}

	switch cfg.DeadLetter.Backend {
	case config.BackendNone:
		log.Info("Dead-letter storage disabled")

	case config.BackendMemory:
		s.Repo = memory.NewFailedMessageRepo()
		log.Info("Using memory dead-letter storage")

	case config.BackendRedis:
		client, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		s.Checks["redis"] = client
		s.Repo = redis.NewFailedMessageRepo(client, cfg.Redis.TTL)
		log.Info("Using Redis dead-letter storage")

	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		if err := metrics.RegisterDBStats(db.DB.DB, "resilient"); err != nil {
			log.Warn("Failed to register db stats collector", "error", err)
		}
		s.Checks["postgres"] = db
		s.Repo = postgres.NewFailedMessageRepo(db)
		log.Info("Using PostgreSQL dead-letter storage")

	default:
		return nil, fmt.Errorf("unknown dead_letter backend %q", cfg.DeadLetter.Backend)
	}
	return s, nil
}

// Close releases the backend's connections.
func (s *DeadLetterStore) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
