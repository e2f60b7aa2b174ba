package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/resilient/internal/consumer"
	"github.com/vietddude/resilient/internal/infra/storage"
	"github.com/vietddude/resilient/internal/metrics"
)

// StateSource reports the lifecycle state of a consumer.
type StateSource interface {
	Name() string
	State() consumer.State
}

// Checker probes a dependency; a nil error means healthy.
type Checker interface {
	Health(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

// Health calls fn(ctx).
func (fn CheckFunc) Health(ctx context.Context) error { return fn(ctx) }

// Monitor aggregates health status from the consumer and its dependencies.
type Monitor struct {
	consumer    StateSource
	deadLetters storage.FailedMessageRepository
	checks      map[string]Checker
	interval    time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	components map[string]ComponentHealth
	pending    int
}

// NewMonitor creates a new health monitor. Dependency probes and the
// dead-letter count are refreshed at most once per interval; the consumer
// state is always read live. deadLetters may be nil.
func NewMonitor(
	c StateSource,
	deadLetters storage.FailedMessageRepository,
	checks map[string]Checker,
	interval time.Duration,
) *Monitor {
	return &Monitor{
		consumer:    c,
		deadLetters: deadLetters,
		checks:      checks,
		interval:    interval,
	}
}

// CheckHealth builds a health report.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.components == nil || time.Since(m.lastCheck) >= m.interval {
		m.refresh(ctx)
	}

	state := m.consumer.State()
	ch := ConsumerHealth{
		Name:               m.consumer.Name(),
		Status:             consumerStatus(state),
		State:              state.String(),
		DeadLettersPending: m.pending,
	}
	if ch.Status == StatusHealthy && m.pending > 0 {
		ch.Status = StatusDegraded
	}

	report := HealthReport{
		SystemStatus: ch.Status,
		Consumer:     ch,
		Components:   m.components,
	}
	for _, c := range m.components {
		report.SystemStatus = worst(report.SystemStatus, c.Status)
	}
	return report
}

func (m *Monitor) refresh(ctx context.Context) {
	components := make(map[string]ComponentHealth, len(m.checks))
	for name, c := range m.checks {
		h := ComponentHealth{Status: StatusHealthy}
		if err := c.Health(ctx); err != nil {
			// A dependency outage is recoverable, the supervisor reconnects.
			h.Status = StatusDegraded
			h.Error = err.Error()
		}
		components[name] = h
	}

	if m.deadLetters != nil {
		if n, err := m.deadLetters.Count(ctx, m.consumer.Name()); err == nil {
			m.pending = n
			metrics.DeadLettersPending.WithLabelValues(m.consumer.Name()).Set(float64(n))
		}
	}

	m.components = components
	m.lastCheck = time.Now()
}

func consumerStatus(s consumer.State) SystemStatus {
	switch s {
	case consumer.Running:
		return StatusHealthy
	case consumer.Fatal:
		return StatusCritical
	default:
		return StatusDegraded
	}
}
