package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vietddude/resilient/internal/consumer"
)

var states = []consumer.State{
	consumer.Starting,
	consumer.Running,
	consumer.Draining,
	consumer.Stopped,
	consumer.Fatal,
}

// Sink records message outcomes into the package collectors.
type Sink struct{}

// NewSink creates a Sink.
func NewSink() *Sink { return &Sink{} }

// Record implements consumer.OutcomeSink.
func (Sink) Record(_ context.Context, o consumer.MessageOutcome) {
	MessagesTotal.WithLabelValues(o.Consumer, o.Disposition.String()).Inc()
	HandlerAttempts.WithLabelValues(o.Consumer).Observe(float64(o.Attempts))
	HandlingLatency.WithLabelValues(o.Consumer).Observe(o.Duration.Seconds())

	if o.Err != nil {
		FailuresTotal.WithLabelValues(o.Consumer, o.Failure.String()).Inc()
	}
	if o.Disposition == consumer.Rejected {
		DeadLetters.WithLabelValues(o.Consumer).Inc()
	}
}

// StateObserver returns a consumer.Config OnStateChange callback that keeps
// ConsumerState in sync.
func StateObserver(name string) func(consumer.State) {
	return func(s consumer.State) {
		for _, st := range states {
			v := 0.0
			if st == s {
				v = 1
			}
			ConsumerState.WithLabelValues(name, st.String()).Set(v)
		}
	}
}

// RetryNotify returns a retry notify callback observing backoff waits.
// scope is "handler" or "reconnect".
func RetryNotify(name, scope string) func(error, time.Duration) {
	return func(_ error, wait time.Duration) {
		RetryWaits.WithLabelValues(name, scope).Observe(wait.Seconds())
	}
}

// RegisterDBStats exposes connection pool statistics of db.
func RegisterDBStats(db *sql.DB, name string) error {
	return prometheus.Register(collectors.NewDBStatsCollector(db, name))
}
