package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesTotal tracks settled messages per consumer and disposition
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_messages_total",
			Help: "Total number of messages settled",
		},
		[]string{"consumer", "disposition"},
	)

	// FailuresTotal tracks handler failures by kind (permanent, exhausted, cancelled)
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_handler_failures_total",
			Help: "Total number of messages whose handler failed",
		},
		[]string{"consumer", "kind"},
	)

	// HandlerAttempts tracks how many attempts a message needed
	HandlerAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilient_handler_attempts",
			Help:    "Handler attempts per message",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"consumer"},
	)

	// HandlingLatency tracks time from first attempt to settle
	HandlingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilient_handling_latency_seconds",
			Help:    "Message handling latency in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"consumer"},
	)

	// RetryWaits tracks backoff waits scheduled between attempts
	RetryWaits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilient_retry_wait_seconds",
			Help:    "Backoff wait before a retry in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"consumer", "scope"},
	)

	// ConsumerState is 1 for the current lifecycle state of a consumer, 0 otherwise
	ConsumerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilient_consumer_state",
			Help: "Current consumer lifecycle state",
		},
		[]string{"consumer", "state"},
	)

	// DeadLetters tracks rejected messages handed to the dead-letter store
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_dead_letters_total",
			Help: "Total number of messages dead-lettered",
		},
		[]string{"consumer"},
	)

	// DeadLettersPending tracks unresolved dead letters as last counted
	DeadLettersPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilient_dead_letters_pending",
			Help: "Pending dead-lettered messages",
		},
		[]string{"consumer"},
	)

	// PublishesTotal tracks publish results
	PublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_publishes_total",
			Help: "Total number of publish attempts by result",
		},
		[]string{"exchange", "result"},
	)
)
