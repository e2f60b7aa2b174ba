package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/resilient/internal/resilience/retry"
)

// State is the lifecycle state of a consumer run.
type State int32

const (
	Starting State = iota
	Running
	Draining
	Stopped
	Fatal
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transition can happen in this run.
func (s State) Terminal() bool {
	return s == Stopped || s == Fatal
}

// OutcomeKind is the terminal result of a consumer run.
type OutcomeKind int

const (
	// OutcomeStopped: shutdown was requested and the consumer drained.
	OutcomeStopped OutcomeKind = iota
	// OutcomeStreamEnded: the stream ran out of messages.
	OutcomeStreamEnded
	// OutcomeFatal: the stream failed and the consumer could not continue.
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeStopped:
		return "stopped"
	case OutcomeStreamEnded:
		return "stream_ended"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is reported once per consumer run.
type Outcome struct {
	Kind OutcomeKind
	// Err is set for OutcomeFatal only.
	Err error
	// Processed counts messages settled during the run.
	Processed int
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %v", o.Kind, o.Err)
	}
	return o.Kind.String()
}

// MessageOutcome describes how one message was handled.
type MessageOutcome struct {
	Consumer    string
	Message     *Message
	Disposition Disposition
	Attempts    int
	Duration    time.Duration
	// Err is the handler failure behind a Rejected or Requeued disposition.
	Err error
	// Failure is meaningful only when Err is non-nil.
	Failure retry.Kind
}

// OutcomeSink observes per-message outcomes. Record must not block for long;
// it runs on the consumer loop.
type OutcomeSink interface {
	Record(ctx context.Context, o MessageOutcome)
}

// SinkFunc adapts a function to OutcomeSink.
type SinkFunc func(ctx context.Context, o MessageOutcome)

// Record calls fn(ctx, o).
func (fn SinkFunc) Record(ctx context.Context, o MessageOutcome) {
	fn(ctx, o)
}

// MultiSink fans an outcome out to every sink in order.
type MultiSink []OutcomeSink

// Record implements OutcomeSink.
func (m MultiSink) Record(ctx context.Context, o MessageOutcome) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, o)
		}
	}
}

// LogSink logs failed outcomes at warn level and successes at debug level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger means slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Record implements OutcomeSink.
func (s *LogSink) Record(ctx context.Context, o MessageOutcome) {
	attrs := []any{
		"consumer", o.Consumer,
		"message_id", o.Message.ID,
		"routing_key", o.Message.RoutingKey,
		"disposition", o.Disposition.String(),
		"attempts", o.Attempts,
		"duration", o.Duration,
	}
	if o.Err == nil {
		s.logger.DebugContext(ctx, "Message handled", attrs...)
		return
	}
	attrs = append(attrs, "failure", o.Failure.String(), "error", o.Err)
	s.logger.WarnContext(ctx, "Failed to handle message", attrs...)
}
