package domain

import "time"

// FailedMessage is a message the consumer gave up on, kept for inspection
// and replay.
type FailedMessage struct {
	ID         string              `json:"id"`
	Consumer   string              `json:"consumer"`
	MessageID  string              `json:"message_id"`
	RoutingKey string              `json:"routing_key"`
	Body       []byte              `json:"body"`
	Headers    map[string]string   `json:"headers,omitempty"`
	Failure    FailureType         `json:"failure"`
	Error      string              `json:"error_msg"`
	Attempts   int                 `json:"attempts"`
	Status     FailedMessageStatus `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	ResolvedAt *time.Time          `json:"resolved_at,omitempty"`
}

type FailedMessageStatus string

const (
	FailedMessageStatusPending  FailedMessageStatus = "pending"
	FailedMessageStatusResolved FailedMessageStatus = "resolved"
)

type FailureType string

const (
	FailureTypePermanent FailureType = "permanent"
	FailureTypeExhausted FailureType = "exhausted"
)
