package amqp

import (
	"errors"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/vietddude/resilient/internal/resilience/classify"
)

// Rule classifies broker errors. Connection and resource failures are
// transient; protocol, permission and missing-entity errors are permanent.
// Codes it does not know fall back to the error's Recover flag.
func Rule(err error) (classify.Class, bool) {
	if errors.Is(err, ErrNotConnected) {
		return classify.Transient, true
	}

	var amqpErr *amqp091.Error
	if !errors.As(err, &amqpErr) {
		return classify.Transient, false
	}

	switch amqpErr.Code {
	case amqp091.ConnectionForced,
		amqp091.ChannelError,
		amqp091.ResourceLocked,
		amqp091.ResourceError,
		amqp091.InternalError:
		return classify.Transient, true
	case amqp091.AccessRefused,
		amqp091.NotFound,
		amqp091.PreconditionFailed,
		amqp091.InvalidPath,
		amqp091.FrameError,
		amqp091.SyntaxError,
		amqp091.CommandInvalid,
		amqp091.UnexpectedFrame,
		amqp091.NotAllowed,
		amqp091.NotImplemented,
		amqp091.ContentTooLarge:
		return classify.Permanent, true
	}

	if amqpErr.Recover {
		return classify.Transient, true
	}
	return classify.Permanent, true
}

// Classifier returns Rule layered over the default rules.
func Classifier() classify.Classifier {
	rules := append([]classify.Rule{classify.MarkerRule, Rule}, classify.DefaultRules()...)
	return classify.New(classify.Transient, rules...)
}
