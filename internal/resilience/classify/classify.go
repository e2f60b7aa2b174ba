// Package classify labels operation failures as transient or permanent.
//
// Classification drives the retry executor: transient failures are retried
// under the backoff policy, permanent failures stop the loop immediately.
package classify

import (
	"errors"
)

// Class is the retry class of an error.
type Class int

const (
	// Transient failures are expected to succeed if retried.
	Transient Class = iota
	// Permanent failures recur identically on every retry.
	Permanent
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classifier determines the retry class of an error.
// Implementations must be pure and cheap, they run on every failed attempt.
type Classifier interface {
	Classify(err error) Class
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(err error) Class

// Classify calls fn(err).
func (fn ClassifierFunc) Classify(err error) Class {
	return fn(err)
}

// Rule recognises some error shapes. It reports false when it has no opinion.
type Rule func(err error) (Class, bool)

type ruleClassifier struct {
	rules    []Rule
	fallback Class
}

// New builds a classifier that evaluates rules in order. The first rule with
// an opinion wins, otherwise fallback is returned.
func New(fallback Class, rules ...Rule) Classifier {
	return &ruleClassifier{rules: rules, fallback: fallback}
}

func (c *ruleClassifier) Classify(err error) Class {
	for _, rule := range c.rules {
		if class, ok := rule(err); ok {
			return class
		}
	}
	return c.fallback
}

// markedError forces a class regardless of the wrapped error's shape.
type markedError struct {
	err   error
	class Class
}

func (e *markedError) Error() string {
	if e.err == nil {
		return e.class.String() + " error"
	}
	return e.err.Error()
}

func (e *markedError) Unwrap() error { return e.err }

// MarkPermanent marks err as permanent. Returns nil for a nil error.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, class: Permanent}
}

// MarkTransient marks err as transient. Returns nil for a nil error.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, class: Transient}
}

// MarkerRule honours errors wrapped with MarkPermanent or MarkTransient.
func MarkerRule(err error) (Class, bool) {
	var marked *markedError
	if errors.As(err, &marked) {
		return marked.class, true
	}
	return Transient, false
}

// IsPermanent reports whether err carries an explicit permanent marker.
func IsPermanent(err error) bool {
	class, ok := MarkerRule(err)
	return ok && class == Permanent
}
