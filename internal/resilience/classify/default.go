package classify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

var defaultClassifier = New(Transient, DefaultRules()...)

// Default returns the general-purpose classifier: network, timeout and
// connection-reset shaped errors are transient; validation, authorization and
// malformed-payload errors are permanent; anything unrecognised is transient.
func Default() Classifier {
	return defaultClassifier
}

// DefaultRules returns the rules behind Default, in evaluation order.
// Domain classifiers prepend their own rules to this list.
func DefaultRules() []Rule {
	return []Rule{MarkerRule, ContextRule, NetworkRule, PayloadRule, MessageRule}
}

// ContextRule classifies context errors. A deadline is a timeout and worth
// retrying; an explicit cancellation is not.
func ContextRule(err error) (Class, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Transient, true
	case errors.Is(err, context.Canceled):
		return Permanent, true
	}
	return Transient, false
}

// NetworkRule classifies socket level failures as transient.
func NetworkRule(err error) (Class, bool) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient, true
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return Transient, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient, true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Transient, true
	}
	return Transient, false
}

// PayloadRule classifies decoding failures as permanent.
func PayloadRule(err error) (Class, bool) {
	var (
		syntaxErr  *json.SyntaxError
		typeErr    *json.UnmarshalTypeError
		invalidErr *json.InvalidUnmarshalError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.As(err, &invalidErr) {
		return Permanent, true
	}
	return Transient, false
}

// MessageRule falls back to matching well known fragments of the error text.
func MessageRule(err error) (Class, bool) {
	s := err.Error()
	lower := strings.ToLower(s)

	// -32700: Parse error, -32600: Invalid Request, -32601: Method not found, -32602: Invalid params
	if strings.Contains(s, "-32700") || strings.Contains(s, "-32600") ||
		strings.Contains(s, "-32601") || strings.Contains(s, "-32602") {
		return Permanent, true
	}

	if strings.Contains(lower, "unauthorized") || strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "permission denied") || strings.Contains(lower, "malformed") ||
		strings.Contains(lower, "invalid") {
		return Permanent, true
	}

	if strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "connection reset") || strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "temporarily unavailable") || strings.Contains(lower, "broken pipe") ||
		strings.Contains(s, "429") || strings.Contains(lower, "too many requests") ||
		strings.Contains(s, "503") || strings.Contains(lower, "rate limit") {
		return Transient, true
	}

	return Transient, false
}
