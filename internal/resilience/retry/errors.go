package retry

import (
	"errors"
	"fmt"
)

// Kind tells why a retry loop gave up.
type Kind int

const (
	// KindPermanent: the operation failed with an error classified as permanent.
	KindPermanent Kind = iota
	// KindExhausted: the policy's attempt or time budget was consumed.
	KindExhausted
	// KindCancelled: shutdown was requested while the loop was waiting.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindPermanent:
		return "permanent"
	case KindExhausted:
		return "exhausted"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrCancelled is matched by errors.Is against any cancelled *Error.
var ErrCancelled = errors.New("retry cancelled")

// Error is the terminal failure of a retry loop.
type Error struct {
	Kind     Kind
	Attempts int
	// Err is the last operation error. It is nil when cancellation came
	// before any attempt failed.
	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindCancelled:
		if e.Err != nil {
			return fmt.Sprintf("retry cancelled after %d attempts: %v", e.Attempts, e.Err)
		}
		return fmt.Sprintf("retry cancelled after %d attempts", e.Attempts)
	case KindExhausted:
		return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
	default:
		return fmt.Sprintf("permanent failure on attempt %d: %v", e.Attempts, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCancelled) recognise cancellations.
func (e *Error) Is(target error) bool {
	return target == ErrCancelled && e.Kind == KindCancelled
}

// KindOf extracts the Kind of a retry error.
func KindOf(err error) (Kind, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind, true
	}
	return 0, false
}

// IsPermanent reports whether err ended a retry loop with a permanent failure.
func IsPermanent(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindPermanent
}

// IsExhausted reports whether err ended a retry loop by consuming its budget.
func IsExhausted(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindExhausted
}

// IsCancelled reports whether err ended a retry loop by cancellation.
func IsCancelled(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindCancelled
}
