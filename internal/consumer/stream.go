package consumer

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamEnded is returned by Stream.Next once the stream is exhausted.
var ErrStreamEnded = errors.New("consumer: stream ended")

// Stream is a lazy, non-restartable sequence of messages owned by a single
// consumer. Next blocks until a message arrives, the stream ends
// (ErrStreamEnded), it fails, or ctx is done (ctx.Err()).
type Stream interface {
	Next(ctx context.Context) (*Message, error)
	Close() error
}

// Dialer establishes a new stream. The supervisor calls it on every (re)connect.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Stream, error)

// Dial calls fn(ctx).
func (fn DialerFunc) Dial(ctx context.Context) (Stream, error) {
	return fn(ctx)
}

// ChanStream adapts channels to a Stream. A closed message channel ends the
// stream; a non-nil value on errs fails it. Closing errs only stops watching
// it, so messages already buffered are still delivered.
type ChanStream struct {
	msgs <-chan *Message
	errs <-chan error

	closeOnce sync.Once
	closed    chan struct{}
}

// NewChanStream creates a ChanStream. errs may be nil.
func NewChanStream(msgs <-chan *Message, errs <-chan error) *ChanStream {
	return &ChanStream{msgs: msgs, errs: errs, closed: make(chan struct{})}
}

// Next implements Stream.
func (s *ChanStream) Next(ctx context.Context) (*Message, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, ErrStreamEnded
		case err, ok := <-s.errs:
			if !ok {
				s.errs = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		case msg, ok := <-s.msgs:
			if !ok {
				return nil, ErrStreamEnded
			}
			return msg, nil
		}
	}
}

// Close implements Stream.
func (s *ChanStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
