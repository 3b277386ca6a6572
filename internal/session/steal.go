package session

import (
	"context"
	"errors"
)

// ErrChannelClosed reports a steal against a session whose run loop has
// terminated. Callers must treat the session as gone: the closure may or
// may not have run, and no partial effect can be assumed.
var ErrChannelClosed = errors.New("session: channel closed")

// Steal runs f with exclusive access to the session's compiler state and
// returns its result. Closures for one session never interleave with each
// other or with the session's own recompiles. A package-level function
// because the result type is generic.
//
// Cancelling ctx abandons the wait, not the closure: once handed over, f
// still runs to completion so the compiler state stays consistent; the
// result is discarded.
func Steal[T any](ctx context.Context, s *Session, f func(*Service) T) (T, error) {
	var zero T
	reply := make(chan T, 1)
	select {
	case s.calls <- func(svc *Service) { reply <- f(svc) }:
	case <-s.done:
		return zero, ErrChannelClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.done:
		// The loop may have run the closure just before exiting.
		select {
		case v := <-reply:
			return v, nil
		default:
		}
		return zero, ErrChannelClosed
	}
}
