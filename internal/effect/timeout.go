package effect

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is wrapped by the error WithTimeout returns when the deadline
// wins the race.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout races op against a timer of length d.
//
// If op settles first its result is returned as-is. If the timer fires first
// an error wrapping ErrTimeout is returned, op's context is cancelled and op
// is abandoned: nobody waits for it and its eventual result is dropped. A
// result that is already settled when the timer fires still wins. If ctx is
// cancelled first, ctx.Err() is returned. d <= 0 disables the timer.
func WithTimeout[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so an abandoned op can still complete its send and exit.
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("operation panicked: %v", rec)}
			}
		}()
		v, err := op(opCtx)
		ch <- result{v: v, err: err}
	}()

	var expired <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}

	var zero T
	select {
	case r := <-ch:
		return r.v, r.err
	case <-expired:
		select {
		case r := <-ch:
			return r.v, r.err
		default:
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
