package resilience

import (
	"context"
	"fmt"
	"time"
)

// Call runs fn under a deadline of d and returns its result. When the
// deadline passes first, Call returns context.DeadlineExceeded without
// waiting for fn; fn still sees its context cancelled. d <= 0 means no
// deadline.
func Call[T any](ctx context.Context, d time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-callCtx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", name, ctx.Err())
		}
		return zero, fmt.Errorf("%s: %w (limit %v)", name, context.DeadlineExceeded, d)
	}
}
