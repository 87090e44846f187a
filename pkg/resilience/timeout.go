package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout runs fn on the calling goroutine under a context that expires
// after timeout, and only returns once fn has. The caller therefore owns the
// work until it has actually stopped; fn is expected to notice the expired
// context and give up.
//
// A nil result from fn is returned as is, even if the deadline passed while
// it was finishing: the work completed. An error returned after the deadline
// fired wraps both context.DeadlineExceeded and fn's own error.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(timeoutCtx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: limit %v: %w", name, timeout, err)
		}
		return fmt.Errorf("%s: %w (limit: %v): %w", name, context.DeadlineExceeded, timeout, err)
	}
	return err
}

// Expired reports whether err came from a WithTimeout deadline rather than
// from the caller's own context.
func Expired(ctx context.Context, err error) bool {
	return ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded)
}
