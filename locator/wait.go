package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultTimeout      = 5 * time.Second
)

// Condition is evaluated once per poll. Returning a Permanent error stops
// polling immediately; other errors are retried until the deadline.
type Condition func(ctx context.Context) (bool, error)

// Waiter polls a Condition at a fixed interval until it holds or the timeout
// elapses.
type Waiter struct {
	Interval time.Duration
	Timeout  time.Duration
}

// NewWaiter returns a Waiter, substituting defaults for non-positive values.
func NewWaiter(interval, timeout time.Duration) Waiter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return Waiter{Interval: interval, Timeout: timeout}
}

// WithTimeout returns a copy of w using timeout.
func (w Waiter) WithTimeout(timeout time.Duration) Waiter {
	return NewWaiter(w.Interval, timeout)
}

// For evaluates cond until it returns true. A condition that already holds
// returns without sleeping. When the timeout elapses For returns a
// *types.TimeoutError no later than one interval past the deadline.
func (w Waiter) For(ctx context.Context, op string, cond Condition) error {
	w = NewWaiter(w.Interval, w.Timeout)
	deadline := time.Now().Add(w.Timeout)
	pollCtx, cancel := context.WithDeadline(ctx, deadline.Add(w.Interval))
	defer cancel()

	var lastErr error
	for {
		ok, err := cond(pollCtx)
		if err == nil && ok {
			return nil
		}
		if ctx.Err() != nil {
			return contextError(op, ctx)
		}
		if err != nil {
			if Permanent(err) {
				return err
			}
			lastErr = err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &types.TimeoutError{Op: op, Err: lastErr}
		}
		timer := time.NewTimer(min(w.Interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return contextError(op, ctx)
		case <-timer.C:
		}
	}
}

func contextError(op string, ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &types.TimeoutError{Op: op, Err: context.Cause(ctx)}
	}
	return fmt.Errorf("%s: %w", op, context.Cause(ctx))
}
