// Package retry runs fixed-count, fixed-delay retries for reads that race
// their own write path.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrEmpty marks a successful read that returned nothing yet.
var ErrEmpty = errors.New("retry: no rows yet")

// Policy is a fixed retry budget.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	// Delay is the pause between attempts.
	Delay time.Duration
}

// Validate rejects a budget that would never call op.
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry: attempts must be at least 1, got %d", p.Attempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("retry: delay cannot be negative: %s", p.Delay)
	}
	return nil
}

// Notify is called after each failed attempt that will be retried.
type Notify func(attempt int, err error)

// Do calls op until it succeeds, returns a permanent error, ctx ends or the
// budget is spent. The last error is returned on exhaustion.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), notify Notify) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	attempt := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(p.Attempts)),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, _ time.Duration) {
			notify(attempt, err)
		}))
	}

	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		return op(ctx)
	}, opts...)
}

// NonEmpty retries while op returns zero items. On exhaustion it returns the
// empty slice and ErrEmpty.
func NonEmpty[T any](ctx context.Context, p Policy, op func(context.Context) ([]T, error), notify Notify) ([]T, error) {
	return Do(ctx, p, func(ctx context.Context) ([]T, error) {
		items, err := op(ctx)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return items, ErrEmpty
		}
		return items, nil
	}, notify)
}

// Permanent stops retrying and returns err as is.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
