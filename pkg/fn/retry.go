package fn

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy is an explicit retry budget: one initial attempt plus up to
// MaxRetries further attempts, separated by a fixed Delay.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetry allows two extra attempts two seconds apart.
var DefaultRetry = RetryPolicy{
	MaxRetries: 2,
	Delay:      2 * time.Second,
}

// Attempts returns the total number of attempts the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry stops on the first
// permanent failure and returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls f until it succeeds, fails permanently, or the policy is
// exhausted. The attempt number passed to f starts at 1. The returned Result
// holds the last failure when every attempt failed.
func Retry[T any](ctx context.Context, p RetryPolicy, f func(ctx context.Context, attempt int) Result[T]) Result[T] {
	var result Result[T]
	attempts := p.Attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		result = f(ctx, attempt)
		if result.IsOk() {
			return result
		}
		var perm *permanentError
		if errors.As(result.err, &perm) {
			return Err[T](perm.err)
		}
		if attempt == attempts {
			break
		}
		if err := Sleep(ctx, p.Delay); err != nil {
			return Err[T](err)
		}
	}
	return result
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
