package db

import (
	"context"
	"time"

	"github.com/odyssey-erp/stockops/internal/shared"
)

// RetryPolicy bounds how often a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is used when the caller passes a zero policy.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 25 * time.Millisecond}

// maxBackoffShift caps exponential growth at 64x the base backoff.
const maxBackoffShift = 6

// Retry runs fn until it succeeds, fails with a non-retryable error or the
// attempt budget is spent. Exhaustion yields *shared.ConflictError.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if policy.Backoff <= 0 {
		policy.Backoff = DefaultRetryPolicy.Backoff
	}
	var last error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		last = err
		if attempt == policy.MaxAttempts {
			break
		}
		wait := policy.Backoff << min(attempt-1, maxBackoffShift)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return &shared.ConflictError{Attempts: policy.MaxAttempts, RetryAfter: policy.Backoff, Err: last}
}
