// Package retry implements a shared bounded-retry policy with exponential
// backoff and jitter. It is used for idempotent external calls (bridge status
// polling, price fetches); non-idempotent operations such as transaction
// submission must not be retried through it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy bounds retries of a failing operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter scales the random spread applied to each delay. 0.3 means the
	// actual delay is drawn from [0.7d, 1.3d].
	Jitter float64
}

// Default is the policy used for bridge and oracle calls.
var Default = Policy{
	MaxAttempts: 5,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
	Jitter:      0.3,
}

// permanentError marks an error Do must not retry.
type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: Do returns it immediately, unwrapped,
// instead of burning the remaining attempts. Used for definitive failures
// such as a 404 on a resource that will not appear.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do runs op until it succeeds, returns a permanent error, the attempt budget
// is exhausted, or ctx is cancelled. The last error is returned wrapped with
// the attempt count.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.delay(attempt)):
			}
		}

		if lastErr = op(); lastErr == nil {
			return nil
		}
		var pe permanentError
		if errors.As(lastErr, &pe) {
			return pe.err
		}
	}
	return fmt.Errorf("retry: %d attempts exhausted: %w", attempts, lastErr)
}

// delay computes the backoff before the given attempt (1-based for the first
// retry). Exponential doubling from BaseDelay, capped at MaxDelay, then
// jittered.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.Jitter > 0 {
		spread := 1 - p.Jitter + 2*p.Jitter*rand.Float64()
		d = time.Duration(float64(d) * spread)
	}
	return d
}
