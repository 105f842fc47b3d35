package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the reusable retry/backoff policy shared by every vendor adapter.
// Delays follow delay(n) = min(BaseDelay * Multiplier^n, MaxDelay) for the
// 0-indexed attempt n, with up to MaxRetries retries after the first attempt.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultPolicy mirrors the backoff parameters used across all three vendors
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// Delay returns the deterministic backoff delay for the 0-indexed attempt n
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if time.Duration(d) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// newBackOff builds a cenkalti backoff matching the policy with jitter
// disabled so delays stay within the documented bounds
func (p Policy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // bounded by retry count, not wall time

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
}

// Permanent marks an error as non-retryable under this policy
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op under the policy, retrying transient errors with exponential
// backoff and surfacing the last error once retries are exhausted
func (p Policy) Do(ctx context.Context, op func() error) error {
	return backoff.Retry(op, p.newBackOff(ctx))
}
