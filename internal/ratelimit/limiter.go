package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Config holds the per-vendor request rate settings
type Config struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Limiter throttles outbound requests per vendor so syncs stay inside
// marketplace quotas instead of bouncing off 429s. Purely local: each
// invocation is request-scoped, so a distributed limiter would add a
// dependency without a correctness gain.
type Limiter struct {
	limiters map[string]*rate.Limiter
}

// NewLimiter creates a limiter for the configured vendors
func NewLimiter(vendors map[string]Config) *Limiter {
	limiters := make(map[string]*rate.Limiter, len(vendors))
	for name, cfg := range vendors {
		rps := cfg.RequestsPerSecond
		if rps <= 0 {
			rps = 1
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(rps)
			if burst < 1 {
				burst = 1
			}
		}
		limiters[name] = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Limiter{limiters: limiters}
}

// Wait blocks until the vendor's limiter grants a token or ctx is done.
// Unconfigured vendors pass through unthrottled.
func (l *Limiter) Wait(ctx context.Context, vendor string) error {
	if l == nil {
		return nil
	}
	limiter, ok := l.limiters[vendor]
	if !ok {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", vendor, err)
	}
	return nil
}
