package iifl

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Clock abstracts time for the retry loop so backoff waits are testable and
// cancellable.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is cancelled, returning ctx.Err() in
	// the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy is the single backoff policy applied to authentication and
// idempotent reads. Mutating calls are never retried automatically.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts, including the first
	BaseDelay   time.Duration // Delay before the second attempt
	Multiplier  float64       // Exponential growth factor
	MaxDelay    time.Duration // Upper bound on any single wait
	Jitter      float64       // Fraction of the delay added randomly [0..1]
}

// DefaultRetryPolicy returns the standard broker retry policy:
// 3 attempts, 1s base, x2 growth, 30s cap, 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// Delay returns the wait before the next attempt. failures is the number of
// failed attempts so far (1 after the first failure). A positive hint
// (server-supplied Retry-After) overrides the computed backoff, still capped.
func (p RetryPolicy) Delay(failures int, hint time.Duration) time.Duration {
	if hint > 0 {
		if hint > p.MaxDelay {
			return p.MaxDelay
		}
		return hint
	}

	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(failures-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}
