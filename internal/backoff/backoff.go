// Package backoff provides exponential backoff with jitter for provider
// attempt retries.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the backoff before the second try.
	Initial time.Duration
	// Max caps the computed backoff.
	Max time.Duration
	// Factor is the multiplier applied per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0).
	Jitter float64
}

// ForProvider returns the policy used for model provider retries, seeded
// by the configured initial backoff (reliability.provider_backoff_ms).
func ForProvider(initial time.Duration) Policy {
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	return Policy{
		Initial: initial,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay computes the backoff duration before the given attempt. Attempts
// are 1-indexed; Delay(p, 1) is the wait after the first failure.
func Delay(p Policy, attempt int) time.Duration {
	return delayWithRand(p, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func delayWithRand(p Policy, attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	base := float64(p.Initial) * math.Pow(factor, exp)
	jitter := base * p.Jitter * random
	total := base + jitter
	if max := float64(p.Max); p.Max > 0 && total > max {
		total = max
	}
	return time.Duration(total)
}

// Sleep waits for the duration or until the context is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepAttempt computes the delay for attempt and sleeps it off, honoring
// context cancellation.
func SleepAttempt(ctx context.Context, p Policy, attempt int) error {
	return Sleep(ctx, Delay(p, attempt))
}
