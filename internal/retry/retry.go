// Package retry computes retry delays for failed sessions, using
// cenkalti/backoff/v4's exponential-backoff-with-jitter algorithm
// reconfigured per failure category.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/adaharness/ada/internal/classify"
)

// CategoryPolicy configures the exponential backoff curve for one failure
// category.
type CategoryPolicy struct {
	BaseDelay       time.Duration
	ExponentialBase float64
	MaxDelay        time.Duration
	Jitter          float64 // randomization factor, e.g. 0.1 for ±10%
}

// Policy holds the per-category retry configuration and the maximum number
// of attempts allowed per feature.
type Policy struct {
	ByCategory map[classify.Category]CategoryPolicy
	MaxRetries int
}

// DefaultPolicy matches spec §4.6: base=5s, exponentialBase=2, maxDelay=300s,
// jitter=10%, except rate_limit which uses a longer 30s base; maxRetries=3.
func DefaultPolicy() Policy {
	standard := CategoryPolicy{
		BaseDelay:       5 * time.Second,
		ExponentialBase: 2,
		MaxDelay:        300 * time.Second,
		Jitter:          0.10,
	}
	rateLimit := standard
	rateLimit.BaseDelay = 30 * time.Second

	return Policy{
		MaxRetries: 3,
		ByCategory: map[classify.Category]CategoryPolicy{
			classify.Transient:  standard,
			classify.RateLimit:  rateLimit,
			classify.AgentCrash: standard,
			classify.Timeout:    standard,
			classify.Tooling:    standard,
			classify.Unknown:    standard,
		},
	}
}

// Delay returns a single sampled retry delay for the given 0-indexed retry
// attempt and failure category. Categories with no configured policy (e.g.
// billing, auth, which are non-retryable) return 0.
func (p Policy) Delay(attempt int, category classify.Category) time.Duration {
	cp, ok := p.ByCategory[category]
	if !ok {
		return 0
	}
	return cp.sample(attempt)
}

// sample advances a freshly configured exponential backoff attempt+1 times
// and returns the final (already-jittered) interval, matching
// backoff.ExponentialBackOff's own formula:
// min(maxDelay, base*exponentialBase^n) * (1 ± jitter).
func (cp CategoryPolicy) sample(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cp.BaseDelay
	b.MaxInterval = cp.MaxDelay
	b.Multiplier = cp.ExponentialBase
	b.RandomizationFactor = cp.Jitter
	b.MaxElapsedTime = 0 // never expire based on elapsed time; maxRetries caps attempts
	b.Reset()

	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Bounds returns the theoretical [min, max] interval for a given attempt
// under this category's policy, ignoring jitter's random sample — used by
// tests to assert Delay always falls within range.
func (cp CategoryPolicy) Bounds(attempt int) (min, max time.Duration) {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(cp.BaseDelay)
	for i := 0; i < attempt; i++ {
		base *= cp.ExponentialBase
	}
	capped := base
	if maxF := float64(cp.MaxDelay); capped > maxF {
		capped = maxF
	}
	delta := capped * cp.Jitter
	lo := capped - delta
	hi := capped + delta
	if lo < 0 {
		lo = 0
	}
	return time.Duration(lo), time.Duration(hi)
}

// Bounds exposes the category's configured bounds for attempt, or
// (0, 0) if the category has no policy.
func (p Policy) Bounds(attempt int, category classify.Category) (min, max time.Duration) {
	cp, ok := p.ByCategory[category]
	if !ok {
		return 0, 0
	}
	return cp.Bounds(attempt)
}

// Clock abstracts time so the scheduler's retry wait can be faked in tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the real wall-clock implementation.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
