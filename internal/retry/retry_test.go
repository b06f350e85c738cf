package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/adaharness/ada/internal/classify"
)

func TestDelay_WithinBounds(t *testing.T) {
	p := DefaultPolicy()
	for attempt := 0; attempt < 6; attempt++ {
		for _, cat := range []classify.Category{classify.Transient, classify.RateLimit, classify.AgentCrash, classify.Timeout, classify.Tooling, classify.Unknown} {
			lo, hi := p.Bounds(attempt, cat)
			d := p.Delay(attempt, cat)
			assert.GreaterOrEqualf(t, d, lo, "attempt=%d category=%s delay=%s below lower bound %s", attempt, cat, d, lo)
			assert.LessOrEqualf(t, d, hi, "attempt=%d category=%s delay=%s above upper bound %s", attempt, cat, d, hi)
		}
	}
}

func TestDelay_RateLimitUsesLongerBase(t *testing.T) {
	p := DefaultPolicy()
	loStandard, hiStandard := p.Bounds(0, classify.Transient)
	loRL, hiRL := p.Bounds(0, classify.RateLimit)
	assert.Greater(t, loRL, loStandard)
	assert.Greater(t, hiRL, hiStandard)
}

func TestDelay_RespectsMaxDelayCap(t *testing.T) {
	p := DefaultPolicy()
	// At a large attempt count, the exponential curve must have saturated
	// at MaxDelay (plus jitter), not grown unbounded.
	_, hi := p.Bounds(20, classify.Transient)
	cp := p.ByCategory[classify.Transient]
	assert.LessOrEqual(t, hi, cp.MaxDelay+time.Duration(float64(cp.MaxDelay)*cp.Jitter)+1)
}

func TestDelay_NonRetryableCategoryIsZero(t *testing.T) {
	p := DefaultPolicy()
	assert.Zero(t, p.Delay(0, classify.Billing))
	assert.Zero(t, p.Delay(0, classify.Auth))
}

func TestDelay_MonotonicAcrossAttempts(t *testing.T) {
	p := DefaultPolicy()
	_, hiFirst := p.Bounds(0, classify.Transient)
	_, hiSecond := p.Bounds(1, classify.Transient)
	assert.Greater(t, hiSecond, hiFirst)
}
