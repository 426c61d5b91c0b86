package delivery

import (
	"math/rand"
	"time"
)

// RetryPolicy decides how many attempts a delivery gets and how long to
// pause between them. The schedule is indexed by attempt number and the last
// entry caps the delay, so the computed backoff never decreases and never
// exceeds the final schedule entry.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
	JitterPct   float64 // +/- fraction applied to the base delay, 0 disables
}

// DefaultRetryPolicy matches the configuration defaults: three attempts with
// a short capped schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{500 * time.Millisecond, 2 * time.Second, 8 * time.Second},
		JitterPct:   0.25,
	}
}

// Delay returns the pause before the next attempt. attempt is 1-based: the
// delay after the first failed attempt is Delay(1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	base := p.Backoff[idx]
	if p.JitterPct <= 0 {
		return base
	}
	j := 1 + (rand.Float64()*2-1)*p.JitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(base) * j)
}

// Exhausted reports whether attempt consumed the whole budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
