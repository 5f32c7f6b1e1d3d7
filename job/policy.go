package job

import (
	"math"
	"time"
)

// RetryPolicy controls how many times a failed job is re-attempted and
// how long the engine waits between attempts.
type RetryPolicy struct {
	// MaxAttempts is the total execution budget, including the first
	// attempt. A job is never attempted more than this many times.
	MaxAttempts int `json:"max_attempts"`

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `json:"base_delay"`

	// Multiplier scales the delay for each subsequent retry.
	Multiplier float64 `json:"multiplier"`

	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay time.Duration `json:"max_delay"`
}

// DefaultRetryPolicy returns the engine default: 3 attempts, exponential
// 1s base doubling up to 1m.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    time.Minute,
	}
}

// Exhausted reports whether the given attempt count has consumed the
// policy's budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// Delay returns the backoff delay after the given number of completed
// attempts: BaseDelay * Multiplier^attempt, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
