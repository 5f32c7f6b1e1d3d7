// Package backoff provides retry delay strategies. A job's own
// RetryPolicy takes precedence; strategies here serve as the engine-wide
// default and as building blocks. All strategies are stateless and safe
// for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

// Strategy computes the delay before the next retry. attempt is the
// number of attempts completed so far (1 after the first failure).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential scales the delay geometrically:
// Delay = min(Initial * Multiplier^(attempt-1), Max).
type Exponential struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// NewExponential creates a doubling exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Multiplier: 2.0, Max: maxDelay}
}

// Delay returns Initial * Multiplier^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	mult := e.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := time.Duration(float64(e.Initial) * math.Pow(mult, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ExponentialWithJitter applies full jitter to an exponential base:
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
// Jitter prevents thundering herd when many retries land together.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// FromPolicy adapts a job.RetryPolicy into a Strategy, so policy-driven
// and strategy-driven call sites share one code path.
type FromPolicy struct {
	Policy job.RetryPolicy
}

// Delay applies the wrapped policy. The policy counts completed
// attempts from zero, so the strategy's 1-indexed attempt is shifted.
func (f *FromPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return f.Policy.Delay(attempt - 1)
}

// DefaultStrategy returns the engine default: exponential with full
// jitter, 1s initial and 1m max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 1*time.Minute)
}
