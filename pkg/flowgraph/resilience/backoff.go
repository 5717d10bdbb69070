// Package resilience wraps calls to external dependencies with retry,
// backoff, circuit breaking, and a rate floor.
//
// A Handler is created per dependency (research, chat, tts, tracing) and
// shared by every stage that talks to it. Each attempt is reported to the
// handler's observers so breaker transitions and retry counts can be
// surfaced as metrics.
package resilience

import (
	"math"
	"time"
)

// Strategy selects how the delay between attempts grows.
type Strategy string

const (
	// StrategyImmediate retries with no delay.
	StrategyImmediate Strategy = "immediate"

	// StrategyFixed waits Base between every attempt.
	StrategyFixed Strategy = "fixed"

	// StrategyLinear waits Base * n before retry n.
	StrategyLinear Strategy = "linear"

	// StrategyExponential waits Base * Factor^(n-1) before retry n.
	StrategyExponential Strategy = "exponential"
)

// Backoff computes the delay before a retry.
type Backoff struct {
	// Strategy selects the growth curve.
	Strategy Strategy

	// Base is the starting delay.
	Base time.Duration

	// Max caps every delay. Zero means uncapped.
	Max time.Duration

	// Factor is the exponential multiplier. Defaults to 2.
	Factor float64

	// Jitter is the symmetric jitter fraction (0.0-1.0).
	Jitter float64
}

// DefaultBackoff is exponential from one second up to thirty.
var DefaultBackoff = Backoff{
	Strategy: StrategyExponential,
	Base:     time.Second,
	Max:      30 * time.Second,
	Factor:   2.0,
	Jitter:   0.1,
}

// Delay returns the wait before retry n (1-based). rnd returns a value in
// [0, 1); it is only consulted when Jitter is positive.
func (b Backoff) Delay(n int, rnd func() float64) time.Duration {
	if n < 1 {
		n = 1
	}

	var d float64
	switch b.Strategy {
	case StrategyImmediate:
		return 0
	case StrategyFixed:
		d = float64(b.Base)
	case StrategyLinear:
		d = float64(b.Base) * float64(n)
	default:
		factor := b.Factor
		if factor <= 0 {
			factor = 2.0
		}
		d = float64(b.Base) * math.Pow(factor, float64(n-1))
	}

	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 && rnd != nil {
		// base +/- (base * jitter * random)
		d += d * b.Jitter * (rnd()*2 - 1)
	}

	if d < 0 {
		d = 0
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}
