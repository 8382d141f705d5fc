package routing

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy computes retry delays as min(initial * 2^(attempt-1), max).
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultBackoffPolicy matches the governor defaults: 1s doubling up to 32s.
var DefaultBackoffPolicy = BackoffPolicy{
	Initial: 1 * time.Second,
	Max:     32 * time.Second,
}

// maxJitter is the upper bound of added jitter as a fraction of the delay.
const maxJitter = 0.2

// NextDelay returns the wait before retry number attempt (1-based).
func (p BackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.Initial) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.Max) || math.IsInf(delay, 1) {
		delay = float64(p.Max)
	}

	if p.Jitter {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		delay += delay * maxJitter * r()
		if delay > float64(p.Max) {
			delay = float64(p.Max)
		}
	}

	return time.Duration(delay)
}
