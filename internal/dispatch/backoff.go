package dispatch

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes bounded exponential retry delays.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64
	Jitter bool
}

// DefaultBackoff bounds provider retries: base 500ms, doubled per attempt,
// capped at 5s.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   500 * time.Millisecond,
		Cap:    5 * time.Second,
		Factor: 2.0,
		Jitter: true,
	}
}

// Delay returns the pause before retrying after the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 || attempt < 1 {
		return 0
	}
	factor := b.Factor
	if factor < 1.0 {
		factor = 1.0
	}
	delay := float64(b.Base) * math.Pow(factor, float64(attempt-1))
	if b.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	// Cap applies after jitter so the pause never exceeds it.
	if b.Cap > 0 && delay > float64(b.Cap) {
		delay = float64(b.Cap)
	}
	return time.Duration(delay)
}
