package worker

import (
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before retry number attempt (0-based):
// Base*2^attempt stretched by up to Jitter of itself, capped at Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // 0..1

	rand func() float64
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Max: 10 * time.Minute, Jitter: 0.2}
}

func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		b.Base = time.Second
	}

	if b.Max <= 0 {
		b.Max = 10 * time.Minute
	}

	if attempt < 0 {
		attempt = 0
	}

	d := b.Base
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}

	if b.Jitter > 0 {
		r := b.rand
		if r == nil {
			r = rand.Float64
		}
		d += time.Duration(float64(d) * b.Jitter * r())
	}

	if d > b.Max {
		d = b.Max
	}
	return d
}
