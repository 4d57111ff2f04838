package session

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: exponential growth from Base capped at
// Max, with full jitter so a fleet of accounts dropped by one network event
// does not stampede the protocol engine. MaxAttempts zero means retry
// forever.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before reconnect attempt n (zero-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	if d <= 0 {
		return 0
	}
	// Jitter across [d/2, d).
	half := d / 2
	return half + rand.N(half)
}

// Exhausted reports whether attempt n exceeds the retry budget.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}
