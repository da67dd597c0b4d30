package conn

import "time"

// Backoff computes reconnect delays as min(Base * 2^attempt, Max).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff starts at one second and caps at ten.
var DefaultBackoff = Backoff{
	Base: time.Second,
	Max:  10 * time.Second,
}

// Delay returns the wait before the reconnect that follows the attempt-th
// consecutive close, counting from zero.
func (b Backoff) Delay(attempt int) time.Duration {
	base, max := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	if max <= 0 {
		max = DefaultBackoff.Max
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := base
	for i := 0; i < attempt; i++ {
		if delay > max-delay {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}
