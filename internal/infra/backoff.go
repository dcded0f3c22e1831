package infra

import (
	"time"
)

// Backoff computes capped exponential retry delays. The zero value uses a
// one-second base and a one-minute cap.
type Backoff struct {
	Base time.Duration // delay after the first failure, doubled per retry
	Max  time.Duration // upper bound on any delay
}

// Delay returns the wait before retry attempt n (1-based): Base doubled n-1
// times, capped at Max. Attempts below 1 get Base.
func (b Backoff) Delay(n int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = time.Minute
	}

	if n < 1 {
		n = 1
	}
	// Past ~30 doublings the shift would overflow long before any sane cap
	// matters.
	if n > 31 {
		return max
	}

	d := base * time.Duration(1<<(n-1))
	if d > max || d <= 0 {
		return max
	}
	return d
}
