package infra

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState represents the upstream breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // upstream considered down, skip calls
	BreakerHalfOpen                     // cooldown elapsed, allow one probe
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker trips after a run of consecutive upstream failures so the fetch
// path can serve stale data without burning quota on a dead upstream.
// Thread-safe.
type Breaker struct {
	name string
	mu   sync.Mutex

	state       BreakerState
	failures    int
	lastFailure time.Time

	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and probes again after cooldown.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:      name,
		state:     BreakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether an upstream call should be attempted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) > b.cooldown {
			b.state = BreakerHalfOpen
			slog.Info("Upstream breaker probing", slog.String("name", b.name))
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker and clears the failure run.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerClosed {
		slog.Info("Upstream breaker closed (recovered)", slog.String("name", b.name))
	}
	b.state = BreakerClosed
	b.failures = 0
}

// RecordFailure counts a failure; a failed probe reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = BreakerOpen
			slog.Warn("Upstream breaker open",
				slog.String("name", b.name),
				slog.Int("failures", b.failures))
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		slog.Warn("Upstream breaker reopened (probe failed)", slog.String("name", b.name))
	}
}

// State returns the current state (for the health endpoint).
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
