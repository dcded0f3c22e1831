package infra

import (
	"sync"
	"time"
)

// FixedWindow counts calls inside a fixed-length interval.
// Once the interval has elapsed the counter resets to zero and the window
// start advances; a burst straddling the reset can therefore briefly exceed
// the nominal rate. That imprecision is accepted: the limit exists to stay
// under the upstream's quota, not to shape traffic precisely.
// Thread-safe.
type FixedWindow struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int

	limit  int
	length time.Duration
	now    func() time.Time
}

// NewFixedWindow creates a window allowing limit calls per length.
func NewFixedWindow(limit int, length time.Duration) *FixedWindow {
	return NewFixedWindowWithClock(limit, length, time.Now)
}

// NewFixedWindowWithClock is NewFixedWindow with an injected clock, so tests
// can advance time without sleeping.
func NewFixedWindowWithClock(limit int, length time.Duration, now func() time.Time) *FixedWindow {
	return &FixedWindow{
		windowStart: now(),
		limit:       limit,
		length:      length,
		now:         now,
	}
}

// Allow reports whether another call fits in the current window and, if so,
// counts it. It never blocks.
func (w *FixedWindow) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.roll()

	if w.count >= w.limit {
		return false
	}
	w.count++
	return true
}

// Remaining returns how many calls are left in the current window.
func (w *FixedWindow) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.roll()
	return w.limit - w.count
}

// roll resets the counter when the window has elapsed.
// Must be called with the mutex held.
func (w *FixedWindow) roll() {
	if now := w.now(); now.Sub(w.windowStart) > w.length {
		w.windowStart = now
		w.count = 0
	}
}
