// Package cache is a process-local key/value store with two TTL tiers under
// one key namespace: a short-lived fresh entry per resource and a
// never-expiring stale backup under "<key>_stale". Everything lives in memory
// and is lost on restart.
package cache

import (
	"sync"
	"time"
)

// StaleSuffix is appended to a resource key to address its backup tier.
const StaleSuffix = "_stale"

// StaleKey returns the backup-tier key for a resource key.
func StaleKey(key string) string { return key + StaleSuffix }

type entry struct {
	value     any
	expiresAt time.Time // zero value: never expires
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is an in-memory TTL cache. Expired entries read as absent without an
// active sweep; the optional background sweeper only reclaims memory.
// Writes never outlive a map operation, so unrelated keys are not serialized
// behind slow work. Thread-safe.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time

	cleaner *time.Ticker
	done    chan struct{}
	once    sync.Once
}

// New creates an empty store.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates a store with an injected clock for tests.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     now,
		done:    make(chan struct{}),
	}
}

// StartSweeper launches a background goroutine that drops expired entries
// every interval. Purely a memory optimization.
func (s *Store) StartSweeper(interval time.Duration) {
	s.cleaner = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.cleaner.C:
				s.sweep()
			case <-s.done:
				s.cleaner.Stop()
				return
			}
		}
	}()
}

// Close stops the sweeper, if one was started.
func (s *Store) Close() {
	s.once.Do(func() { close(s.done) })
}

// Get returns the value for key. A missing or expired entry is a normal
// absent result, never an error.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. ttl == 0 means never expire.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, value, ttl)
}

// SetBoth writes value to the fresh tier (with ttl) and the stale tier
// (never expiring) in one critical section, so no reader can observe one
// tier written without the other.
func (s *Store) SetBoth(key string, value any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, value, ttl)
	s.put(StaleKey(key), value, 0)
}

// put must be called with the write lock held.
func (s *Store) put(key string, value any, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
}

// Delete removes key. Missing keys are a no-op.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len reports the number of live (non-expired) entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	n := 0
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
}
