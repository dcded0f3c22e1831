// Package stream fans one slow poll loop per tracked coin out to any number
// of subscribers. Upstream call volume stays constant no matter how many
// clients are attached; that is the whole reason this package exists.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/domain"
	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/market"
)

// Quoter is the slice of the fetcher the multiplexer needs.
type Quoter interface {
	Quote(ctx context.Context, coinID string) (domain.CryptoSnapshot, market.Outcome, error)
}

// Options configures a Multiplexer.
type Options struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	SubscriberBuffer  int
	Now               func() time.Time
}

// Multiplexer owns one resource loop per coin. A loop starts on the first
// subscribe (with an immediate fetch so the subscriber never waits a full
// period) and stops when the last subscriber detaches.
type Multiplexer struct {
	quoter Quoter
	opts   Options
	now    func() time.Time

	mu     sync.Mutex
	loops  map[string]*loop
	nextID uint64
	closed bool
}

// Subscription is one attached client. Frames arrive on C until the
// subscription is removed (by Close, a write failure, or multiplexer
// shutdown), at which point C is closed.
type Subscription struct {
	id       uint64
	resource string
	frames   chan Frame
	mux      *Multiplexer
}

// Frames returns the receive side of the subscription.
func (s *Subscription) Frames() <-chan Frame { return s.frames }

// Close detaches the subscription. Safe to call concurrently with an
// in-flight broadcast and idempotent.
func (s *Subscription) Close() { s.mux.unsubscribe(s) }

type loop struct {
	resource string
	cancel   context.CancelFunc
	done     chan struct{}

	mu   sync.Mutex
	subs map[uint64]*Subscription
}

// NewMultiplexer creates a multiplexer over the given quoter.
func NewMultiplexer(quoter Quoter, opts Options) *Multiplexer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 16
	}
	return &Multiplexer{
		quoter: quoter,
		opts:   opts,
		now:    opts.Now,
		loops:  make(map[string]*loop),
	}
}

// Subscribe attaches a new subscriber to the coin's loop, starting the loop
// if it was idle. The connected frame is queued before Subscribe returns, so
// it always precedes the first price_update.
func (m *Multiplexer) Subscribe(resource string) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		sub := &Subscription{resource: resource, frames: make(chan Frame), mux: m}
		close(sub.frames)
		return sub
	}

	m.nextID++
	sub := &Subscription{
		id:       m.nextID,
		resource: resource,
		frames:   make(chan Frame, m.opts.SubscriberBuffer),
		mux:      m,
	}

	l, ok := m.loops[resource]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		l = &loop{
			resource: resource,
			cancel:   cancel,
			done:     make(chan struct{}),
			subs:     make(map[uint64]*Subscription),
		}
		m.loops[resource] = l

		// Register before the goroutine starts: the loop's immediate first
		// poll must see this subscriber, or it would fan out to an empty
		// map and the subscriber waits a full period.
		l.subs[sub.id] = sub
		sub.frames <- connectedFrame(m.now()) // buffer is empty, cannot block
		go m.run(ctx, l)
		slog.Info("Stream loop started", slog.String("resource", resource))
		return sub
	}

	l.mu.Lock()
	l.subs[sub.id] = sub
	sub.frames <- connectedFrame(m.now()) // buffer is empty, cannot block
	l.mu.Unlock()

	return sub
}

// unsubscribe removes sub and retires the loop if it emptied.
func (m *Multiplexer) unsubscribe(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.loops[s.resource]
	if !ok {
		return
	}

	l.mu.Lock()
	if _, attached := l.subs[s.id]; attached {
		delete(l.subs, s.id)
		close(s.frames)
	}
	empty := len(l.subs) == 0
	l.mu.Unlock()

	if empty {
		l.cancel()
		delete(m.loops, s.resource)
		slog.Info("Stream loop stopped (no subscribers)", slog.String("resource", s.resource))
	}
}

// retire stops the loop if it has no subscribers left. Rechecked under the
// multiplexer lock so it cannot race a concurrent Subscribe restarting the
// same resource.
func (m *Multiplexer) retire(l *loop) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loops[l.resource] != l {
		return
	}

	l.mu.Lock()
	empty := len(l.subs) == 0
	l.mu.Unlock()

	if empty {
		l.cancel()
		delete(m.loops, l.resource)
		slog.Info("Stream loop stopped (no subscribers)", slog.String("resource", l.resource))
	}
}

// Close shuts the multiplexer down: every loop is cancelled and every
// subscriber channel closed. Further Subscribe calls return a closed
// subscription.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for resource, l := range m.loops {
		l.cancel()
		l.mu.Lock()
		for id, sub := range l.subs {
			delete(l.subs, id)
			close(sub.frames)
		}
		l.mu.Unlock()
		delete(m.loops, resource)
	}
}

// run is the per-resource loop body: an immediate poll, then fixed-period
// polls with independent heartbeats, until cancelled.
func (m *Multiplexer) run(ctx context.Context, l *loop) {
	defer close(l.done)

	m.pollAndBroadcast(ctx, l)

	poll := time.NewTicker(m.opts.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(m.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			m.pollAndBroadcast(ctx, l)
		case <-heartbeat.C:
			m.broadcast(l, heartbeatFrame(m.now()))
		}

		// Write failures may have dropped the last subscriber.
		m.retire(l)
	}
}

// pollAndBroadcast runs one fetch through the throttled fetcher and fans the
// resulting frames out to every current subscriber.
func (m *Multiplexer) pollAndBroadcast(ctx context.Context, l *loop) {
	snap, out, err := m.quoter.Quote(ctx, l.resource)
	m.broadcast(l, framesFor(l.resource, snap, out, err, m.now())...)
}

// framesFor maps a fetch result onto the frame taxonomy.
func framesFor(resource string, snap domain.CryptoSnapshot, out market.Outcome, err error, now time.Time) []Frame {
	if err != nil {
		frames := []Frame{{Type: FrameError, Message: err.Error(), Timestamp: now}}
		if domain.IsRateLimited(err) {
			frames = append(frames, Frame{
				Type:      FrameRateLimit,
				Message:   "upstream rate limit reached for " + resource + "; retry later",
				Timestamp: now,
			})
		}
		return frames
	}

	frames := []Frame{priceFrame(snap, out, now)}
	if out.Stale {
		frames = append(frames, Frame{Type: FrameWarning, Message: out.Message, Timestamp: now})
	}
	return frames
}

// broadcast writes frames to every subscriber, in order, under the loop
// lock. A full or dead subscriber channel removes only that subscriber.
func (m *Multiplexer) broadcast(l *loop, frames ...Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, sub := range l.subs {
		if !deliver(sub, frames) {
			delete(l.subs, id)
			close(sub.frames)
			slog.Warn("Subscriber dropped (write failed)",
				slog.String("resource", l.resource),
				slog.Uint64("subscriber", id))
		}
	}
}

// deliver writes all frames to one subscriber without blocking.
func deliver(sub *Subscription, frames []Frame) bool {
	for _, f := range frames {
		select {
		case sub.frames <- f:
		default:
			return false
		}
	}
	return true
}

// SubscriberCount reports the number of live subscribers for a resource.
func (m *Multiplexer) SubscriberCount(resource string) int {
	m.mu.Lock()
	l, ok := m.loops[resource]
	m.mu.Unlock()
	if !ok {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}
