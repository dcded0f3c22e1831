package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/domain"
	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/market"
)

// stubQuoter returns a distinct price per call so tests can prove frames
// came from the same poll. An optional gate blocks the first call until the
// test has finished attaching subscribers.
type stubQuoter struct {
	mu      sync.Mutex
	calls   int
	err     error
	outcome market.Outcome
	gate    chan struct{}
}

func (q *stubQuoter) Quote(ctx context.Context, coinID string) (domain.CryptoSnapshot, market.Outcome, error) {
	q.mu.Lock()
	gate := q.gate
	q.gate = nil
	q.mu.Unlock()
	if gate != nil {
		<-gate
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.err != nil {
		return domain.CryptoSnapshot{}, market.Outcome{}, q.err
	}
	return domain.CryptoSnapshot{
		ID:    coinID,
		Price: decimal.NewFromInt(int64(10000 + q.calls)),
	}, q.outcome, nil
}

func (q *stubQuoter) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

// recorder drains a subscription on its own goroutine.
type recorder struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
}

func record(sub *Subscription) *recorder {
	r := &recorder{}
	go func() {
		for f := range sub.Frames() {
			r.mu.Lock()
			r.frames = append(r.frames, f)
			r.mu.Unlock()
		}
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
	}()
	return r
}

func (r *recorder) snapshot() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// waitFrames blocks until the recorder holds at least n frames.
func (r *recorder) waitFrames(t *testing.T, n int) []Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := r.snapshot(); len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, have %d", n, len(r.snapshot()))
	return nil
}

func slowOpts() Options {
	// Poll and heartbeat far beyond test duration: only the immediate
	// first poll ever fires.
	return Options{
		PollInterval:      time.Hour,
		HeartbeatInterval: time.Hour,
		SubscriberBuffer:  16,
	}
}

func TestMultiplexer_ConnectedPrecedesFirstUpdate(t *testing.T) {
	m := NewMultiplexer(&stubQuoter{}, slowOpts())
	defer m.Close()

	rec := record(m.Subscribe("bitcoin"))
	frames := rec.waitFrames(t, 2)

	if frames[0].Type != FrameConnected {
		t.Errorf("first frame should be connected, got %s", frames[0].Type)
	}
	if frames[1].Type != FramePriceUpdate {
		t.Errorf("second frame should be price_update, got %s", frames[1].Type)
	}
	if frames[1].Data == nil || frames[1].Data.Price == 0 {
		t.Error("price_update carries no payload")
	}
}

// The first subscriber must be registered before the loop's immediate poll
// runs, even when the quoter returns instantly; otherwise that poll fans out
// to nobody and the subscriber waits a full period. Repeated restarts widen
// the race window enough to catch a regression.
func TestMultiplexer_FirstPollNeverMissesNewSubscriber(t *testing.T) {
	q := &stubQuoter{}
	m := NewMultiplexer(q, slowOpts())
	defer m.Close()

	for i := 0; i < 1000; i++ {
		sub := m.Subscribe("bitcoin")

		for _, want := range []FrameType{FrameConnected, FramePriceUpdate} {
			select {
			case f := <-sub.Frames():
				if f.Type != want {
					t.Fatalf("subscribe %d: expected %s, got %s", i, want, f.Type)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("subscribe %d: no %s frame; first poll missed the subscriber", i, want)
			}
		}
		sub.Close()
	}
}

// N subscribers on one resource share a single poll: one upstream call, N
// identical price_update deliveries.
func TestMultiplexer_FanOutSharesOnePoll(t *testing.T) {
	gate := make(chan struct{})
	q := &stubQuoter{gate: gate}
	m := NewMultiplexer(q, slowOpts())
	defer m.Close()

	recs := []*recorder{
		record(m.Subscribe("bitcoin")),
		record(m.Subscribe("bitcoin")),
		record(m.Subscribe("bitcoin")),
	}
	close(gate) // all attached; let the first poll through

	var prices [3]float64
	for i, rec := range recs {
		frames := rec.waitFrames(t, 2)
		if frames[1].Type != FramePriceUpdate {
			t.Fatalf("subscriber %d: expected price_update, got %s", i, frames[1].Type)
		}
		prices[i] = frames[1].Data.Price
	}

	if q.callCount() != 1 {
		t.Errorf("expected exactly 1 upstream call for 3 subscribers, got %d", q.callCount())
	}
	if prices[0] != prices[1] || prices[1] != prices[2] {
		t.Errorf("subscribers saw different payloads: %v", prices)
	}
}

// A subscriber whose channel cannot be written to is removed; the rest keep
// receiving.
func TestMultiplexer_SlowSubscriberIsIsolated(t *testing.T) {
	gate := make(chan struct{})
	q := &stubQuoter{gate: gate}
	opts := slowOpts()
	opts.SubscriberBuffer = 1 // connected fills the buffer of an undrained sub
	m := NewMultiplexer(q, opts)
	defer m.Close()

	healthy1 := record(m.Subscribe("bitcoin"))
	dead := m.Subscribe("bitcoin") // never drained
	healthy2 := record(m.Subscribe("bitcoin"))

	// Let the recorders drain their connected frames so the next write
	// only fails for the undrained subscriber.
	healthy1.waitFrames(t, 1)
	healthy2.waitFrames(t, 1)
	close(gate)

	for _, rec := range []*recorder{healthy1, healthy2} {
		frames := rec.waitFrames(t, 2)
		if frames[1].Type != FramePriceUpdate {
			t.Errorf("healthy subscriber missed its update: %v", frames[1].Type)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.SubscriberCount("bitcoin") != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.SubscriberCount("bitcoin"); got != 2 {
		t.Errorf("expected dead subscriber removed, count=%d", got)
	}

	select {
	case _, ok := <-dead.Frames():
		// The buffered connected frame may still be readable; the channel
		// must be closed behind it.
		if ok {
			if _, ok := <-dead.Frames(); ok {
				t.Error("dead subscriber channel should be closed")
			}
		}
	case <-time.After(time.Second):
		t.Error("dead subscriber channel neither delivered nor closed")
	}
}

func TestMultiplexer_LoopStopsWhenLastSubscriberLeaves(t *testing.T) {
	q := &stubQuoter{}
	m := NewMultiplexer(q, slowOpts())
	defer m.Close()

	sub := m.Subscribe("bitcoin")
	rec := record(sub)
	rec.waitFrames(t, 2)

	if m.SubscriberCount("bitcoin") != 1 {
		t.Fatalf("expected 1 subscriber, got %d", m.SubscriberCount("bitcoin"))
	}

	sub.Close()
	sub.Close() // idempotent

	if m.SubscriberCount("bitcoin") != 0 {
		t.Errorf("expected 0 subscribers after close, got %d", m.SubscriberCount("bitcoin"))
	}

	// A fresh subscribe restarts the loop and polls again immediately.
	rec2 := record(m.Subscribe("bitcoin"))
	rec2.waitFrames(t, 2)
	if q.callCount() != 2 {
		t.Errorf("expected a second poll after restart, got %d calls", q.callCount())
	}
}

func TestMultiplexer_HeartbeatsFlow(t *testing.T) {
	opts := Options{
		PollInterval:      time.Hour,
		HeartbeatInterval: 20 * time.Millisecond,
		SubscriberBuffer:  16,
	}
	m := NewMultiplexer(&stubQuoter{}, opts)
	defer m.Close()

	rec := record(m.Subscribe("bitcoin"))
	frames := rec.waitFrames(t, 4) // connected, price_update, then heartbeats

	sawHeartbeat := false
	for _, f := range frames {
		if f.Type == FrameHeartbeat {
			sawHeartbeat = true
		}
	}
	if !sawHeartbeat {
		t.Error("expected at least one heartbeat frame")
	}
}

func TestMultiplexer_ErrorWithRateLimitFrame(t *testing.T) {
	q := &stubQuoter{err: domain.NewFetchError(domain.FetchRateLimited, "price_bitcoin", nil)}
	m := NewMultiplexer(q, slowOpts())
	defer m.Close()

	rec := record(m.Subscribe("bitcoin"))
	frames := rec.waitFrames(t, 3)

	if frames[1].Type != FrameError {
		t.Errorf("expected error frame, got %s", frames[1].Type)
	}
	if frames[2].Type != FrameRateLimit {
		t.Errorf("expected rate_limit alongside error, got %s", frames[2].Type)
	}
}

func TestMultiplexer_StaleOutcomeEmitsWarning(t *testing.T) {
	q := &stubQuoter{outcome: market.Outcome{
		Cached:  true,
		Stale:   true,
		Message: "upstream unavailable; serving last known data",
	}}
	m := NewMultiplexer(q, slowOpts())
	defer m.Close()

	rec := record(m.Subscribe("bitcoin"))
	frames := rec.waitFrames(t, 3)

	if frames[1].Type != FramePriceUpdate || !frames[1].Data.Cached {
		t.Errorf("expected cached price_update, got %+v", frames[1])
	}
	if frames[2].Type != FrameWarning || frames[2].Message == "" {
		t.Errorf("expected warning with reason, got %+v", frames[2])
	}
}

func TestMultiplexer_CloseShutsEverythingDown(t *testing.T) {
	m := NewMultiplexer(&stubQuoter{}, slowOpts())

	rec := record(m.Subscribe("bitcoin"))
	rec.waitFrames(t, 2)

	m.Close()

	deadline := time.Now().Add(time.Second)
	for !rec.isClosed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !rec.isClosed() {
		t.Error("subscriber channel should close on shutdown")
	}

	late := m.Subscribe("bitcoin")
	if _, ok := <-late.Frames(); ok {
		t.Error("subscribe after Close should return a closed subscription")
	}
}
