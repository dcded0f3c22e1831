// Package market implements the throttled fetch path: prefer the fresh cache
// tier, bound upstream call volume with a fixed window per resource, and
// degrade to the stale tier instead of surfacing upstream failures.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/cache"
	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/domain"
	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/infra"
)

// Resource keys. Each key owns its own throttle window and cache pair.
const (
	KeyPrices        = "prices" // batched snapshot of all tracked coins
	keyPricePrefix   = "price_"
	keyHistoryPrefix = "history_"
)

// PriceKey returns the per-coin stream resource key.
func PriceKey(coinID string) string { return keyPricePrefix + coinID }

// HistoryKey returns the per-coin history resource key.
func HistoryKey(coinID string) string { return keyHistoryPrefix + coinID }

// Upstream is the slice of the CoinGecko client the fetcher depends on.
type Upstream interface {
	SimplePrice(ctx context.Context, ids []string) ([]domain.CryptoSnapshot, error)
	MarketChart(ctx context.Context, id string, days int) (*domain.PriceHistory, error)
}

// Outcome describes how a value was produced.
type Outcome struct {
	Cached  bool   // served without an upstream call on this request
	Stale   bool   // served from the never-expiring backup tier
	Message string // human-readable degradation reason, set when Stale
}

// Options configures a Fetcher.
type Options struct {
	Coins           []string
	PriceTTL        time.Duration
	HistoryTTL      time.Duration
	HistoryDays     int
	WindowLimit     int
	WindowLength    time.Duration
	MinInterval     time.Duration // streaming-path re-fetch gate
	UpstreamTimeout time.Duration
	Breaker         *infra.Breaker // nil disables the breaker
	Now             func() time.Time
}

// Fetcher produces the best available value per resource while bounding how
// often the upstream is actually called. Shared by the HTTP handlers and the
// stream multiplexer; safe for concurrent use.
type Fetcher struct {
	upstream Upstream
	store    *cache.Store
	opts     Options
	now      func() time.Time

	mu      sync.Mutex
	windows map[string]*infra.FixedWindow
	gates   map[string]*minIntervalGate
}

// minIntervalGate remembers the last streaming fetch independently of the
// cache, so stream ticks never hit the upstream faster than MinInterval even
// after the fresh tier expired.
type minIntervalGate struct {
	mu        sync.Mutex
	lastFetch time.Time
	held      *heldQuote
}

type heldQuote struct {
	snap domain.CryptoSnapshot
	out  Outcome
}

// NewFetcher creates a fetcher over the given upstream and cache store.
func NewFetcher(upstream Upstream, store *cache.Store, opts Options) *Fetcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = 10 * time.Second
	}
	return &Fetcher{
		upstream: upstream,
		store:    store,
		opts:     opts,
		now:      opts.Now,
		windows:  make(map[string]*infra.FixedWindow),
		gates:    make(map[string]*minIntervalGate),
	}
}

// Snapshots returns the batched snapshot of every tracked coin.
func (f *Fetcher) Snapshots(ctx context.Context) ([]domain.CryptoSnapshot, Outcome, error) {
	v, out, err := f.fetch(ctx, KeyPrices, f.opts.PriceTTL, func(ctx context.Context) (any, error) {
		snaps, err := f.upstream.SimplePrice(ctx, f.opts.Coins)
		if err != nil {
			return nil, err
		}
		return snaps, nil
	})
	if err != nil {
		return nil, out, err
	}
	return v.([]domain.CryptoSnapshot), out, nil
}

// History returns the price series for one coin, cached on its own
// longer-lived resource key.
func (f *Fetcher) History(ctx context.Context, coinID string) (*domain.PriceHistory, Outcome, error) {
	v, out, err := f.fetch(ctx, HistoryKey(coinID), f.opts.HistoryTTL, func(ctx context.Context) (any, error) {
		return f.upstream.MarketChart(ctx, coinID, f.opts.HistoryDays)
	})
	if err != nil {
		return nil, out, err
	}
	return v.(*domain.PriceHistory), out, nil
}

// Quote returns the current snapshot of a single coin for the streaming
// path, reusing the last result while the min-interval gate is closed.
func (f *Fetcher) Quote(ctx context.Context, coinID string) (domain.CryptoSnapshot, Outcome, error) {
	key := PriceKey(coinID)
	g := f.gate(key)

	g.mu.Lock()
	if g.held != nil && f.now().Sub(g.lastFetch) < f.opts.MinInterval {
		held := *g.held
		g.mu.Unlock()
		held.out.Cached = true
		return held.snap, held.out, nil
	}
	g.mu.Unlock()

	v, out, err := f.fetch(ctx, key, f.opts.PriceTTL, func(ctx context.Context) (any, error) {
		snaps, err := f.upstream.SimplePrice(ctx, []string{coinID})
		if err != nil {
			return nil, err
		}
		if len(snaps) == 0 {
			return nil, domain.NewFetchError(domain.FetchMalformed, key,
				fmt.Errorf("upstream returned no snapshot for %s", coinID))
		}
		return snaps[0], nil
	})
	if err != nil {
		return domain.CryptoSnapshot{}, out, err
	}

	snap := v.(domain.CryptoSnapshot)

	g.mu.Lock()
	g.held = &heldQuote{snap: snap, out: out}
	if !out.Cached {
		g.lastFetch = f.now()
	}
	g.mu.Unlock()

	return snap, out, nil
}

// fetch runs the fresh-cache / throttle / upstream / stale-fallback ladder
// for one resource key.
func (f *Fetcher) fetch(ctx context.Context, key string, ttl time.Duration, call func(context.Context) (any, error)) (any, Outcome, error) {
	// 1. Fresh tier wins outright; no upstream call, no window accounting.
	if v, ok := f.store.Get(key); ok {
		return v, Outcome{Cached: true}, nil
	}

	// 2. Self-imposed refusals: open breaker, then exhausted window.
	//    Both fall back to stale before failing.
	if br := f.opts.Breaker; br != nil && !br.Allow() {
		return f.fallback(key, "upstream circuit open; serving last known data",
			domain.NewFetchError(domain.FetchExhaustedNoData, key, fmt.Errorf("upstream circuit open")))
	}
	if !f.window(key).Allow() {
		slog.Debug("Throttle window exhausted", slog.String("resource", key))
		return f.fallback(key, "request quota exhausted; serving last known data",
			domain.NewFetchError(domain.FetchExhaustedNoData, key, fmt.Errorf("request quota exhausted")))
	}

	// 3. The actual upstream call, bounded by its own timeout.
	callCtx, cancel := context.WithTimeout(ctx, f.opts.UpstreamTimeout)
	defer cancel()

	v, err := call(callCtx)
	if err != nil {
		if br := f.opts.Breaker; br != nil {
			br.RecordFailure()
		}
		slog.Warn("Upstream fetch failed",
			slog.String("resource", key),
			slog.String("kind", domain.KindOf(err).String()),
			slog.Any("error", err))
		return f.fallback(key, degradationReason(domain.KindOf(err)), err)
	}

	if br := f.opts.Breaker; br != nil {
		br.RecordSuccess()
	}

	// 4. One successful fetch feeds both tiers atomically.
	f.store.SetBoth(key, v, ttl)
	return v, Outcome{}, nil
}

// fallback serves the stale tier if it has anything, else surfaces cause.
func (f *Fetcher) fallback(key, reason string, cause error) (any, Outcome, error) {
	if v, ok := f.store.Get(cache.StaleKey(key)); ok {
		return v, Outcome{Cached: true, Stale: true, Message: reason}, nil
	}
	return nil, Outcome{}, cause
}

// Remaining reports how many upstream calls are left in the resource's
// current window (for the health endpoint).
func (f *Fetcher) Remaining(key string) int {
	return f.window(key).Remaining()
}

func (f *Fetcher) window(key string) *infra.FixedWindow {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.windows[key]
	if !ok {
		w = infra.NewFixedWindowWithClock(f.opts.WindowLimit, f.opts.WindowLength, f.now)
		f.windows[key] = w
	}
	return w
}

func (f *Fetcher) gate(key string) *minIntervalGate {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.gates[key]
	if !ok {
		g = &minIntervalGate{}
		f.gates[key] = g
	}
	return g
}

func degradationReason(kind domain.FetchErrorKind) string {
	switch kind {
	case domain.FetchTimeout:
		return "upstream timed out; serving last known data"
	case domain.FetchRateLimited:
		return "upstream rate limit hit; serving last known data"
	case domain.FetchMalformed:
		return "upstream returned malformed data; serving last known data"
	default:
		return "upstream unavailable; serving last known data"
	}
}
