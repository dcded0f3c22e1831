package app

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/cache"
	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/infra"
	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/infra/coingecko"
	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/market"
	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/stream"
)

// Bootstrap wires the application together in dependency order: config and
// logger first, then cache, upstream client, fetcher, and multiplexer.
type Bootstrap struct {
	Config      *infra.Config
	Logger      *slog.Logger
	Store       *cache.Store
	Breaker     *infra.Breaker
	Fetcher     *market.Fetcher
	Multiplexer *stream.Multiplexer
}

// NewBootstrap creates an empty Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize builds every component. Fails fast on bad configuration.
func (b *Bootstrap) Initialize(configPath string) error {
	// Secrets may live in a local .env during development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Skipping .env", slog.Any("error", err))
	}

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)

	b.Store = cache.New()
	if cfg.Cache.SweepSec > 0 {
		b.Store.StartSweeper(time.Duration(cfg.Cache.SweepSec) * time.Second)
	}

	client := coingecko.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.Currency, cfg.UpstreamTimeout())

	b.Breaker = infra.NewBreaker("coingecko", cfg.Breaker.FailureThreshold, cfg.BreakerCooldown())

	b.Fetcher = market.NewFetcher(client, b.Store, market.Options{
		Coins:           cfg.Coins,
		PriceTTL:        cfg.PriceTTL(),
		HistoryTTL:      cfg.HistoryTTL(),
		HistoryDays:     cfg.Cache.HistoryDays,
		WindowLimit:     cfg.Throttle.MaxRequests,
		WindowLength:    cfg.ThrottleWindow(),
		MinInterval:     cfg.MinFetchInterval(),
		UpstreamTimeout: cfg.UpstreamTimeout(),
		Breaker:         b.Breaker,
	})

	b.Multiplexer = stream.NewMultiplexer(b.Fetcher, stream.Options{
		PollInterval:      cfg.PollInterval(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
		SubscriberBuffer:  cfg.Stream.SubscriberBuff,
	})

	slog.Info("Bootstrapped",
		slog.Int("coins", len(cfg.Coins)),
		slog.Int("quota_per_window", cfg.Throttle.MaxRequests),
		slog.Duration("price_ttl", cfg.PriceTTL()))

	return nil
}

// Shutdown releases background resources.
func (b *Bootstrap) Shutdown() {
	if b.Multiplexer != nil {
		b.Multiplexer.Close()
	}
	if b.Store != nil {
		b.Store.Close()
	}
}
