package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
app:
  name: test-dashboard
upstream:
  base_url: https://api.example.com/v3
coins:
  - bitcoin
  - ethereum
cache:
  price_ttl_sec: 60
throttle:
  window_sec: 60
  max_requests: 8
stream:
  poll_sec: 15
  heartbeat_sec: 25
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if len(cfg.Coins) != 2 {
		t.Errorf("expected 2 coins, got %d", len(cfg.Coins))
	}
	if cfg.PriceTTL() != time.Minute {
		t.Errorf("expected 60s price TTL, got %v", cfg.PriceTTL())
	}
	if cfg.ThrottleWindow() != time.Minute {
		t.Errorf("expected 60s window, got %v", cfg.ThrottleWindow())
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Upstream.Currency != "usd" {
		t.Errorf("expected default currency usd, got %s", cfg.Upstream.Currency)
	}
	if cfg.Cache.HistoryDays != 30 {
		t.Errorf("expected default 30 history days, got %d", cfg.Cache.HistoryDays)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("expected default breaker threshold 5, got %d", cfg.Breaker.FailureThreshold)
	}
}

func TestLoadConfig_RejectsMissingCoins(t *testing.T) {
	yaml := `
upstream:
  base_url: https://api.example.com/v3
cache:
  price_ttl_sec: 60
throttle:
  window_sec: 60
  max_requests: 8
stream:
  poll_sec: 15
  heartbeat_sec: 25
`
	if _, err := LoadConfig(writeConfig(t, yaml)); err == nil {
		t.Error("expected validation error for empty coin list")
	}
}

func TestLoadConfig_RejectsBadBaseURL(t *testing.T) {
	yaml := `
upstream:
  base_url: ftp://nope
coins: [bitcoin]
cache:
  price_ttl_sec: 60
throttle:
  window_sec: 60
  max_requests: 8
stream:
  poll_sec: 15
  heartbeat_sec: 25
`
	if _, err := LoadConfig(writeConfig(t, yaml)); err == nil {
		t.Error("expected validation error for non-http base URL")
	}
}

func TestLoadConfig_EnvOverridesAPIKey(t *testing.T) {
	t.Setenv("CRYPTO_COINGECKO_API_KEY", "from-env")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Upstream.APIKey != "from-env" {
		t.Errorf("expected env override, got %q", cfg.Upstream.APIKey)
	}
}
