package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting of the dashboard backend.
// Secrets may be overridden through environment variables after load.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Upstream struct {
		BaseURL    string `yaml:"base_url"`
		APIKey     string `yaml:"api_key"`
		TimeoutSec int    `yaml:"timeout_sec"`
		Currency   string `yaml:"currency"`
	} `yaml:"upstream"`

	Coins []string `yaml:"coins"`

	Cache struct {
		PriceTTLSec   int `yaml:"price_ttl_sec"`
		HistoryTTLSec int `yaml:"history_ttl_sec"`
		HistoryDays   int `yaml:"history_days"`
		SweepSec      int `yaml:"sweep_sec"` // 0 disables the background sweep
	} `yaml:"cache"`

	Throttle struct {
		WindowSec   int `yaml:"window_sec"`
		MaxRequests int `yaml:"max_requests"`
	} `yaml:"throttle"`

	Breaker struct {
		FailureThreshold int `yaml:"failure_threshold"`
		CooldownSec      int `yaml:"cooldown_sec"`
	} `yaml:"breaker"`

	Stream struct {
		PollSec        int `yaml:"poll_sec"`
		HeartbeatSec   int `yaml:"heartbeat_sec"`
		MinFetchSec    int `yaml:"min_fetch_sec"`
		SubscriberBuff int `yaml:"subscriber_buffer"`
	} `yaml:"stream"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the yaml config file, applies environment
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" || (!strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://")) {
		return fmt.Errorf("invalid upstream base URL: %s", c.Upstream.BaseURL)
	}
	if len(c.Coins) == 0 {
		return fmt.Errorf("at least one tracked coin is required")
	}
	if c.Cache.PriceTTLSec <= 0 {
		return fmt.Errorf("price TTL must be positive")
	}
	if c.Throttle.WindowSec <= 0 || c.Throttle.MaxRequests <= 0 {
		return fmt.Errorf("throttle window and max requests must be positive")
	}
	if c.Stream.PollSec <= 0 || c.Stream.HeartbeatSec <= 0 {
		return fmt.Errorf("stream poll and heartbeat intervals must be positive")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Upstream.TimeoutSec <= 0 {
		cfg.Upstream.TimeoutSec = 10
	}
	if cfg.Upstream.Currency == "" {
		cfg.Upstream.Currency = "usd"
	}
	if cfg.Cache.HistoryTTLSec <= 0 {
		cfg.Cache.HistoryTTLSec = 600
	}
	if cfg.Cache.HistoryDays <= 0 {
		cfg.Cache.HistoryDays = 30
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.CooldownSec <= 0 {
		cfg.Breaker.CooldownSec = 60
	}
	if cfg.Stream.MinFetchSec <= 0 {
		cfg.Stream.MinFetchSec = 10
	}
	if cfg.Stream.SubscriberBuff <= 0 {
		cfg.Stream.SubscriberBuff = 16
	}
}

// overrideWithEnv lets the environment win over the config file for secrets.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("CRYPTO_COINGECKO_API_KEY"); key != "" {
		cfg.Upstream.APIKey = key
	}
	if addr := os.Getenv("CRYPTO_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
}

// Helpers converting the integer-second yaml fields to durations.

func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSec) * time.Second
}

func (c *Config) PriceTTL() time.Duration {
	return time.Duration(c.Cache.PriceTTLSec) * time.Second
}

func (c *Config) HistoryTTL() time.Duration {
	return time.Duration(c.Cache.HistoryTTLSec) * time.Second
}

func (c *Config) ThrottleWindow() time.Duration {
	return time.Duration(c.Throttle.WindowSec) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Stream.PollSec) * time.Second
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Stream.HeartbeatSec) * time.Second
}

func (c *Config) MinFetchInterval() time.Duration {
	return time.Duration(c.Stream.MinFetchSec) * time.Second
}

func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownSec) * time.Second
}
