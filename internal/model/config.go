package model

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete html2img configuration.
// Field tags serve both viper (mapstructure) and `config show` (yaml).
type Config struct {
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Browser      BrowserConfig      `yaml:"browser" mapstructure:"browser"`
	Render       RenderConfig       `yaml:"render" mapstructure:"render"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// CacheConfig controls the rendered-image cache.
// The entry TTL is fixed at 24h.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"` // 0 disables the in-memory layer
}

// BrowserConfig controls how headless Chrome sessions are launched.
type BrowserConfig struct {
	ExecPath    string `yaml:"exec_path" mapstructure:"exec_path"` // empty: let chromedp find Chrome
	Headless    bool   `yaml:"headless" mapstructure:"headless"`
	NoSandbox   bool   `yaml:"no_sandbox" mapstructure:"no_sandbox"`
	MaxSessions int    `yaml:"max_sessions" mapstructure:"max_sessions"`
	HTTPProxy   string `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy  string `yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy     string `yaml:"no_proxy" mapstructure:"no_proxy"`
}

// RenderConfig tunes the page-load quiescence heuristic.
type RenderConfig struct {
	IdleConnections int           `yaml:"idle_connections" mapstructure:"idle_connections"`
	IdleWindow      time.Duration `yaml:"idle_window" mapstructure:"idle_window"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"` // 0: no deadline
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr              string  `yaml:"addr" mapstructure:"addr"`
	BodyLimit         string  `yaml:"body_limit" mapstructure:"body_limit"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	SingleFlight      bool    `yaml:"single_flight" mapstructure:"single_flight"`
	TrustProxy        bool    `yaml:"trust_proxy" mapstructure:"trust_proxy"` // take the client IP from X-Forwarded-For
}

// ConcurrencyConfig controls batch parallelism.
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// RateLimitingConfig paces session launches in batch mode.
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"` // 0: unlimited
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       "./cache",
			MemoryTTL: 5 * time.Minute,
		},
		Browser: BrowserConfig{
			Headless:    true,
			NoSandbox:   true,
			MaxSessions: 4,
		},
		Render: RenderConfig{
			IdleConnections: 2,
			IdleWindow:      500 * time.Millisecond,
		},
		Server: ServerConfig{
			Addr:              ":15600",
			BodyLimit:         "10M",
			RequestsPerSecond: 5,
			Burst:             10,
			SingleFlight:      true,
		},
		Concurrency: ConcurrencyConfig{
			Workers: runtime.NumCPU(),
		},
		RateLimiting: RateLimitingConfig{
			BurstSize: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// EnvPrefix is the prefix for environment overrides (HTML2IMG_CACHE_DIR, ...).
const EnvPrefix = "HTML2IMG"

// DefaultConfigPath returns ~/.html2img/config.yaml
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".html2img", "config.yaml"), nil
}

// SetDefaults registers every default with v so that environment variables
// can override keys that never appear in a config file.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.memory_ttl", d.Cache.MemoryTTL)

	v.SetDefault("browser.exec_path", d.Browser.ExecPath)
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.no_sandbox", d.Browser.NoSandbox)
	v.SetDefault("browser.max_sessions", d.Browser.MaxSessions)
	v.SetDefault("browser.http_proxy", d.Browser.HTTPProxy)
	v.SetDefault("browser.https_proxy", d.Browser.HTTPSProxy)
	v.SetDefault("browser.no_proxy", d.Browser.NoProxy)

	v.SetDefault("render.idle_connections", d.Render.IdleConnections)
	v.SetDefault("render.idle_window", d.Render.IdleWindow)
	v.SetDefault("render.timeout", d.Render.Timeout)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.body_limit", d.Server.BodyLimit)
	v.SetDefault("server.requests_per_second", d.Server.RequestsPerSecond)
	v.SetDefault("server.burst", d.Server.Burst)
	v.SetDefault("server.single_flight", d.Server.SingleFlight)
	v.SetDefault("server.trust_proxy", d.Server.TrustProxy)

	v.SetDefault("concurrency.workers", d.Concurrency.Workers)
	v.SetDefault("rate_limiting.requests_per_second", d.RateLimiting.RequestsPerSecond)
	v.SetDefault("rate_limiting.burst_size", d.RateLimiting.BurstSize)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// ConfigureEnv wires HTML2IMG_* environment variables into v.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadConfig decodes the effective configuration held by v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Browser.MaxSessions <= 0 {
		cfg.Browser.MaxSessions = 1
	}
	if cfg.Concurrency.Workers <= 0 {
		cfg.Concurrency.Workers = 1
	}
	if cfg.Render.IdleConnections < 0 {
		return nil, fmt.Errorf("%w: render.idle_connections must be >= 0", ErrValidation)
	}
	if cfg.Cache.Dir == "" {
		return nil, fmt.Errorf("%w: cache.dir must not be empty", ErrValidation)
	}

	return cfg, nil
}
