package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every server-level option for the overlay service.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs.
type ServerConfig struct {
	Listen   ListenConfig   `koanf:"listen"`
	Logging  LoggingConfig  `koanf:"logging"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Cache    CacheConfig    `koanf:"cache"`
	Fallback FallbackConfig `koanf:"fallback"`
	Sync     SyncConfig     `koanf:"sync"`
	Pricing  PricingConfig  `koanf:"pricing"`
	Messages MessagesConfig `koanf:"messages"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// UpstreamConfig points at the external price/stock API. An empty endpoint or
// key leaves the service in permanent no-data mode; that is a degraded state,
// not a configuration error.
type UpstreamConfig struct {
	Endpoint            string `koanf:"endpoint"`
	APIKey              string `koanf:"apiKey"`
	TimeoutSeconds      int    `koanf:"timeoutSeconds"`
	ProbeTimeoutSeconds int    `koanf:"probeTimeoutSeconds"`
	MaxRedirects        int    `koanf:"maxRedirects"`
}

// Timeout returns the data-fetch timeout as a duration.
func (c UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ProbeTimeout returns the connectivity-probe timeout as a duration.
func (c UpstreamConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// CacheConfig selects and tunes the snapshot cache backend.
type CacheConfig struct {
	Backend    string           `koanf:"backend"`
	TTLSeconds int              `koanf:"ttlSeconds"`
	Redis      RedisCacheConfig `koanf:"redis"`
}

// TTL returns the snapshot cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type RedisCacheConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// FallbackConfig tunes the circuit breaker. Disabled is the debug branch:
// upstream failures stop feeding the counter and surface as visitor notices.
type FallbackConfig struct {
	FailureThreshold int  `koanf:"failureThreshold"`
	CooldownSeconds  int  `koanf:"cooldownSeconds"`
	Disabled         bool `koanf:"disabled"`
}

// Cooldown returns the fallback cool-down as a duration.
func (c FallbackConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// SyncConfig tunes the stock reconciler.
type SyncConfig struct {
	ViewRefreshSeconds int `koanf:"viewRefreshSeconds"`
	DebounceSeconds    int `koanf:"debounceSeconds"`
	SyncLogSize        int `koanf:"syncLogSize"`
}

// ViewRefresh returns the product-view refresh interval as a duration.
func (c SyncConfig) ViewRefresh() time.Duration {
	return time.Duration(c.ViewRefreshSeconds) * time.Second
}

// Debounce returns the per-product guard window as a duration.
func (c SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds) * time.Second
}

// PricingConfig carries the optional CEL price adjustment expression.
type PricingConfig struct {
	PriceRule string `koanf:"priceRule"`
}

// MessagesConfig carries the optional storefront message templates.
type MessagesConfig struct {
	InsufficientStock string `koanf:"insufficientStock"`
	FallbackNotice    string `koanf:"fallbackNotice"`
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Cache.TTLSeconds < 60 {
		return fmt.Errorf("config: cache.ttlSeconds must be at least 60, got %d", c.Server.Cache.TTLSeconds)
	}
	if c.Server.Fallback.FailureThreshold < 1 {
		return fmt.Errorf("config: fallback.failureThreshold must be at least 1, got %d", c.Server.Fallback.FailureThreshold)
	}
	if c.Server.Fallback.CooldownSeconds < 300 {
		return fmt.Errorf("config: fallback.cooldownSeconds must be at least 300, got %d", c.Server.Fallback.CooldownSeconds)
	}
	if c.Server.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: upstream.timeoutSeconds invalid: %d", c.Server.Upstream.TimeoutSeconds)
	}
	if c.Server.Upstream.ProbeTimeoutSeconds <= 0 {
		return fmt.Errorf("config: upstream.probeTimeoutSeconds invalid: %d", c.Server.Upstream.ProbeTimeoutSeconds)
	}
	if c.Server.Upstream.MaxRedirects < 0 {
		return fmt.Errorf("config: upstream.maxRedirects invalid: %d", c.Server.Upstream.MaxRedirects)
	}
	if c.Server.Sync.ViewRefreshSeconds < 0 || c.Server.Sync.DebounceSeconds < 0 || c.Server.Sync.SyncLogSize < 0 {
		return errors.New("config: sync values must not be negative")
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	return nil
}

// DefaultConfig returns the baseline values the service boots with when no
// file or environment overrides are present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8085,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Upstream: UpstreamConfig{
				TimeoutSeconds:      15,
				ProbeTimeoutSeconds: 10,
				MaxRedirects:        5,
			},
			Cache: CacheConfig{
				Backend:    "memory",
				TTLSeconds: 300,
			},
			Fallback: FallbackConfig{
				FailureThreshold: 5,
				CooldownSeconds:  3600,
			},
			Sync: SyncConfig{
				ViewRefreshSeconds: 600,
				DebounceSeconds:    3,
				SyncLogSize:        100,
			},
		},
	}
}
