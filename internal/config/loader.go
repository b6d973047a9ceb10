package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	ktoml "github.com/knadh/koanf/parsers/toml"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence
// rules. Config files may be YAML, JSON, or TOML, selected by extension.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.upstream.apikey":              "server.upstream.apiKey",
			"server.upstream.timeoutseconds":      "server.upstream.timeoutSeconds",
			"server.upstream.probetimeoutseconds": "server.upstream.probeTimeoutSeconds",
			"server.upstream.maxredirects":        "server.upstream.maxRedirects",
			"server.cache.ttlseconds":             "server.cache.ttlSeconds",
			"server.cache.redis.tls.cafile":       "server.cache.redis.tls.caFile",
			"server.fallback.failurethreshold":    "server.fallback.failureThreshold",
			"server.fallback.cooldownseconds":     "server.fallback.cooldownSeconds",
			"server.sync.viewrefreshseconds":      "server.sync.viewRefreshSeconds",
			"server.sync.debounceseconds":         "server.sync.debounceSeconds",
			"server.sync.synclogsize":             "server.sync.syncLogSize",
			"server.pricing.pricerule":            "server.pricing.priceRule",
			"server.messages.insufficientstock":   "server.messages.insufficientStock",
			"server.messages.fallbacknotice":      "server.messages.fallbackNotice",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path
			// (SERVER__CACHE__TTL_SECONDS -> server.cache.ttlseconds).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			key = strings.ReplaceAll(key, "_", "")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			return lower
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kjson.Parser()
	case ".toml":
		return ktoml.Parser()
	default:
		return kyaml.Parser()
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap
// provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"upstream": map[string]any{
				"endpoint":            cfg.Server.Upstream.Endpoint,
				"apiKey":              cfg.Server.Upstream.APIKey,
				"timeoutSeconds":      cfg.Server.Upstream.TimeoutSeconds,
				"probeTimeoutSeconds": cfg.Server.Upstream.ProbeTimeoutSeconds,
				"maxRedirects":        cfg.Server.Upstream.MaxRedirects,
			},
			"cache": map[string]any{
				"backend":    cfg.Server.Cache.Backend,
				"ttlSeconds": cfg.Server.Cache.TTLSeconds,
				"redis": map[string]any{
					"address":  cfg.Server.Cache.Redis.Address,
					"username": cfg.Server.Cache.Redis.Username,
					"password": cfg.Server.Cache.Redis.Password,
					"db":       cfg.Server.Cache.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Redis.TLS.CAFile,
					},
				},
			},
			"fallback": map[string]any{
				"failureThreshold": cfg.Server.Fallback.FailureThreshold,
				"cooldownSeconds":  cfg.Server.Fallback.CooldownSeconds,
				"disabled":         cfg.Server.Fallback.Disabled,
			},
			"sync": map[string]any{
				"viewRefreshSeconds": cfg.Server.Sync.ViewRefreshSeconds,
				"debounceSeconds":    cfg.Server.Sync.DebounceSeconds,
				"syncLogSize":        cfg.Server.Sync.SyncLogSize,
			},
			"pricing": map[string]any{
				"priceRule": cfg.Server.Pricing.PriceRule,
			},
			"messages": map[string]any{
				"insufficientStock": cfg.Server.Messages.InsufficientStock,
				"fallbackNotice":    cfg.Server.Messages.FallbackNotice,
			},
		},
	}
}
