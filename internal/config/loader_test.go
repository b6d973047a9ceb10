package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	loader := NewLoader("")
	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Listen.Address)
	assert.Equal(t, 8085, cfg.Server.Listen.Port)
	assert.Equal(t, "info", cfg.Server.Logging.Level)
	assert.Equal(t, "memory", cfg.Server.Cache.Backend)
	assert.Equal(t, 300, cfg.Server.Cache.TTLSeconds)
	assert.Equal(t, 5, cfg.Server.Fallback.FailureThreshold)
	assert.Equal(t, 3600, cfg.Server.Fallback.CooldownSeconds)
	assert.Equal(t, 600, cfg.Server.Sync.ViewRefreshSeconds)
	assert.Equal(t, 15, cfg.Server.Upstream.TimeoutSeconds)
}

func TestLoadYAMLFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
server:
  listen:
    port: 9090
  upstream:
    endpoint: https://api.example.test/v1/product
    apiKey: secret
  cache:
    ttlSeconds: 120
  fallback:
    failureThreshold: 3
`)
	loader := NewLoader("", path)
	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Listen.Port)
	assert.Equal(t, "https://api.example.test/v1/product", cfg.Server.Upstream.Endpoint)
	assert.Equal(t, "secret", cfg.Server.Upstream.APIKey)
	assert.Equal(t, 120, cfg.Server.Cache.TTLSeconds)
	assert.Equal(t, 3, cfg.Server.Fallback.FailureThreshold)
	// Untouched keys keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Listen.Address)
	assert.Equal(t, 3600, cfg.Server.Fallback.CooldownSeconds)
}

func TestLoadJSONFileByExtension(t *testing.T) {
	path := writeConfigFile(t, "config.json", `{"server": {"listen": {"port": 9191}}}`)
	loader := NewLoader("", path)
	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Listen.Port)
}

func TestLoadTOMLFileByExtension(t *testing.T) {
	path := writeConfigFile(t, "config.toml", "[server.listen]\nport = 9292\n")
	loader := NewLoader("", path)
	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9292, cfg.Server.Listen.Port)
}

func TestLoadMissingFileFails(t *testing.T) {
	loader := NewLoader("", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := loader.Load(context.Background())
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
server:
  listen:
    port: 9090
  cache:
    ttlSeconds: 120
`)
	t.Setenv("STOCKLINK_SERVER__LISTEN__PORT", "7070")
	t.Setenv("STOCKLINK_SERVER__CACHE__TTL_SECONDS", "180")
	t.Setenv("STOCKLINK_SERVER__UPSTREAM__API_KEY", "env-secret")
	t.Setenv("STOCKLINK_SERVER__FALLBACK__FAILURE_THRESHOLD", "7")

	loader := NewLoader("STOCKLINK", path)
	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Listen.Port)
	assert.Equal(t, 180, cfg.Server.Cache.TTLSeconds)
	assert.Equal(t, "env-secret", cfg.Server.Upstream.APIKey)
	assert.Equal(t, 7, cfg.Server.Fallback.FailureThreshold)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"ttl below minimum", "server:\n  cache:\n    ttlSeconds: 30\n"},
		{"cooldown below minimum", "server:\n  fallback:\n    cooldownSeconds: 60\n"},
		{"threshold below one", "server:\n  fallback:\n    failureThreshold: 0\n"},
		{"port out of range", "server:\n  listen:\n    port: 70000\n"},
		{"unknown cache backend", "server:\n  cache:\n    backend: memcached\n"},
		{"redis without address", "server:\n  cache:\n    backend: redis\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, "config.yaml", tc.yaml)
			_, err := NewLoader("", path).Load(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "15s", cfg.Server.Upstream.Timeout().String())
	assert.Equal(t, "10s", cfg.Server.Upstream.ProbeTimeout().String())
	assert.Equal(t, "5m0s", cfg.Server.Cache.TTL().String())
	assert.Equal(t, "1h0m0s", cfg.Server.Fallback.Cooldown().String())
	assert.Equal(t, "10m0s", cfg.Server.Sync.ViewRefresh().String())
	assert.Equal(t, "3s", cfg.Server.Sync.Debounce().String())
}
