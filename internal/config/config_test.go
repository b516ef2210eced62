package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL)
	assert.Equal(t, 60*time.Second, cfg.CacheSweepInterval)
	assert.Equal(t, CacheBackendMemory, cfg.CacheBackend)
	assert.Equal(t, 60*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 200, cfg.RateLimitCapacity)
	assert.Equal(t, RateLimitBackendMemory, cfg.RateLimitBackend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.TrustProxy)
	assert.Empty(t, cfg.RoutesFile)
	assert.Equal(t, ":3000", cfg.Addr())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "8080")
	t.Setenv("GATEWAY_CACHE_TTL", "90s")
	t.Setenv("GATEWAY_RATE_LIMIT_BACKEND", "Redis")
	t.Setenv("GATEWAY_REDIS_ADDR", "redis:6379")
	t.Setenv("GATEWAY_REDIS_DB", "2")
	t.Setenv("GATEWAY_TRUST_PROXY", "true")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, RateLimitBackendRedis, cfg.RateLimitBackend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.True(t, cfg.TrustProxy)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GATEWAY_RATE_LIMIT_CAPACITY=5\nGATEWAY_LOG_LEVEL=debug\n"), 0o600))

	// values already in the environment take precedence over the file
	t.Setenv("GATEWAY_LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("GATEWAY_RATE_LIMIT_CAPACITY") })

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RateLimitCapacity)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("GATEWAY_CACHE_TTL", "forever")

	_, err := Load(missingEnvFile(t))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load(filepath.Join(os.TempDir(), "gateway-config-test-missing.env"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		contains string
	}{
		{"bad port", func(c *Config) { c.Port = 0 }, "port"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"zero timeout", func(c *Config) { c.UpstreamTimeout = 0 }, "upstream timeout"},
		{"unknown cache backend", func(c *Config) { c.CacheBackend = "disk" }, "cache backend"},
		{"bigcache window too short", func(c *Config) {
			c.CacheBackend = CacheBackendBigCache
			c.BigCacheMaxTTL = time.Second
		}, "bigcache max ttl"},
		{"zero capacity", func(c *Config) { c.RateLimitCapacity = 0 }, "capacity"},
		{"unknown limiter backend", func(c *Config) { c.RateLimitBackend = "etcd" }, "rate limit backend"},
		{"redis without address", func(c *Config) {
			c.RateLimitBackend = RateLimitBackendRedis
			c.Redis.Addr = ""
		}, "redis address"},
		{"negative concurrency", func(c *Config) { c.MaxConcurrency = -1 }, "concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}

	assert.NoError(t, valid().Validate())
}
