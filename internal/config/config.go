// Package config loads gateway configuration from the environment.
//
// A .env file is read first when present; variables already set in the
// environment win. All variables carry the GATEWAY_ prefix, e.g.
// GATEWAY_PORT or GATEWAY_REDIS_ADDR.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Sternrassler/upstream-gateway/pkg/logging"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Prefix is the environment variable prefix.
const Prefix = "GATEWAY"

// Cache backends.
const (
	CacheBackendMemory   = "memory"
	CacheBackendBigCache = "bigcache"
)

// Rate limit backends.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// RedisConfig configures the shared rate limit store.
type RedisConfig struct {
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD" default:""`
	DB       int    `envconfig:"DB" default:"0"`
}

// Config is the gateway configuration.
type Config struct {
	Port      int    `envconfig:"PORT" default:"3000"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`

	// UserAgent overrides the browser identity sent upstream
	UserAgent       string        `envconfig:"USER_AGENT"`
	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"15s"`

	CacheTTL           time.Duration `envconfig:"CACHE_TTL" default:"300s"`
	CacheSweepInterval time.Duration `envconfig:"CACHE_SWEEP_INTERVAL" default:"60s"`
	CacheBackend       string        `envconfig:"CACHE_BACKEND" default:"memory"`
	BigCacheMaxTTL     time.Duration `envconfig:"BIGCACHE_MAX_TTL" default:"1h"`
	BigCacheSizeMB     int           `envconfig:"BIGCACHE_SIZE_MB" default:"256"`

	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	RateLimitCapacity int           `envconfig:"RATE_LIMIT_CAPACITY" default:"200"`
	RateLimitBackend  string        `envconfig:"RATE_LIMIT_BACKEND" default:"memory"`
	Redis             RedisConfig   `envconfig:"REDIS"`

	// TrustProxy takes the caller identity from X-Forwarded-For
	TrustProxy bool `envconfig:"TRUST_PROXY" default:"false"`

	// RoutesFile replaces the embedded route table when set
	RoutesFile string `envconfig:"ROUTES_FILE"`

	// MaxConcurrency caps in-flight calls per aggregation; 0 = unlimited
	MaxConcurrency int `envconfig:"MAX_CONCURRENCY" default:"0"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads envFile (if it exists) and then the environment.
// An empty envFile means ".env".
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}

	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
		log.Debug().Str("file", envFile).Msg("No env file found, using environment only")
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}

	cfg.CacheBackend = strings.ToLower(cfg.CacheBackend)
	cfg.RateLimitBackend = strings.ToLower(cfg.RateLimitBackend)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enums.
func (c Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be in 1..65535 (got %d)", c.Port))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	for name, d := range map[string]time.Duration{
		"upstream timeout":     c.UpstreamTimeout,
		"cache ttl":            c.CacheTTL,
		"cache sweep interval": c.CacheSweepInterval,
		"rate limit window":    c.RateLimitWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive (got %s)", name, d))
		}
	}

	switch c.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendBigCache:
		if c.BigCacheMaxTTL < c.CacheTTL {
			errs = append(errs, fmt.Errorf("bigcache max ttl %s is shorter than cache ttl %s", c.BigCacheMaxTTL, c.CacheTTL))
		}
		if c.BigCacheSizeMB < 0 {
			errs = append(errs, fmt.Errorf("bigcache size must not be negative (got %d)", c.BigCacheSizeMB))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.CacheBackend))
	}

	if c.RateLimitCapacity < 1 {
		errs = append(errs, fmt.Errorf("rate limit capacity must be at least 1 (got %d)", c.RateLimitCapacity))
	}
	switch c.RateLimitBackend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis address is required for the redis rate limit backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown rate limit backend %q", c.RateLimitBackend))
	}

	if c.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("max concurrency must not be negative (got %d)", c.MaxConcurrency))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
