// Command gateway serves aggregated, cached views of upstream JSON APIs
// as described by a route table.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/upstream-gateway/internal/config"
	"github.com/Sternrassler/upstream-gateway/internal/routes"
	"github.com/Sternrassler/upstream-gateway/internal/server"
	"github.com/Sternrassler/upstream-gateway/pkg/aggregate"
	"github.com/Sternrassler/upstream-gateway/pkg/cache"
	"github.com/Sternrassler/upstream-gateway/pkg/client"
	"github.com/Sternrassler/upstream-gateway/pkg/logging"
	"github.com/Sternrassler/upstream-gateway/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	envFile := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	logging.Setup(logging.DefaultConfig())

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.Setup(logging.Config{Level: level, Pretty: cfg.LogPretty, Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Gateway stopped with error")
	}
}

// run serves until ctx is done, then shuts down gracefully.
func run(ctx context.Context, cfg config.Config) error {
	gw, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- gw.server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := gw.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// gateway holds the wired components and everything that needs closing.
type gateway struct {
	server  *server.Server
	closers []func() error
	logger  zerolog.Logger
}

// Close releases the components in reverse construction order.
func (g *gateway) Close() error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	g.logger.Info().Msg("Gateway resources released")
	return errors.Join(errs...)
}

func build(ctx context.Context, cfg config.Config) (gw *gateway, err error) {
	gw = &gateway{logger: logging.NewLogger("gateway")}
	defer func() {
		if err != nil {
			gw.Close()
		}
	}()

	store, err := newCacheStore(cfg)
	if err != nil {
		return gw, err
	}
	gw.closers = append(gw.closers, store.Close)

	clientCfg := client.DefaultConfig(store)
	clientCfg.Timeout = cfg.UpstreamTimeout
	clientCfg.CacheTTL = cfg.CacheTTL
	if cfg.UserAgent != "" {
		clientCfg.UserAgent = cfg.UserAgent
	}
	upstream, err := client.New(clientCfg)
	if err != nil {
		return gw, fmt.Errorf("create upstream client: %w", err)
	}
	gw.closers = append(gw.closers, upstream.Close)

	windows, err := newWindowStore(ctx, cfg)
	if err != nil {
		return gw, err
	}
	gw.closers = append(gw.closers, windows.Close)

	limiter, err := ratelimit.NewLimiter(windows, ratelimit.Config{
		Window:   cfg.RateLimitWindow,
		Capacity: cfg.RateLimitCapacity,
	}, logging.NewLogger("ratelimit"))
	if err != nil {
		return gw, fmt.Errorf("create rate limiter: %w", err)
	}

	table, err := routes.Load(cfg.RoutesFile)
	if err != nil {
		return gw, err
	}

	orch := aggregate.New(upstream, aggregate.Config{MaxConcurrency: cfg.MaxConcurrency}, logging.NewLogger("aggregate"))
	handler := routes.NewHandler(table, orch, logging.NewLogger("routes"))

	gw.server = server.New(server.Config{
		Addr:       cfg.Addr(),
		TrustProxy: cfg.TrustProxy,
	}, store, limiter, handler, logging.NewLogger("server"))

	gw.logger.Info().
		Str("cache_backend", cfg.CacheBackend).
		Str("ratelimit_backend", cfg.RateLimitBackend).
		Int("routes", len(table.Routes)).
		Dur("cache_ttl", cfg.CacheTTL).
		Msg("Gateway configured")

	return gw, nil
}

func newCacheStore(cfg config.Config) (cache.Store, error) {
	storeCfg := cache.DefaultConfig()
	storeCfg.DefaultTTL = cfg.CacheTTL
	storeCfg.SweepInterval = cfg.CacheSweepInterval

	switch cfg.CacheBackend {
	case config.CacheBackendBigCache:
		storeCfg.MaxTTL = cfg.BigCacheMaxTTL
		storeCfg.SizeMB = cfg.BigCacheSizeMB
		store, err := cache.NewBigStore(storeCfg, logging.NewLogger("cache"))
		if err != nil {
			return nil, fmt.Errorf("create cache store: %w", err)
		}
		return store, nil
	default:
		return cache.NewMemoryStore(storeCfg), nil
	}
}

func newWindowStore(ctx context.Context, cfg config.Config) (ratelimit.WindowStore, error) {
	if cfg.RateLimitBackend != config.RateLimitBackendRedis {
		return ratelimit.NewMemoryStore(cfg.RateLimitWindow), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")

	return &redisWindows{RedisStore: ratelimit.NewRedisStore(rdb, ""), client: rdb}, nil
}

// redisWindows closes the Redis client together with the store.
type redisWindows struct {
	*ratelimit.RedisStore
	client *redis.Client
}

func (w *redisWindows) Close() error {
	return w.client.Close()
}
