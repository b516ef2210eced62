package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for admission decisions.
var (
	rateLimitDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_ratelimit_decisions_total",
		Help: "Total admission decisions by outcome (allowed, rejected, failed_open)",
	}, []string{"decision"})

	rateLimitStoreErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_ratelimit_store_errors_total",
		Help: "Total window store failures; affected requests are admitted",
	})
)

// Config holds the limiter configuration.
type Config struct {
	// Window is the fixed window size
	Window time.Duration

	// Capacity is the number of calls admitted per identity and window
	Capacity int

	// Now overrides the clock (tests)
	Now func() time.Time
}

// DefaultConfig returns a 200 calls per 60s configuration.
func DefaultConfig() Config {
	return Config{
		Window:   DefaultWindow,
		Capacity: DefaultCapacity,
		Now:      time.Now,
	}
}

// Decision is the outcome of one admission attempt.
type Decision struct {
	Allowed  bool
	Identity string

	// Count is the number of calls admitted in the current window
	Count int

	// Limit is the window capacity
	Limit int

	// Remaining is the number of calls still admitted in this window
	Remaining int

	// ResetAt is when the current window ends
	ResetAt time.Time

	// RetryAfter is the time until the window ends (rejections only)
	RetryAfter time.Duration
}

// Err returns nil for admitted calls and *Rejected otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &Rejected{
		Identity:   d.Identity,
		RetryAfter: d.RetryAfter,
	}
}

// Limiter gates inbound requests per identity. It never returns an error:
// when the window store fails the request is admitted.
type Limiter struct {
	store  WindowStore
	config Config
	logger zerolog.Logger
}

// NewLimiter creates a limiter over store.
func NewLimiter(store WindowStore, cfg Config, logger zerolog.Logger) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("window store is required")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("window must be positive (got %s)", cfg.Window)
	}
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("capacity must be at least 1 (got %d)", cfg.Capacity)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Limiter{
		store:  store,
		config: cfg,
		logger: logger,
	}, nil
}

// Admit records one call for identity and decides whether it may proceed.
func (l *Limiter) Admit(ctx context.Context, identity string) Decision {
	now := l.config.Now()

	w, allowed, err := l.store.Take(ctx, identity, now, l.config.Window, l.config.Capacity)
	if err != nil {
		rateLimitStoreErrorsTotal.Inc()
		rateLimitDecisionsTotal.WithLabelValues("failed_open").Inc()
		l.logger.Error().
			Err(err).
			Str("identity", identity).
			Msg("Rate limit store failed - admitting request")

		return Decision{
			Allowed:   true,
			Identity:  identity,
			Limit:     l.config.Capacity,
			Remaining: l.config.Capacity,
			ResetAt:   now.Add(l.config.Window),
		}
	}

	d := Decision{
		Allowed:   allowed,
		Identity:  identity,
		Count:     w.Count,
		Limit:     l.config.Capacity,
		Remaining: l.config.Capacity - w.Count,
		ResetAt:   w.ResetAt(),
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}

	if !allowed {
		d.RetryAfter = d.ResetAt.Sub(now)
		rateLimitDecisionsTotal.WithLabelValues("rejected").Inc()
		l.logger.Warn().
			Str("identity", identity).
			Int("count", w.Count).
			Dur("retry_after", d.RetryAfter).
			Msg("Rate limit exceeded - rejecting request")
		return d
	}

	rateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
	return d
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.config
}
