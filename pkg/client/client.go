// Package client provides the gateway's upstream HTTP client with identity
// headers, an enforced timeout, error normalization and cache-through reads.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/upstream-gateway/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for upstream operations.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_requests_total",
		Help: "Total upstream requests by host and status",
	}, []string{"host", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by host",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"host"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_errors_total",
		Help: "Total upstream errors by kind",
	}, []string{"kind"})

	upstreamCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_upstream_coalesced_total",
		Help: "Total cacheable calls served by joining an in-flight fetch for the same key",
	})
)

const (
	// DefaultUserAgent is sent on every upstream call unless overridden.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	// DefaultTimeout bounds every upstream call.
	DefaultTimeout = 15 * time.Second

	// DefaultCacheTTL is the lifetime of cached upstream documents.
	DefaultCacheTTL = 300 * time.Second

	// DefaultMaxBodyBytes caps upstream response bodies.
	DefaultMaxBodyBytes = 10 << 20
)

// Client executes upstream calls.
type Client struct {
	httpClient *http.Client
	cache      cache.Store
	flights    singleflight.Group
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Store backs cacheable calls; nil disables caching
	Store cache.Store

	// User-Agent header sent on every call
	UserAgent string

	// Headers are additional fixed identity headers
	Headers map[string]string

	// Timeout bounds a single call, including reading the body
	Timeout time.Duration

	// CacheTTL is the lifetime of documents stored for cacheable calls
	CacheTTL time.Duration

	// MaxBodyBytes caps the accepted response size
	MaxBodyBytes int64
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(store cache.Store) Config {
	return Config{
		Store:     store,
		UserAgent: DefaultUserAgent,
		Headers: map[string]string{
			"Accept":          "application/json",
			"Accept-Language": "en-US,en;q=0.9",
		},
		Timeout:      DefaultTimeout,
		CacheTTL:     DefaultCacheTTL,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	logger := log.With().Str("component", "upstream-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cache:  cfg.Store,
		config: cfg,
		logger: logger,
	}, nil
}

// Call performs one upstream call and returns its JSON document.
//
// Cacheable calls are answered from the store when possible. On a miss the
// document is fetched, stored with the configured TTL and returned; reads do
// not extend an entry's lifetime. Concurrent misses for the same key share a
// single fetch. The client never retries: every failure is returned as an
// *UpstreamError.
func (c *Client) Call(ctx context.Context, spec CallSpec) (json.RawMessage, error) {
	if !spec.Cacheable || c.cache == nil {
		return c.do(ctx, spec)
	}

	key := spec.CacheKey().String()

	if doc, ok := c.cache.Get(key); ok {
		c.logger.Debug().
			Str("call", spec.Name).
			Str("key", key).
			Msg("Cache hit")
		return doc, nil
	}

	// The shared fetch must not die with whichever caller started it; it is
	// still bounded by the client timeout inside do.
	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		doc, err := c.do(detached, spec)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, doc, c.config.CacheTTL)
		c.logger.Debug().
			Str("call", spec.Name).
			Str("key", key).
			Dur("ttl", c.config.CacheTTL).
			Msg("Cached response")
		return doc, nil
	})

	select {
	case <-ctx.Done():
		return nil, classifyTransportError(ctx.Err(), spec.URL)
	case res := <-ch:
		if res.Shared {
			upstreamCoalescedTotal.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(json.RawMessage), nil
	}
}

// do executes the HTTP request for spec.
func (c *Client) do(ctx context.Context, spec CallSpec) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	rawURL, err := spec.requestURL()
	if err != nil {
		return nil, &UpstreamError{
			Kind:    KindNetwork,
			Message: "invalid call spec",
			URL:     spec.URL,
			Err:     fmt.Errorf("%w: %v", ErrInvalidSpec, err),
		}
	}
	host := hostOf(rawURL)

	var body io.Reader
	method := spec.method()
	if method == MethodPost && spec.Body != nil {
		payload, err := json.Marshal(spec.Body)
		if err != nil {
			return nil, &UpstreamError{
				Kind:    KindNetwork,
				Message: "invalid call spec",
				URL:     spec.URL,
				Err:     fmt.Errorf("%w: marshal body: %v", ErrInvalidSpec, err),
			}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, string(method), rawURL, body)
	if err != nil {
		return nil, &UpstreamError{
			Kind:    KindNetwork,
			Message: "invalid call spec",
			URL:     spec.URL,
			Err:     fmt.Errorf("%w: %v", ErrInvalidSpec, err),
		}
	}

	// Fixed identity headers
	req.Header.Set("User-Agent", c.config.UserAgent)
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().
		Str("call", spec.Name).
		Str("method", string(method)).
		Str("url", rawURL).
		Msg("Executing upstream request")

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(host).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		ue := classifyTransportError(err, rawURL)
		c.recordFailure(host, ue)
		c.logger.Error().
			Err(err).
			Str("call", spec.Name).
			Str("url", rawURL).
			Str("kind", string(ue.Kind)).
			Msg("Upstream request failed")
		return nil, ue
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		ue := classifyTransportError(err, rawURL)
		ue.Message = "read response body"
		c.recordFailure(host, ue)
		return nil, ue
	}
	if int64(len(data)) > c.config.MaxBodyBytes {
		ue := &UpstreamError{
			Kind:    KindNetwork,
			Message: fmt.Sprintf("response body exceeds %d bytes", c.config.MaxBodyBytes),
			URL:     rawURL,
		}
		c.recordFailure(host, ue)
		return nil, ue
	}

	doc := normalizeDocument(data)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ue := &UpstreamError{
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			URL:        rawURL,
		}
		if len(data) > 0 {
			ue.Body = doc
		}
		upstreamErrorsTotal.WithLabelValues(string(KindStatus)).Inc()
		upstreamRequestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()

		c.logger.Warn().
			Str("call", spec.Name).
			Str("url", rawURL).
			Int("status", resp.StatusCode).
			Msg("Upstream returned error status")
		return nil, ue
	}

	upstreamRequestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()
	return doc, nil
}

func (c *Client) recordFailure(host string, ue *UpstreamError) {
	upstreamErrorsTotal.WithLabelValues(string(ue.Kind)).Inc()
	upstreamRequestsTotal.WithLabelValues(host, string(ue.Kind)).Inc()
}

// normalizeDocument guarantees a valid JSON document: empty bodies become
// null and non-JSON bodies are wrapped as a JSON string.
func normalizeDocument(data []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	wrapped, _ := json.Marshal(string(data))
	return wrapped
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

// Close releases idle upstream connections. The cache store is owned by
// the caller and is not closed.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Store returns the cache store backing cacheable calls (may be nil).
func (c *Client) Store() cache.Store {
	return c.cache
}
