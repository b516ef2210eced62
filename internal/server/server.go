// Package server wires the gateway's HTTP surface: the route table, cache
// introspection, health and metrics endpoints behind request logging and
// rate limiting.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/upstream-gateway/internal/routes"
	"github.com/Sternrassler/upstream-gateway/pkg/cache"
	"github.com/Sternrassler/upstream-gateway/pkg/metrics"
	"github.com/Sternrassler/upstream-gateway/pkg/ratelimit"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":3000"
	Addr string

	// TrustProxy takes the rate limit identity from X-Forwarded-For
	TrustProxy bool

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// Server is the gateway HTTP server.
type Server struct {
	cfg     Config
	store   cache.Store
	router  *mux.Router
	http    *http.Server
	started time.Time
	now     func() time.Time
	logger  zerolog.Logger
}

// New builds the router. store may be nil when caching is disabled;
// limiter may be nil to serve without rate limiting.
func New(cfg Config, store cache.Store, limiter *ratelimit.Limiter, handler *routes.Handler, logger zerolog.Logger) *Server {
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		router:  mux.NewRouter(),
		started: time.Now(),
		now:     time.Now,
		logger:  logger,
	}

	s.router.Use(s.logRequests)
	if limiter != nil {
		identity := ratelimit.RemoteIP
		if cfg.TrustProxy {
			identity = ratelimit.ForwardedIP
		}
		s.router.Use(ratelimit.Middleware(limiter, identity))
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/cache/clear", s.handleCacheClear).Methods(http.MethodGet, http.MethodPost)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	if handler != nil {
		handler.Register(s.router)
	}

	s.router.NotFoundHandler = s.logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	}))

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("Server started")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down server")
	return s.http.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		event := s.logger.Info()
		if m.Code >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", ratelimit.RemoteIP(r)).
			Int("status", m.Code).
			Dur("duration", m.Duration).
			Int64("bytes", m.Written).
			Msg("Request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status    string      `json:"status"`
	Uptime    float64     `json:"uptime"`
	Cache     cache.Stats `json:"cache"`
	Timestamp string      `json:"timestamp"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.now()

	resp := StatusResponse{
		Status:    "ok",
		Uptime:    now.Sub(s.started).Seconds(),
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
	if s.store != nil {
		resp.Cache = s.store.Stats()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		keys := s.store.Stats().Keys
		s.store.FlushAll()
		s.logger.Info().Int("keys", keys).Msg("Cache cleared")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Cache cleared",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
