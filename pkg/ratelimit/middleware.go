package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// IdentityFunc extracts the rate limit identity from a request.
type IdentityFunc func(r *http.Request) string

// RemoteIP identifies callers by the connection's remote address.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ForwardedIP identifies callers by the first X-Forwarded-For hop, falling
// back to RemoteIP. Only use it behind a trusted proxy.
func ForwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return RemoteIP(r)
}

// Middleware admits each request through limiter before calling next.
// Rejected requests get 429 with Retry-After and a JSON error body.
func Middleware(limiter *Limiter, identity IdentityFunc) func(http.Handler) http.Handler {
	if identity == nil {
		identity = RemoteIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Admit(r.Context(), identity(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				seconds := int(math.Ceil(d.RetryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				h.Set("Retry-After", strconv.Itoa(seconds))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error":       "too_many_requests",
					"message":     "Too many requests, please try again later.",
					"retry_after": seconds,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
