// Package metrics exposes the gateway's Prometheus metrics.
// All metrics are defined in their respective packages (cache, client,
// ratelimit, aggregate) to maintain modularity and avoid circular
// dependencies.
//
// This package provides the HTTP handler and a reference for all available
// metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the gateway.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - gateway_cache_hits_total{backend} (Counter): Cache hits by backend (memory, bigcache)
//   - gateway_cache_misses_total{backend} (Counter): Cache misses, including expired entries
//   - gateway_cache_keys{backend} (Gauge): Current number of stored keys
//   - gateway_cache_evictions_total{backend, reason} (Counter): Entries removed by expiry, sweep or flush
//
// Upstream Metrics (pkg/client):
//   - gateway_upstream_requests_total{host, status} (Counter): Upstream requests by host and status
//   - gateway_upstream_request_duration_seconds{host} (Histogram): Upstream request duration
//   - gateway_upstream_errors_total{kind} (Counter): Errors by kind (network, timeout, status, canceled)
//   - gateway_upstream_coalesced_total (Counter): Cache misses served by an in-flight fetch
//
// Retry Metrics (pkg/client):
//   - gateway_retries_total{kind} (Counter): Retry attempts by error kind
//   - gateway_retry_backoff_seconds (Histogram): Backoff duration before a retry
//   - gateway_retry_exhausted_total{kind} (Counter): Calls that exhausted max attempts
//
// Rate Limit Metrics (pkg/ratelimit):
//   - gateway_ratelimit_decisions_total{decision} (Counter): allowed, rejected, failed_open
//   - gateway_ratelimit_store_errors_total (Counter): Window store failures
//
// Aggregation Metrics (pkg/aggregate):
//   - gateway_aggregations_total{policy, outcome} (Counter): success, partial, failure
//   - gateway_aggregation_duration_seconds{policy} (Histogram): Aggregation duration
//   - gateway_subcall_failures_total{policy} (Counter): Failed sub-calls
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(gateway_cache_hits_total[5m])) /
//   (sum(rate(gateway_cache_hits_total[5m])) + sum(rate(gateway_cache_misses_total[5m])))
//
//   # Rejection Rate
//   rate(gateway_ratelimit_decisions_total{decision="rejected"}[5m])
//
//   # Upstream Timeout Rate
//   rate(gateway_upstream_errors_total{kind="timeout"}[5m])
//
//   # P95 Aggregation Latency
//   histogram_quantile(0.95, rate(gateway_aggregation_duration_seconds_bucket[5m]))
