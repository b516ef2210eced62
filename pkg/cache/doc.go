// Package cache provides the gateway's in-process response cache.
//
// The store keeps opaque JSON documents under deterministic keys with a
// per-entry TTL:
//
// - Expired entries are never returned (checked on every read)
// - A periodic sweep reclaims entries that are never read again
// - FlushAll removes everything atomically
// - Hit/miss counters and a key count are exposed for introspection
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	store := cache.NewMemoryStore(cache.DefaultConfig())
//	defer store.Close()
//
//	key := cache.CacheKey{
//		Method: "GET",
//		URL:    "https://badges.example.com/v1/users/1/badges",
//		Params: map[string]any{"limit": 10, "sortOrder": "Desc"},
//	}
//
//	if doc, ok := store.Get(key.String()); ok {
//		return doc
//	}
//	store.Set(key.String(), doc, 0) // 0 = DefaultTTL
//
// # Backends
//
//   - MemoryStore: mutex guarded map, exact key count (default)
//   - BigStore: allegro/bigcache, for large entry volumes
//
// Each store is an explicitly owned instance; nothing in this package is a
// process-wide singleton apart from the metric collectors.
//
// # Metrics
//
//   - gateway_cache_hits_total{backend}
//   - gateway_cache_misses_total{backend}
//   - gateway_cache_keys{backend}
//   - gateway_cache_evictions_total{backend,reason}
package cache
