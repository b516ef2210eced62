package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/rs/zerolog"
)

const (
	backendBigCache = "bigcache"

	// envelopeHeader is stored_at (unix nanos) + ttl (nanos)
	envelopeHeader = 16
)

// BigStore is a Store backed by bigcache. It trades the exact key count of
// MemoryStore for GC-friendly storage of large volumes of entries.
//
// bigcache only supports one global lifetime, so every value is wrapped in
// an envelope carrying its own StoredAt/TTL and checked on read. Expired
// envelopes stay in place until bigcache's clean window drops them; deleting
// on read could race with a concurrent Set of the same key.
type BigStore struct {
	cache  *bigcache.BigCache
	cfg    Config
	logger zerolog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Ensure BigStore implements Store
var _ Store = (*BigStore)(nil)

// NewBigStore creates a bigcache backed store.
// Entry TTLs are capped at cfg.MaxTTL, the bigcache life window.
func NewBigStore(cfg Config, logger zerolog.Logger) (*BigStore, error) {
	cfg.applyDefaults()

	bcCfg := bigcache.DefaultConfig(cfg.MaxTTL)
	bcCfg.CleanWindow = cfg.SweepInterval
	bcCfg.HardMaxCacheSize = cfg.SizeMB
	bcCfg.Shards = 64
	bcCfg.MaxEntriesInWindow = 10000 // initial allocation hint only
	bcCfg.Verbose = false

	bc, err := bigcache.New(context.Background(), bcCfg)
	if err != nil {
		return nil, fmt.Errorf("create bigcache: %w", err)
	}

	return &BigStore{
		cache:  bc,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Get returns the value for key if present and unexpired.
func (s *BigStore) Get(key string) (json.RawMessage, bool) {
	data, err := s.cache.Get(key)
	if err != nil {
		s.recordMiss()
		return nil, false
	}

	entry, ok := decodeEnvelope(key, data)
	if !ok {
		s.logger.Warn().Str("key", key).Msg("Dropping malformed cache envelope")
		_ = s.cache.Delete(key)
		s.recordMiss()
		return nil, false
	}

	if entry.IsExpired(s.cfg.Now()) {
		s.recordMiss()
		return nil, false
	}

	s.hits.Add(1)
	CacheHits.WithLabelValues(backendBigCache).Inc()
	return entry.Value, true
}

// Set stores value under key for ttl (store default when ttl <= 0).
// A ttl above MaxTTL is capped and logged; config validation rejects such
// settings for the gateway.
func (s *BigStore) Set(key string, value json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl > s.cfg.MaxTTL {
		s.logger.Warn().
			Str("key", key).
			Dur("ttl", ttl).
			Dur("max_ttl", s.cfg.MaxTTL).
			Msg("Cache TTL exceeds bigcache life window, entry expires at max ttl")
		ttl = s.cfg.MaxTTL
	}

	if err := s.cache.Set(key, encodeEnvelope(s.cfg.Now(), ttl, value)); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to store cache entry")
		return
	}

	CacheKeys.WithLabelValues(backendBigCache).Set(float64(s.cache.Len()))
}

// FlushAll resets every shard.
func (s *BigStore) FlushAll() {
	n := s.cache.Len()
	if err := s.cache.Reset(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to reset bigcache")
		return
	}

	CacheEvictions.WithLabelValues(backendBigCache, "flush").Add(float64(n))
	CacheKeys.WithLabelValues(backendBigCache).Set(0)
}

// Stats returns the bigcache entry count and lifetime hit/miss counters.
func (s *BigStore) Stats() Stats {
	return Stats{
		Keys:   s.cache.Len(),
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
}

// Close stops bigcache's cleaner goroutine.
func (s *BigStore) Close() error {
	return s.cache.Close()
}

func (s *BigStore) recordMiss() {
	s.misses.Add(1)
	CacheMisses.WithLabelValues(backendBigCache).Inc()
}

func encodeEnvelope(storedAt time.Time, ttl time.Duration, value json.RawMessage) []byte {
	buf := make([]byte, envelopeHeader+len(value))
	binary.BigEndian.PutUint64(buf[0:8], uint64(storedAt.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(ttl))
	copy(buf[envelopeHeader:], value)
	return buf
}

func decodeEnvelope(key string, data []byte) (*Entry, bool) {
	if len(data) < envelopeHeader {
		return nil, false
	}

	return &Entry{
		Key:      key,
		StoredAt: time.Unix(0, int64(binary.BigEndian.Uint64(data[0:8]))),
		TTL:      time.Duration(binary.BigEndian.Uint64(data[8:16])),
		Value:    json.RawMessage(data[envelopeHeader:]),
	}, true
}
