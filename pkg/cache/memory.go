package cache

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const backendMemory = "memory"

// MemoryStore is a map-backed Store with lazy expiry on read and a periodic
// sweep for keys that are never read again.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	hits   atomic.Uint64
	misses atomic.Uint64

	cfg       Config
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a memory store and starts its sweeper.
// Callers own the store and must Close it.
func NewMemoryStore(cfg Config) *MemoryStore {
	cfg.applyDefaults()

	s := &MemoryStore{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()

	return s
}

// Get returns a copy of the value for key if present and unexpired.
// Expired entries are reported as misses and removed.
func (s *MemoryStore) Get(key string) (json.RawMessage, bool) {
	// Expiry is evaluated under the read lock so a concurrent sweep (which
	// needs the write lock) cannot interleave with this access.
	s.mu.RLock()
	entry, ok := s.entries[key]
	expired := ok && entry.IsExpired(s.cfg.Now())
	s.mu.RUnlock()

	if !ok {
		s.recordMiss()
		return nil, false
	}

	if expired {
		s.mu.Lock()
		// Only drop the entry we saw; a concurrent Set may have replaced it.
		if current, still := s.entries[key]; still && current == entry {
			delete(s.entries, key)
			CacheEvictions.WithLabelValues(backendMemory, "expired").Inc()
		}
		n := len(s.entries)
		s.mu.Unlock()

		CacheKeys.WithLabelValues(backendMemory).Set(float64(n))
		s.recordMiss()
		return nil, false
	}

	s.hits.Add(1)
	CacheHits.WithLabelValues(backendMemory).Inc()
	return clone(entry.Value), true
}

// Set stores a copy of value under key for ttl (store default when ttl <= 0).
func (s *MemoryStore) Set(key string, value json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	entry := &Entry{
		Key:      key,
		Value:    clone(value),
		StoredAt: s.cfg.Now(),
		TTL:      ttl,
	}

	s.mu.Lock()
	s.entries[key] = entry
	n := len(s.entries)
	s.mu.Unlock()

	CacheKeys.WithLabelValues(backendMemory).Set(float64(n))
}

// FlushAll removes every entry in one step.
func (s *MemoryStore) FlushAll() {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string]*Entry)
	s.mu.Unlock()

	CacheEvictions.WithLabelValues(backendMemory, "flush").Add(float64(n))
	CacheKeys.WithLabelValues(backendMemory).Set(0)
}

// Stats returns the current key count (including expired entries the sweep
// has not reclaimed yet) and lifetime hit/miss counters.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	n := len(s.entries)
	s.mu.RUnlock()

	return Stats{
		Keys:   n,
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
	return nil
}

func (s *MemoryStore) recordMiss() {
	s.misses.Add(1)
	CacheMisses.WithLabelValues(backendMemory).Inc()
}

// run sweeps expired entries every SweepInterval until Close.
func (s *MemoryStore) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep removes all expired entries and returns how many were removed.
func (s *MemoryStore) sweep() int {
	s.mu.Lock()
	now := s.cfg.Now()
	removed := 0
	for key, entry := range s.entries {
		if entry.IsExpired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	n := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		CacheEvictions.WithLabelValues(backendMemory, "expired").Add(float64(removed))
	}
	CacheKeys.WithLabelValues(backendMemory).Set(float64(n))

	return removed
}

// clone detaches stored documents from the slices callers hold.
func clone(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
