package cache

import (
	"encoding/json"
	"time"
)

const (
	// DefaultTTL is the lifetime used when Set is called without a TTL
	DefaultTTL = 5 * time.Minute

	// DefaultSweepInterval is how often expired entries are reclaimed
	DefaultSweepInterval = 60 * time.Second
)

// Store is an in-process key/value store with per-entry expiry.
//
// Contract:
//   - Get never returns an entry whose TTL has elapsed, sweep or no sweep.
//   - Set replaces the whole entry; readers never observe a partial write.
//   - FlushAll is atomic with respect to Get on any single key.
//   - Hit and miss counters only grow for the lifetime of the store.
type Store interface {
	// Get returns the stored value if present and unexpired.
	Get(key string) (json.RawMessage, bool)

	// Set inserts or overwrites key. ttl <= 0 selects the store default.
	Set(key string, value json.RawMessage, ttl time.Duration)

	// FlushAll removes every entry.
	FlushAll()

	// Stats returns the key count and lifetime hit/miss counters.
	Stats() Stats

	// Close stops background reclamation.
	Close() error
}

// Stats is a point-in-time view of a Store.
type Stats struct {
	Keys   int    `json:"keys"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// Config holds store configuration shared by the backends.
type Config struct {
	// DefaultTTL applies when Set receives ttl <= 0
	DefaultTTL time.Duration

	// SweepInterval is the period of the expiry sweep
	SweepInterval time.Duration

	// MaxTTL bounds entry lifetime for backends that need a global window (bigcache)
	MaxTTL time.Duration

	// SizeMB caps memory for backends that support it (bigcache); 0 = unbounded
	SizeMB int

	// Now overrides the clock (tests)
	Now func() time.Time
}

// DefaultConfig returns the store defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:    DefaultTTL,
		SweepInterval: DefaultSweepInterval,
		MaxTTL:        time.Hour,
		Now:           time.Now,
	}
}

func (c *Config) applyDefaults() {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.MaxTTL <= 0 {
		c.MaxTTL = time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
