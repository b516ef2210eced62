package cache

import (
	"encoding/json"
	"time"
)

// Entry represents a cached upstream document.
type Entry struct {
	// Key is the cache key string
	Key string `json:"key"`

	// Value is the opaque document
	Value json.RawMessage `json:"value"`

	// StoredAt is when the entry was written
	StoredAt time.Time `json:"stored_at"`

	// TTL is the lifetime granted at write time
	TTL time.Duration `json:"ttl"`
}

// ExpiresAt returns the instant the entry stops being served.
func (e *Entry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

// IsExpired reports whether the entry is past its TTL at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}
