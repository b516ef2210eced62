package ratelimit

import (
	"context"
	"time"
)

// WindowStore holds per-identity windows.
//
// Take must be atomic per identity: two concurrent calls for the same
// identity never both observe the last free slot.
type WindowStore interface {
	// Take records one admission attempt for identity at now and returns
	// the resulting window and whether the attempt was admitted.
	Take(ctx context.Context, identity string, now time.Time, size time.Duration, capacity int) (Window, bool, error)

	// Close releases background resources.
	Close() error
}
