package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps windows in process memory.
// Finished windows are pruned from within Take, at most once per prune
// interval, using the clock of the caller so idle identities do not
// accumulate.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[string]Window
	interval  time.Duration
	nextPrune time.Time
}

// Ensure MemoryStore implements WindowStore
var _ WindowStore = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory window store that prunes finished
// windows every pruneInterval. A non-positive interval uses DefaultWindow.
func NewMemoryStore(pruneInterval time.Duration) *MemoryStore {
	if pruneInterval <= 0 {
		pruneInterval = DefaultWindow
	}

	return &MemoryStore{
		windows:  make(map[string]Window),
		interval: pruneInterval,
	}
}

// Take implements WindowStore.
func (s *MemoryStore) Take(_ context.Context, identity string, now time.Time, size time.Duration, capacity int) (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextPrune.IsZero() {
		s.nextPrune = now.Add(s.interval)
	} else if !now.Before(s.nextPrune) {
		s.pruneLocked(now)
		s.nextPrune = now.Add(s.interval)
	}

	w, allowed := s.windows[identity].take(now, size, capacity)
	s.windows[identity] = w
	return w, allowed, nil
}

// Len returns the number of tracked identities.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Close implements WindowStore. The store holds no background resources.
func (s *MemoryStore) Close() error {
	return nil
}

// prune drops every window that is over at now.
func (s *MemoryStore) prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(now)
}

func (s *MemoryStore) pruneLocked(now time.Time) int {
	removed := 0
	for id, w := range s.windows {
		if w.IsOver(now) {
			delete(s.windows, id)
			removed++
		}
	}
	return removed
}
