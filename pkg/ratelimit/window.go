// Package ratelimit implements fixed-window admission control for inbound
// gateway requests. Each identity (by default the caller's network address)
// gets Capacity admitted calls per Window; the count resets when a call
// arrives after the window has elapsed.
package ratelimit

import (
	"time"
)

const (
	// DefaultWindow is the default fixed window size.
	DefaultWindow = 60 * time.Second

	// DefaultCapacity is the default number of admitted calls per window.
	DefaultCapacity = 200
)

// Window is the admission state of one identity.
type Window struct {
	// Start is when the first call of the window arrived.
	Start time.Time `json:"start"`

	// Count is the number of calls admitted in this window.
	Count int `json:"count"`

	// Size is the window length.
	Size time.Duration `json:"size"`
}

// ResetAt returns the instant the window ends.
func (w Window) ResetAt() time.Time {
	return w.Start.Add(w.Size)
}

// IsOver reports whether the window has elapsed at now. The window is
// half-open: a call arriving exactly at ResetAt starts a fresh window.
func (w Window) IsOver(now time.Time) bool {
	return !now.Before(w.ResetAt())
}

// take applies one admission attempt to w and returns the new state.
// Rejected attempts leave the window unchanged.
func (w Window) take(now time.Time, size time.Duration, capacity int) (Window, bool) {
	if w.Start.IsZero() || w.IsOver(now) {
		return Window{Start: now, Count: 1, Size: size}, true
	}
	if w.Count >= capacity {
		return w, false
	}
	w.Count++
	return w, true
}
