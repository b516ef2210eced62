package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited matches every *Rejected via errors.Is.
var ErrRateLimited = errors.New("rate limit exceeded")

// Rejected reports a denied admission.
type Rejected struct {
	Identity   string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Rejected) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Identity, e.RetryAfter.Round(time.Millisecond))
}

// Is reports ErrRateLimited.
func (e *Rejected) Is(target error) bool {
	return target == ErrRateLimited
}
