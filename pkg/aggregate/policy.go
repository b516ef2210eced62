package aggregate

import (
	"fmt"
	"strings"
)

// Policy selects how sub-call failures affect the aggregation.
type Policy string

const (
	// AllOrNothing fails the aggregation on the first failing call.
	AllOrNothing Policy = "all_or_nothing"

	// BestEffort keeps every outcome by name.
	BestEffort Policy = "best_effort"
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	return string(p)
}

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p == AllOrNothing || p == BestEffort
}

// ParsePolicy parses a policy name. Matching ignores case and accepts
// dashes in place of underscores.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !p.Valid() {
		return "", fmt.Errorf("unknown policy %q (want %s or %s)", s, AllOrNothing, BestEffort)
	}
	return p, nil
}
