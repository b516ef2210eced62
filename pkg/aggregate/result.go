package aggregate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Sternrassler/upstream-gateway/pkg/client"
)

// ErrInvalidRequest is returned for requests rejected before any dispatch.
var ErrInvalidRequest = errors.New("invalid aggregation request")

// Request is one aggregation.
type Request struct {
	// Calls are dispatched concurrently; names must be unique and non-empty
	Calls []client.CallSpec

	// Policy defaults to AllOrNothing
	Policy Policy

	// Retry wraps each call with client.Retry when enabled
	Retry client.RetryConfig
}

// Outcome is the settled state of one call.
type Outcome struct {
	Value json.RawMessage
	Err   *client.UpstreamError
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// MarshalJSON renders the value itself, or {"error": {...}} for failures.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Err != nil {
		return json.Marshal(struct {
			Error *client.UpstreamError `json:"error"`
		}{o.Err})
	}
	if len(o.Value) == 0 {
		return []byte("null"), nil
	}
	return o.Value, nil
}

// Result maps call names to outcomes.
type Result struct {
	Policy   Policy
	Outcomes map[string]Outcome
}

// Value returns the document of a successful call.
func (r *Result) Value(name string) (json.RawMessage, bool) {
	o, ok := r.Outcomes[name]
	if !ok || !o.OK() {
		return nil, false
	}
	return o.Value, true
}

// Succeeded returns the names of successful calls, sorted.
func (r *Result) Succeeded() []string {
	return r.names(true)
}

// Failed returns the names of failed calls, sorted.
func (r *Result) Failed() []string {
	return r.names(false)
}

func (r *Result) names(ok bool) []string {
	names := make([]string, 0, len(r.Outcomes))
	for name, o := range r.Outcomes {
		if o.OK() == ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// MarshalJSON renders the outcomes as one object keyed by call name.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.Outcomes == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Outcomes)
}

// Failure is the single error of a failed AllOrNothing aggregation.
type Failure struct {
	// Call is the name of the first call to fail
	Call string
	Err  *client.UpstreamError
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("call %q failed: %v", f.Call, f.Err)
}

// Unwrap returns the upstream error.
func (f *Failure) Unwrap() error {
	if f.Err == nil {
		return nil
	}
	return f.Err
}
