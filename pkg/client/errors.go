package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrInvalidSpec is returned for calls that cannot be turned into a request.
	ErrInvalidSpec = errors.New("invalid call spec")
)

// Kind classifies an upstream failure.
type Kind string

const (
	// KindNetwork represents transport failures (DNS, refused, reset).
	KindNetwork Kind = "network"

	// KindTimeout represents calls that exceeded the client timeout.
	KindTimeout Kind = "timeout"

	// KindStatus represents non-2xx upstream responses.
	KindStatus Kind = "status"

	// KindCanceled represents calls abandoned because the caller's context ended.
	KindCanceled Kind = "canceled"
)

// UpstreamError is the single error shape for failed upstream calls.
type UpstreamError struct {
	Kind Kind

	// StatusCode is set for KindStatus
	StatusCode int

	// Body is the upstream error payload (JSON, or a JSON string) when present
	Body json.RawMessage

	Message string
	URL     string
	Err     error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("upstream %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("upstream %s error: %s: %v", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("upstream %s error: %s", e.Kind, e.Message)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a caller-side retry can reasonably succeed.
// Client errors (4xx other than 429), timeouts and cancellations are final.
func (e *UpstreamError) Retryable() bool {
	switch e.Kind {
	case KindNetwork:
		return true
	case KindStatus:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// Payload returns what a route layer should pass through to its caller:
// the upstream body when present, otherwise the message as a JSON string.
func (e *UpstreamError) Payload() json.RawMessage {
	if len(e.Body) > 0 {
		return e.Body
	}
	msg, _ := json.Marshal(e.Error())
	return msg
}

// MarshalJSON renders the error as a failure marker.
func (e *UpstreamError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind       Kind            `json:"kind"`
		StatusCode int             `json:"status,omitempty"`
		Message    string          `json:"message"`
		Body       json.RawMessage `json:"body,omitempty"`
	}{
		Kind:       e.Kind,
		StatusCode: e.StatusCode,
		Message:    e.Message,
		Body:       e.Body,
	})
}

// AsUpstreamError normalizes any error into an *UpstreamError.
func AsUpstreamError(err error) *UpstreamError {
	if err == nil {
		return nil
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue
	}

	return classifyTransportError(err, "")
}

// classifyTransportError maps a transport-level error onto a Kind.
func classifyTransportError(err error, rawURL string) *UpstreamError {
	ue := &UpstreamError{
		Kind:    KindNetwork,
		Message: "request failed",
		URL:     rawURL,
		Err:     err,
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		ue.Kind = KindTimeout
		ue.Message = "request timed out"
	case errors.Is(err, context.Canceled):
		ue.Kind = KindCanceled
		ue.Message = "request canceled"
	case errors.As(err, &netErr) && netErr.Timeout():
		ue.Kind = KindTimeout
		ue.Message = "request timed out"
	}

	return ue
}
