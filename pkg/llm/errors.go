package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorClass classifies a Gateway failure for retry decisions, following
// the teacher's pkg/mcp/recovery.go ClassifyError shape.
type ErrorClass int

const (
	// NoRetry — the error is not recoverable (bad request, auth failure).
	NoRetry ErrorClass = iota
	// RetryTransient — rate limit or server error, retry with backoff.
	RetryTransient
	// RetryEmpty — the provider returned a syntactically valid but empty
	// response; retried with a distinct, shorter backoff.
	RetryEmpty
)

// Error wraps a Gateway failure with its provider, HTTP status (if any),
// and retry classification.
type Error struct {
	Provider   string
	StatusCode int
	Class      ErrorClass
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm gateway: provider %s returned HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm gateway: provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrEmptyResponse marks a response with no content and no tool call —
// distinct from a transport failure so the empty-response retry policy
// (2 extra attempts, its own jitter) can apply.
var ErrEmptyResponse = errors.New("llm gateway: empty response")

// ErrSchemaViolation marks a response that failed JSON Schema validation
// even after the one-shot repair retry.
var ErrSchemaViolation = errors.New("llm gateway: response violates schema")

// classifyHTTPStatus maps an HTTP status code to a retry class, mirroring
// ClassifyError's case-by-case shape.
func classifyHTTPStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return RetryTransient
	case status >= 500:
		return RetryTransient
	case status >= 400:
		return NoRetry
	default:
		return NoRetry
	}
}

// classifyTransportError inspects a network-level error the way
// pkg/mcp/recovery.go's ClassifyError does, distinguishing context
// cancellation (never retried) from connection failures (retried).
func classifyTransportError(err error) ErrorClass {
	if err == nil {
		return NoRetry
	}
	if errors.Is(err, context.Canceled) {
		return NoRetry
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return RetryTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return RetryTransient
		}
		return RetryTransient
	}
	return RetryTransient
}
