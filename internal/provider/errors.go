package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Sentinel errors for provider operations.
var (
	// ErrConfig indicates an unusable AIConfig. Never retried.
	ErrConfig = errors.New("provider misconfigured")

	// ErrAuthentication indicates the service rejected the credentials.
	ErrAuthentication = errors.New("provider authentication failed")

	// ErrNotFound indicates the endpoint or model does not exist.
	ErrNotFound = errors.New("provider endpoint not found")

	// ErrRateLimit indicates the provider returned a rate limit response.
	ErrRateLimit = errors.New("provider rate limited")

	// ErrProviderDown indicates a 5xx response.
	ErrProviderDown = errors.New("provider unavailable")

	// ErrConnRefused indicates the connection was refused or DNS failed.
	ErrConnRefused = errors.New("provider connection refused")

	// ErrTimeout indicates an attempt exceeded its timeout budget.
	ErrTimeout = errors.New("provider call timed out")

	// ErrConnReset indicates the connection dropped mid-exchange.
	ErrConnReset = errors.New("provider connection reset")

	// ErrEmptyResponse indicates the service answered with no usable body.
	ErrEmptyResponse = errors.New("provider returned empty response")
)

// FailureClass buckets a failed attempt. The class only changes the
// message attached to the final error and the backoff base.
type FailureClass int

// Failure classes, in classification priority order.
const (
	FailureOther FailureClass = iota
	FailureAuth
	FailureNotFound
	FailureRateLimit
	FailureServer
	FailureRefused
	FailureTimeout
	FailureReset
)

// String returns a short label for logs and metrics.
func (c FailureClass) String() string {
	switch c {
	case FailureAuth:
		return "auth"
	case FailureNotFound:
		return "not_found"
	case FailureRateLimit:
		return "rate_limit"
	case FailureServer:
		return "server"
	case FailureRefused:
		return "refused"
	case FailureTimeout:
		return "timeout"
	case FailureReset:
		return "reset"
	default:
		return "other"
	}
}

// Connection reports whether the class uses the connection backoff base.
func (c FailureClass) Connection() bool {
	return c == FailureRefused || c == FailureTimeout || c == FailureReset
}

// describe returns the human-facing explanation for the class.
func (c FailureClass) describe() string {
	switch c {
	case FailureAuth:
		return "authentication rejected, check the API key"
	case FailureNotFound:
		return "endpoint or model not found, check the endpoint URL"
	case FailureRateLimit:
		return "rate limited by the provider"
	case FailureServer:
		return "provider server error"
	case FailureRefused:
		return "could not connect to the provider"
	case FailureTimeout:
		return "provider did not answer in time"
	case FailureReset:
		return "connection to the provider was interrupted"
	default:
		return "provider call failed"
	}
}

// Classify maps an attempt error onto a FailureClass. Sentinels from
// this package win; raw network errors are inspected as a fallback.
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return FailureOther
	case errors.Is(err, ErrAuthentication):
		return FailureAuth
	case errors.Is(err, ErrNotFound):
		return FailureNotFound
	case errors.Is(err, ErrRateLimit):
		return FailureRateLimit
	case errors.Is(err, ErrProviderDown):
		return FailureServer
	case errors.Is(err, ErrConnRefused), errors.Is(err, syscall.ECONNREFUSED):
		return FailureRefused
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrConnReset), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE), errors.Is(err, io.ErrUnexpectedEOF):
		return FailureReset
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if strings.Contains(strings.ToLower(err.Error()), "protocol error") {
		return FailureReset
	}
	return FailureOther
}

// RetryError is returned once every attempt of a call has failed.
type RetryError struct {
	Role     Role
	Attempts int
	Class    FailureClass
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s call failed after %d attempts (%s): %v",
		e.Role, e.Attempts, e.Class.describe(), e.Last)
}

// Unwrap exposes the last underlying error.
func (e *RetryError) Unwrap() error {
	return e.Last
}

// IsConfig reports whether err is or wraps ErrConfig.
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}
