package provider_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"

	"github.com/flemzord/taleturn/internal/provider"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want provider.FailureClass
	}{
		{name: "nil", err: nil, want: provider.FailureOther},
		{name: "auth", err: fmt.Errorf("%w: HTTP 401", provider.ErrAuthentication), want: provider.FailureAuth},
		{name: "not_found", err: fmt.Errorf("%w: HTTP 404", provider.ErrNotFound), want: provider.FailureNotFound},
		{name: "rate_limit", err: provider.ErrRateLimit, want: provider.FailureRateLimit},
		{name: "server", err: fmt.Errorf("%w: HTTP 502", provider.ErrProviderDown), want: provider.FailureServer},
		{name: "refused_sentinel", err: provider.ErrConnRefused, want: provider.FailureRefused},
		{name: "refused_syscall", err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, want: provider.FailureRefused},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "x.invalid"}, want: provider.FailureRefused},
		{name: "timeout_sentinel", err: provider.ErrTimeout, want: provider.FailureTimeout},
		{name: "deadline", err: context.DeadlineExceeded, want: provider.FailureTimeout},
		{name: "reset_syscall", err: fmt.Errorf("read: %w", syscall.ECONNRESET), want: provider.FailureReset},
		{name: "unexpected_eof", err: io.ErrUnexpectedEOF, want: provider.FailureReset},
		{name: "protocol_error", err: errors.New("http2: stream closed: PROTOCOL_ERROR protocol error"), want: provider.FailureReset},
		{name: "other", err: errors.New("boom"), want: provider.FailureOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := provider.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestFailureClass_Connection(t *testing.T) {
	t.Parallel()

	conn := map[provider.FailureClass]bool{
		provider.FailureOther:     false,
		provider.FailureAuth:      false,
		provider.FailureNotFound:  false,
		provider.FailureRateLimit: false,
		provider.FailureServer:    false,
		provider.FailureRefused:   true,
		provider.FailureTimeout:   true,
		provider.FailureReset:     true,
	}
	for class, want := range conn {
		if got := class.Connection(); got != want {
			t.Errorf("%s.Connection() = %v, want %v", class, got, want)
		}
	}
}

func TestRetryError(t *testing.T) {
	t.Parallel()

	last := fmt.Errorf("%w: HTTP 401: bad key", provider.ErrAuthentication)
	err := &provider.RetryError{Role: provider.RoleParser, Attempts: 3, Class: provider.FailureAuth, Last: last}

	if !errors.Is(err, provider.ErrAuthentication) {
		t.Error("RetryError does not unwrap to the last error")
	}
	msg := err.Error()
	for _, want := range []string{"parser", "3 attempts", "check the API key", "bad key"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}
