// Package provider talks to external completion services: the Caller
// transport, failure classification, exponential backoff, per-role
// configuration routing and the retrying Executor.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/taleturn/internal/extract"
)

// nopHandler is a slog.Handler that discards all log records.
// Enabled returns false so slog skips formatting entirely (zero cost).
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool {
	return false
}

func (nopHandler) Handle(context.Context, slog.Record) error {
	return nil
}

func (nopHandler) WithAttrs([]slog.Attr) slog.Handler {
	return nopHandler{}
}

func (nopHandler) WithGroup(string) slog.Handler {
	return nopHandler{}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *slog.Logger {
	return slog.New(nopHandler{})
}

// Policy bounds one call: how many attempts, and how long each may take.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout"`
}

// withDefaults fills zero-value fields. The timeout default is the
// narrative budget; callers set the parser budget explicitly.
func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Timeout <= 0 {
		p.Timeout = 120 * time.Second
	}
	return p
}

// Request describes one call through the Executor.
type Request struct {
	Role    Role
	Config  AIConfig
	Prompt  string
	History []LLMMessage
	Policy  Policy

	// Logger overrides the executor logger for this call, typically one
	// already carrying session and round attributes.
	Logger *slog.Logger
}

// Response is a successful call.
type Response struct {
	Result   extract.Result
	Attempts int
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ExecutorOption configures optional Executor behavior.
type ExecutorOption func(*Executor)

// WithLogger injects a structured logger into the Executor.
// When nil or omitted, all log output is silently discarded (zero cost).
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithBackoff overrides the backoff configuration.
func WithBackoff(b BackoffConfig) ExecutorOption {
	return func(e *Executor) { e.backoff = b.withDefaults() }
}

// WithSleep replaces the sleep between attempts. Tests use it to record
// delays without waiting.
func WithSleep(fn SleepFunc) ExecutorOption {
	return func(e *Executor) { e.sleep = fn }
}

// Executor issues calls under a per-attempt timeout and retries failed
// attempts with exponential backoff.
type Executor struct {
	caller  Caller
	backoff BackoffConfig
	sleep   SleepFunc
	logger  *slog.Logger
}

// NewExecutor creates an Executor around the given transport.
func NewExecutor(caller Caller, opts ...ExecutorOption) *Executor {
	e := &Executor{
		caller:  caller,
		backoff: BackoffConfig{}.withDefaults(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = NopLogger()
	}
	return e
}

// Backoff returns the effective backoff configuration.
func (e *Executor) Backoff() BackoffConfig {
	return e.backoff
}

// Call runs req until one attempt succeeds or MaxAttempts have failed.
// A successful attempt is run through the response extractor and
// returned immediately. Configuration errors are returned without any
// attempt, or without retrying when an attempt surfaces one. Exhaustion
// returns a *RetryError carrying the last error.
func (e *Executor) Call(ctx context.Context, req Request) (Response, error) {
	if err := req.Config.Validate(); err != nil {
		return Response{}, err
	}

	policy := req.Policy.withDefaults()
	logger := req.Logger
	if logger == nil {
		logger = e.logger
	}
	logger = logger.With("role", string(req.Role))

	messages := make([]LLMMessage, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, LLMMessage{Role: MessageRoleUser, Content: req.Prompt})

	var (
		lastErr   error
		lastClass FailureClass
	)
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Response{}, fmt.Errorf("%s call aborted: %w", req.Role, err)
		}

		result, err := e.attempt(ctx, req.Config, messages, policy.Timeout)
		if err == nil {
			if attempt > 1 {
				logger.Info("provider call recovered", "attempt", attempt)
			}
			return Response{Result: result, Attempts: attempt}, nil
		}

		if IsConfig(err) {
			logger.Error("provider call rejected: invalid configuration", "attempt", attempt, "error", err)
			return Response{}, err
		}

		lastErr = err
		lastClass = Classify(err)

		if attempt == policy.MaxAttempts {
			logger.Warn("provider attempt failed",
				"attempt", attempt,
				"max_attempts", policy.MaxAttempts,
				"class", lastClass.String(),
				"error", err,
			)
			break
		}

		delay := e.backoff.Delay(lastClass, attempt)
		logger.Warn("provider attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"class", lastClass.String(),
			"delay", delay,
			"error", err,
		)
		if err := e.sleep(ctx, delay); err != nil {
			return Response{}, fmt.Errorf("%s call aborted: %w", req.Role, err)
		}
	}

	retryErr := &RetryError{
		Role:     req.Role,
		Attempts: policy.MaxAttempts,
		Class:    lastClass,
		Last:     lastErr,
	}
	logger.Error("provider call exhausted", "attempts", retryErr.Attempts, "error", retryErr)
	return Response{}, retryErr
}

// attempt performs one call bounded by timeout and extracts the result.
func (e *Executor) attempt(ctx context.Context, cfg AIConfig, messages []LLMMessage, timeout time.Duration) (extract.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := e.caller.Call(attemptCtx, cfg, messages)
	if err != nil {
		// The attempt deadline fired but the caller is still waiting:
		// that is a provider timeout, not a cancellation.
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
			return extract.Result{}, fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
		}
		return extract.Result{}, err
	}

	result, err := extract.Extract(payload, cfg.ProviderOrDefault())
	if err != nil {
		return extract.Result{}, fmt.Errorf("%w: %w", ErrEmptyResponse, err)
	}
	return result, nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
