package provider_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/taleturn/internal/provider"
	"github.com/flemzord/taleturn/internal/provider/providertest"
)

// sleepRecorder records requested delays without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

var testConfig = provider.AIConfig{Endpoint: "https://llm.example/v1/chat"}

func TestExecutor_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	mock := &providertest.MockCaller{CallFunc: providertest.Sequence(providertest.ChatResponse("The sun rose."))}
	rec := &sleepRecorder{}
	ex := provider.NewExecutor(mock, provider.WithSleep(rec.sleep))

	history := []provider.LLMMessage{{Role: provider.MessageRoleUser, Content: "earlier"}}
	resp, err := ex.Call(context.Background(), provider.Request{
		Role:    provider.RoleNarrative,
		Config:  testConfig,
		Prompt:  "# Round 2",
		History: history,
		Policy:  provider.Policy{MaxAttempts: 3},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Attempts != 1 || resp.Result.Narrative != "The sun rose." {
		t.Errorf("resp = %+v", resp)
	}
	if len(rec.recorded()) != 0 {
		t.Errorf("slept %v on success", rec.recorded())
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if len(calls[0].Messages) != 2 || calls[0].Messages[0].Content != "earlier" || calls[0].Prompt() != "# Round 2" {
		t.Errorf("messages = %+v, want history then prompt", calls[0].Messages)
	}
}

func TestExecutor_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	mock := &providertest.MockCaller{CallFunc: providertest.Sequence(
		fmt.Errorf("%w: HTTP 503", provider.ErrProviderDown),
		provider.ErrConnReset,
		providertest.ChatResponse("Recovered."),
	)}
	rec := &sleepRecorder{}
	ex := provider.NewExecutor(mock, provider.WithSleep(rec.sleep))

	resp, err := ex.Call(context.Background(), provider.Request{Role: provider.RoleNarrative, Config: testConfig, Prompt: "p", Policy: provider.Policy{MaxAttempts: 5}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", resp.Attempts)
	}
	// Server error: ordinary base for attempt 1; reset: connection base for attempt 2.
	want := []time.Duration{time.Second, 6 * time.Second}
	got := rec.recorded()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("delays = %v, want %v", got, want)
	}
}

func TestExecutor_ExhaustionBackoffSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want []time.Duration
	}{
		{
			name: "ordinary",
			err:  provider.ErrRateLimit,
			want: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
		},
		{
			name: "connection",
			err:  provider.ErrTimeout,
			want: []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second},
		},
		{
			// Authentication is still retried; only the message differs.
			name: "auth_retried",
			err:  provider.ErrAuthentication,
			want: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := &providertest.MockCaller{CallFunc: providertest.Sequence(tt.err)}
			rec := &sleepRecorder{}
			ex := provider.NewExecutor(mock, provider.WithSleep(rec.sleep))

			_, err := ex.Call(context.Background(), provider.Request{Role: provider.RoleParser, Config: testConfig, Prompt: "p", Policy: provider.Policy{MaxAttempts: 5}})

			var retryErr *provider.RetryError
			if !errors.As(err, &retryErr) {
				t.Fatalf("error = %v, want *RetryError", err)
			}
			if retryErr.Attempts != 5 || mock.CallCount() != 5 {
				t.Errorf("attempts = %d, calls = %d, want 5", retryErr.Attempts, mock.CallCount())
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("error does not wrap last cause: %v", err)
			}
			got := rec.recorded()
			if len(got) != len(tt.want) {
				t.Fatalf("delays = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("delay[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExecutor_ConfigErrorNotAttempted(t *testing.T) {
	t.Parallel()

	mock := &providertest.MockCaller{CallFunc: providertest.Sequence(providertest.ChatResponse("x"))}
	ex := provider.NewExecutor(mock)

	_, err := ex.Call(context.Background(), provider.Request{Role: provider.RoleNarrative, Config: provider.AIConfig{}, Prompt: "p"})
	if !provider.IsConfig(err) {
		t.Fatalf("error = %v, want ErrConfig", err)
	}
	if mock.CallCount() != 0 {
		t.Errorf("caller invoked %d times for a config error", mock.CallCount())
	}
}

func TestExecutor_ConfigErrorFromAttemptNotRetried(t *testing.T) {
	t.Parallel()

	mock := &providertest.MockCaller{CallFunc: providertest.Sequence(
		fmt.Errorf("%w: header value rejected", provider.ErrConfig),
		providertest.ChatResponse("never reached"),
	)}
	rec := &sleepRecorder{}
	ex := provider.NewExecutor(mock, provider.WithSleep(rec.sleep))

	_, err := ex.Call(context.Background(), provider.Request{
		Role:   provider.RoleParser,
		Config: testConfig,
		Prompt: "p",
		Policy: provider.Policy{MaxAttempts: 5},
	})
	if !provider.IsConfig(err) {
		t.Fatalf("error = %v, want ErrConfig", err)
	}
	var re *provider.RetryError
	if errors.As(err, &re) {
		t.Errorf("config error wrapped as exhaustion: %v", err)
	}
	if got := mock.CallCount(); got != 1 {
		t.Errorf("caller invoked %d times, want 1", got)
	}
	if delays := rec.recorded(); len(delays) != 0 {
		t.Errorf("slept %v before giving up on a config error", delays)
	}
}

func TestExecutor_InvalidBodyTemplateNotAttempted(t *testing.T) {
	t.Parallel()

	mock := &providertest.MockCaller{CallFunc: providertest.Sequence(providertest.ChatResponse("x"))}
	ex := provider.NewExecutor(mock)

	cfg := testConfig
	cfg.BodyTemplate = `{"input": {{prompt}`
	_, err := ex.Call(context.Background(), provider.Request{Role: provider.RoleNarrative, Config: cfg, Prompt: "p"})
	if !provider.IsConfig(err) {
		t.Fatalf("error = %v, want ErrConfig", err)
	}
	if mock.CallCount() != 0 {
		t.Errorf("caller invoked %d times for an invalid body template", mock.CallCount())
	}
}

func TestExecutor_PerAttemptTimeout(t *testing.T) {
	t.Parallel()

	mock := &providertest.MockCaller{CallFunc: func(ctx context.Context, _ provider.AIConfig, _ []provider.LLMMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	rec := &sleepRecorder{}
	ex := provider.NewExecutor(mock, provider.WithSleep(rec.sleep))

	_, err := ex.Call(context.Background(), provider.Request{
		Role:   provider.RoleParser,
		Config: testConfig,
		Prompt: "p",
		Policy: provider.Policy{MaxAttempts: 2, Timeout: 10 * time.Millisecond},
	})
	if !errors.Is(err, provider.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	var retryErr *provider.RetryError
	if !errors.As(err, &retryErr) || retryErr.Class != provider.FailureTimeout {
		t.Errorf("class = %v, want timeout", retryErr)
	}
	if got := rec.recorded(); len(got) != 1 || got[0] != 3*time.Second {
		t.Errorf("delays = %v, want [3s]", got)
	}
}

func TestExecutor_ParentCancellationAborts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	mock := &providertest.MockCaller{CallFunc: func(context.Context, provider.AIConfig, []provider.LLMMessage) (any, error) {
		cancel()
		return nil, provider.ErrProviderDown
	}}
	ex := provider.NewExecutor(mock, provider.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))

	_, err := ex.Call(ctx, provider.Request{Role: provider.RoleNarrative, Config: testConfig, Prompt: "p", Policy: provider.Policy{MaxAttempts: 5}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", mock.CallCount())
	}
}

func TestExecutor_EmptyPayloadIsRetried(t *testing.T) {
	t.Parallel()

	mock := &providertest.MockCaller{CallFunc: providertest.Sequence(
		map[string]any{"unexpected": true},
		"Plain text reply.",
	)}
	ex := provider.NewExecutor(mock, provider.WithSleep(func(context.Context, time.Duration) error { return nil }))

	resp, err := ex.Call(context.Background(), provider.Request{Role: provider.RoleNarrative, Config: testConfig, Prompt: "p"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Attempts != 2 || resp.Result.Narrative != "Plain text reply." {
		t.Errorf("resp = %+v", resp)
	}
}
