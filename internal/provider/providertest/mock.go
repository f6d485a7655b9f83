// Package providertest provides test helpers for the provider package.
package providertest

import (
	"context"
	"sync"

	"github.com/flemzord/taleturn/internal/provider"
)

// Call records one invocation of MockCaller.
type Call struct {
	Config   provider.AIConfig
	Messages []provider.LLMMessage
}

// Prompt returns the final message content of the call.
func (c Call) Prompt() string {
	if len(c.Messages) == 0 {
		return ""
	}
	return c.Messages[len(c.Messages)-1].Content
}

// MockCaller is a configurable test double for provider.Caller.
// Set CallFunc to control behavior. An unset CallFunc panics on call.
// All methods are safe for concurrent use.
type MockCaller struct {
	CallFunc func(ctx context.Context, cfg provider.AIConfig, messages []provider.LLMMessage) (any, error)

	mu    sync.Mutex
	calls []Call
}

// Call delegates to CallFunc and records the invocation.
func (m *MockCaller) Call(ctx context.Context, cfg provider.AIConfig, messages []provider.LLMMessage) (any, error) {
	m.mu.Lock()
	msgs := make([]provider.LLMMessage, len(messages))
	copy(msgs, messages)
	m.calls = append(m.calls, Call{Config: cfg, Messages: msgs})
	m.mu.Unlock()
	return m.CallFunc(ctx, cfg, messages)
}

// Calls returns a copy of the recorded invocations.
func (m *MockCaller) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of invocations so far.
func (m *MockCaller) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Sequence returns a CallFunc that answers with the given responses in
// order; once exhausted it keeps returning the last one. Each response
// is either an error or a payload.
func Sequence(responses ...any) func(context.Context, provider.AIConfig, []provider.LLMMessage) (any, error) {
	var (
		mu  sync.Mutex
		idx int
	)
	return func(context.Context, provider.AIConfig, []provider.LLMMessage) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(responses) == 0 {
			return nil, nil
		}
		r := responses[idx]
		if idx < len(responses)-1 {
			idx++
		}
		if err, ok := r.(error); ok {
			return nil, err
		}
		return r, nil
	}
}

// ChatResponse builds an OpenAI-shaped payload carrying content.
func ChatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
			},
		},
	}
}

// Interface guard.
var _ provider.Caller = (*MockCaller)(nil)
