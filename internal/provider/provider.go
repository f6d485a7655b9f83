package provider

import "context"

// Caller issues one blocking request to an external completion service
// and returns the decoded payload: a JSON value (map, slice, string...)
// or a plain string for non-JSON bodies.
//
// Implementations must map failures onto the sentinels in errors.go so
// the executor can classify them.
type Caller interface {
	Call(ctx context.Context, cfg AIConfig, messages []LLMMessage) (any, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, cfg AIConfig, messages []LLMMessage) (any, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, cfg AIConfig, messages []LLMMessage) (any, error) {
	return f(ctx, cfg, messages)
}
