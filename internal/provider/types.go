package provider

import (
	"fmt"
	"net/url"
)

// Role describes which half of a turn a call serves.
type Role string

// Role constants for call routing.
const (
	RoleNarrative Role = "narrative"
	RoleParser    Role = "parser"
)

// MessageRole identifies the sender of a message in a conversation.
type MessageRole string

// MessageRole constants for conversation messages.
const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// LLMMessage represents a single message in a conversation.
type LLMMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Provider tags understood by the HTTP caller and the response extractor.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderCustom    = "custom"
)

// AIConfig is the connection descriptor for one external completion
// service. It is treated as immutable for the duration of a call.
type AIConfig struct {
	// Provider is a shape hint ("openai", "anthropic", "custom").
	Provider string `yaml:"provider" json:"provider"`

	// Endpoint is the full URL the request is POSTed to. Required.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Model is substituted into the body as {{model}}.
	Model string `yaml:"model" json:"model,omitempty"`

	// Headers are set verbatim on every request (e.g. Authorization).
	Headers map[string]string `yaml:"headers" json:"-"`

	// BodyTemplate is a JSON document with {{prompt}}, {{messages}} and
	// {{model}} placeholders. Empty means an OpenAI-compatible body.
	BodyTemplate string `yaml:"body_template" json:"body_template,omitempty"`
}

// Validate reports a configuration error for unusable descriptors.
func (c AIConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrConfig)
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: endpoint is not a valid URL: %w", ErrConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: endpoint scheme must be http or https, got %q", ErrConfig, u.Scheme)
	}
	if c.BodyTemplate != "" {
		if _, err := BuildBody(c, []LLMMessage{{Role: MessageRoleUser, Content: "ping"}}); err != nil {
			return err
		}
	}
	return nil
}

// ProviderOrDefault returns the provider tag, defaulting to openai.
func (c AIConfig) ProviderOrDefault() string {
	if c.Provider == "" {
		return ProviderOpenAI
	}
	return c.Provider
}
