package main

import (
	"testing"

	"github.com/flemzord/taleturn/internal/config"
	"github.com/flemzord/taleturn/internal/provider"
)

func TestRenderConfig_RoundTrips(t *testing.T) {
	t.Setenv("GAME_AI_KEY", "sk-test")
	t.Setenv("TALETURN_TOKEN", "")

	tests := []struct {
		name       string
		ans        initAnswers
		wantShared bool
		wantHeader string
	}{
		{
			name: "openai memory",
			ans: initAnswers{
				Provider: provider.ProviderOpenAI,
				Endpoint: "https://api.openai.com/v1/chat/completions",
				Model:    "gpt-4o",
				KeyEnv:   "GAME_AI_KEY",
				Storage:  config.DriverMemory,
				Bind:     "127.0.0.1:8080",
			},
			wantShared: true,
			wantHeader: "Authorization",
		},
		{
			name: "anthropic split sqlite",
			ans: initAnswers{
				Provider:    provider.ProviderAnthropic,
				Endpoint:    "https://api.anthropic.com/v1/messages",
				Model:       "claude-sonnet",
				KeyEnv:      "GAME_AI_KEY",
				SplitParser: true,
				ParserModel: "claude-haiku",
				Storage:     config.DriverSQLite,
				Bind:        "0.0.0.0:9000",
			},
			wantHeader: "x-api-key",
		},
		{
			name: "custom redis no key",
			ans: initAnswers{
				Provider: provider.ProviderCustom,
				Endpoint: "http://localhost:11434/v1/chat/completions",
				Storage:  config.DriverRedis,
				Bind:     "127.0.0.1:8080",
			},
			wantShared: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := renderConfig(tt.ans)
			if err != nil {
				t.Fatalf("renderConfig: %v", err)
			}
			cfg, err := config.Parse(raw)
			if err != nil {
				t.Fatalf("Parse: %v\n%s", err, raw)
			}
			if err := config.Validate(cfg); err != nil {
				t.Fatalf("Validate: %v\n%s", err, raw)
			}

			routes, err := cfg.Routes()
			if err != nil {
				t.Fatalf("Routes: %v", err)
			}
			if routes.Shared != tt.wantShared {
				t.Errorf("Shared = %v, want %v", routes.Shared, tt.wantShared)
			}
			if routes.Narrative.Endpoint != tt.ans.Endpoint {
				t.Errorf("Endpoint = %q, want %q", routes.Narrative.Endpoint, tt.ans.Endpoint)
			}
			if tt.ans.SplitParser && routes.Parser.Model != tt.ans.ParserModel {
				t.Errorf("parser model = %q, want %q", routes.Parser.Model, tt.ans.ParserModel)
			}
			if tt.wantHeader != "" {
				if v := routes.Narrative.Headers[tt.wantHeader]; v == "" {
					t.Errorf("header %q missing: %v", tt.wantHeader, routes.Narrative.Headers)
				}
			}
			if cfg.Storage.Driver != tt.ans.Storage {
				t.Errorf("driver = %q, want %q", cfg.Storage.Driver, tt.ans.Storage)
			}
			if cfg.Gateway.Bind != tt.ans.Bind {
				t.Errorf("bind = %q, want %q", cfg.Gateway.Bind, tt.ans.Bind)
			}
		})
	}
}

func TestAIConfigNode_AnthropicTemplateBuilds(t *testing.T) {
	t.Parallel()

	node := aiConfigNode(provider.ProviderAnthropic, "https://api.anthropic.com/v1/messages", "claude-sonnet", "")
	tmpl, ok := node["body_template"].(string)
	if !ok {
		t.Fatal("anthropic node has no body_template")
	}

	cfg := provider.AIConfig{
		Provider:     provider.ProviderAnthropic,
		Model:        "claude-sonnet",
		BodyTemplate: tmpl,
	}
	body, err := provider.BuildBody(cfg, []provider.LLMMessage{{Role: "user", Content: "hello"}})
	if err != nil {
		t.Fatalf("BuildBody: %v", err)
	}
	if len(body) == 0 {
		t.Fatal("empty body")
	}
}
