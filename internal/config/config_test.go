package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
version: "1"
providers:
  narrative:
    provider: openai
    endpoint: ${TALETURN_TEST_ENDPOINT:-http://localhost:11434/v1/chat/completions}
    model: story-model
    headers:
      Authorization: Bearer ${TALETURN_TEST_KEY}
  parser:
    provider: anthropic
    endpoint: https://api.example.com/v1/messages
engine:
  narrative:
    max_attempts: 5
    timeout: 90s
  backoff:
    base: 500ms
history:
  enabled: false
  max_rounds: 4
lorebook:
  idle_ttl: 1h
storage:
  driver: sqlite
  sqlite:
    path: /var/lib/taleturn/turns.db
gateway:
  bind: 0.0.0.0:9090
  auth:
    bearer_token: secret
`

func TestParse(t *testing.T) {
	t.Setenv("TALETURN_TEST_KEY", "sk-test")

	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if got := cfg.Providers.Narrative.Endpoint; got != "http://localhost:11434/v1/chat/completions" {
		t.Errorf("default expansion = %q", got)
	}
	if got := cfg.Providers.Narrative.Headers["Authorization"]; got != "Bearer sk-test" {
		t.Errorf("env expansion = %q", got)
	}
	if cfg.Providers.Parser == nil || cfg.Providers.Parser.Provider != "anthropic" {
		t.Errorf("parser provider = %+v", cfg.Providers.Parser)
	}
	if cfg.Engine.Narrative.MaxAttempts != 5 || cfg.Engine.Narrative.Timeout != 90*time.Second {
		t.Errorf("engine narrative policy = %+v", cfg.Engine.Narrative)
	}
	if cfg.Engine.Backoff.Base != 500*time.Millisecond {
		t.Errorf("backoff base = %v", cfg.Engine.Backoff.Base)
	}

	if cfg.History.Enabled {
		t.Error("explicit history.enabled=false was overridden")
	}
	if cfg.History.MaxRounds != 4 || cfg.History.MaxTokens != 6000 || cfg.History.BudgetFraction != 0.7 {
		t.Errorf("history = %+v", cfg.History)
	}
	if cfg.Estimator.DenseCharsPerToken != 1.5 {
		t.Errorf("estimator default = %v", cfg.Estimator.DenseCharsPerToken)
	}
	if cfg.Lorebook.IdleTTL != time.Hour || cfg.Lorebook.MaxTokens != 800 || cfg.Lorebook.SweepSchedule != "@every 15m" {
		t.Errorf("lorebook = %+v", cfg.Lorebook)
	}
	if cfg.Storage.Driver != DriverSQLite || cfg.Storage.SQLite.Path != "/var/lib/taleturn/turns.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Gateway.Bind != "0.0.0.0:9090" || cfg.Gateway.Auth.BearerToken != "secret" {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}

	settings := cfg.EngineSettings()
	if settings.LoreMaxTokens != 800 || settings.Narrative.MaxAttempts != 5 {
		t.Errorf("engine settings = %+v", settings)
	}
	routes, err := cfg.Routes()
	if err != nil || routes.Shared {
		t.Errorf("routes = %+v, %v; want split routing", routes, err)
	}
}

func TestParse_UnresolvedVariables(t *testing.T) {
	_, err := Parse([]byte("providers:\n  narrative:\n    endpoint: ${TALETURN_TEST_UNSET_A}\n    model: ${TALETURN_TEST_UNSET_B}\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"TALETURN_TEST_UNSET_A", "TALETURN_TEST_UNSET_B"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Version = "2"
	cfg.Providers.Narrative.Endpoint = "ftp://nope"
	cfg.Engine.Parser.MaxAttempts = -1
	cfg.Storage.Driver = "redis"
	cfg.Lorebook.SweepSchedule = "every day-ish"
	cfg.Log.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{
		"unsupported version",
		"providers.narrative",
		"engine.parser.max_attempts",
		"storage.redis.addr",
		"lorebook.sweep_schedule",
		"log.format",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_MissingNarrativeEndpoint(t *testing.T) {
	t.Parallel()

	err := Validate(Default())
	if err == nil || !strings.Contains(err.Error(), "endpoint is required") {
		t.Errorf("Validate(Default()) = %v", err)
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Chdir(t.TempDir())

	if got, err := Discover("explicit.yaml"); err != nil || got != "explicit.yaml" {
		t.Errorf("explicit = %q, %v", got, err)
	}

	if _, err := Discover(""); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty discovery error = %v", err)
	}

	if err := os.WriteFile(FileName, []byte("version: \"1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got, _ := Discover(""); got != FileName {
		t.Errorf("cwd discovery = %q", got)
	}

	xdgPath := filepath.Join(dir, "taleturn", FileName)
	if err := os.MkdirAll(filepath.Dir(xdgPath), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(xdgPath, []byte("version: \"1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got, _ := Discover(""); got != xdgPath {
		t.Errorf("xdg discovery = %q, want %q", got, xdgPath)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("version: \"1\"\nproviders:\n  narrative:\n    endpoint: http://x.test\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	routes, err := cfg.Routes()
	if err != nil || !routes.Shared {
		t.Errorf("routes = %+v, %v; want shared routing", routes, err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}
