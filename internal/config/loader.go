package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/taleturn/internal/memory"
)

// FileName is the configuration file looked up during discovery.
const FileName = "taleturn.yaml"

// ErrNotFound indicates no configuration file was discovered.
var ErrNotFound = errors.New("config: no configuration file found")

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a YAML configuration file, expands environment variables,
// parses it into a Config struct and fills defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands and decodes raw YAML.
func Parse(raw []byte) (*Config, error) {
	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("expanding variables: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	cfg.withDefaults()
	return cfg, nil
}

// Default returns a configuration with every default applied and no
// provider set.
func Default() *Config {
	cfg := &Config{
		Version: "1",
		History: memory.DefaultHistoryConfig(),
	}
	cfg.withDefaults()
	return cfg
}

// withDefaults fills zero values. History defaults come from Default
// because an explicit "enabled: false" must survive decoding.
func (c *Config) withDefaults() {
	if c.Estimator.DenseCharsPerToken <= 0 {
		c.Estimator.DenseCharsPerToken = 1.5
	}
	if c.History.BudgetFraction <= 0 || c.History.BudgetFraction > 1 {
		c.History.BudgetFraction = memory.DefaultHistoryConfig().BudgetFraction
	}
	if c.Lorebook.MaxTokens <= 0 {
		c.Lorebook.MaxTokens = 800
	}
	if c.Lorebook.IdleTTL <= 0 {
		c.Lorebook.IdleTTL = 6 * time.Hour
	}
	if c.Lorebook.SweepSchedule == "" {
		c.Lorebook.SweepSchedule = "@every 15m"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = "taleturn.db"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "taleturn"
	}
	if c.Tracing.SampleRatio <= 0 {
		c.Tracing.SampleRatio = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Discover returns the configuration path to load: explicit when set,
// else $XDG_CONFIG_HOME/taleturn/taleturn.yaml, else ./taleturn.yaml.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	var candidates []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "taleturn", FileName))
	}
	candidates = append(candidates, FileName)

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w (looked in %v)", ErrNotFound, candidates)
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if hasDefault {
			return subs[2]
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
