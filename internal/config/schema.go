// Package config handles YAML configuration loading, environment variable
// expansion, defaults and structural validation for taleturn.
package config

import (
	"time"

	"github.com/flemzord/taleturn/internal/engine"
	"github.com/flemzord/taleturn/internal/gateway"
	"github.com/flemzord/taleturn/internal/memory"
	"github.com/flemzord/taleturn/internal/provider"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	Providers ProvidersConfig      `yaml:"providers"`
	Engine    EngineConfig         `yaml:"engine"`
	History   memory.HistoryConfig `yaml:"history"`
	Estimator EstimatorConfig      `yaml:"estimator"`
	Lorebook  LorebookConfig       `yaml:"lorebook"`
	Storage   StorageConfig        `yaml:"storage"`
	Gateway   gateway.Config       `yaml:"gateway"`
	Tracing   TracingConfig        `yaml:"tracing"`
	Log       LogConfig            `yaml:"log"`
}

// ProvidersConfig names the completion services. Without a parser entry
// both calls of a turn go to the narrative service.
type ProvidersConfig struct {
	Narrative provider.AIConfig  `yaml:"narrative"`
	Parser    *provider.AIConfig `yaml:"parser,omitempty"`
}

// EngineConfig holds the per-role call policies and backoff.
type EngineConfig struct {
	Narrative provider.Policy        `yaml:"narrative"`
	Parser    provider.Policy        `yaml:"parser"`
	Backoff   provider.BackoffConfig `yaml:"backoff"`
}

// EngineSettings returns the orchestrator configuration.
func (c *Config) EngineSettings() engine.Config {
	return engine.Config{
		Narrative:     c.Engine.Narrative,
		Parser:        c.Engine.Parser,
		LoreMaxTokens: c.Lorebook.MaxTokens,
	}
}

// EstimatorConfig tunes token estimation.
type EstimatorConfig struct {
	// DenseCharsPerToken is how many dense-script characters make one
	// token. Default: 1.5.
	DenseCharsPerToken float64 `yaml:"dense_chars_per_token"`
}

// LorebookConfig controls lore injection and idle-session cleanup.
type LorebookConfig struct {
	MaxTokens     int           `yaml:"max_tokens"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// StorageConfig selects where history and turn results live.
type StorageConfig struct {
	Driver string       `yaml:"driver"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`
}

// SQLiteConfig configures the sqlite store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig configures the redis history store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Enabled reports whether traces are exported.
func (t TracingConfig) Enabled() bool {
	return t.Endpoint != ""
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
