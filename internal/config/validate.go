package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/taleturn/internal/provider"
)

// Validate checks the structural validity of a Config. Every problem
// found is reported; none short-circuits the others.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	errs = append(errs, validateProviders(cfg.Providers)...)
	errs = append(errs, validateEngine(cfg.Engine)...)
	errs = append(errs, validateStorage(cfg.Storage)...)

	if cfg.History.MaxRounds < 0 {
		errs = append(errs, errors.New("config: history.max_rounds must not be negative"))
	}
	if cfg.History.MaxTokens < 0 {
		errs = append(errs, errors.New("config: history.max_tokens must not be negative"))
	}

	if _, err := cron.ParseStandard(cfg.Lorebook.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("config: lorebook.sweep_schedule: %w", err))
	}

	if cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("config: tracing.sample_ratio must be at most 1, got %v", cfg.Tracing.SampleRatio))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("config: log.level: %w", err))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format must be text or json, got %q", cfg.Log.Format))
	}

	return errors.Join(errs...)
}

func validateProviders(p ProvidersConfig) []error {
	var errs []error
	if err := p.Narrative.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: providers.narrative: %w", err))
	}
	if p.Parser != nil {
		if err := p.Parser.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config: providers.parser: %w", err))
		}
	}
	return errs
}

func validateEngine(e EngineConfig) []error {
	var errs []error
	policies := []struct {
		role   provider.Role
		policy provider.Policy
	}{
		{provider.RoleNarrative, e.Narrative},
		{provider.RoleParser, e.Parser},
	}
	for _, rp := range policies {
		role, p := rp.role, rp.policy
		if p.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("config: engine.%s.max_attempts must not be negative", role))
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("config: engine.%s.timeout must not be negative", role))
		}
	}
	if e.Backoff.Max > 0 && e.Backoff.Base > e.Backoff.Max {
		errs = append(errs, errors.New("config: engine.backoff.base exceeds engine.backoff.max"))
	}
	return errs
}

func validateStorage(s StorageConfig) []error {
	switch s.Driver {
	case DriverMemory, DriverSQLite:
		return nil
	case DriverRedis:
		if s.Redis.Addr == "" {
			return []error{errors.New("config: storage.redis.addr is required for the redis driver")}
		}
		return nil
	default:
		return []error{fmt.Errorf("config: unknown storage.driver %q (memory, sqlite, redis)", s.Driver)}
	}
}
