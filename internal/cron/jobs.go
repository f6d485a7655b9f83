package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// LoreSweeper clears idle session state. engine.Engine and lorebook.Engine
// both implement it.
type LoreSweeper interface {
	Sweep(maxIdle time.Duration) []string
}

// LoreSweepJob clears the lorebooks and rosters of sessions idle longer
// than MaxIdle. A swept session is seeded again from its world data on
// its next turn.
type LoreSweepJob struct {
	Lore         LoreSweeper
	MaxIdle      time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "@every 15m"
}

// Compile-time interface check.
var _ Job = (*LoreSweepJob)(nil)

// Name implements Job.
func (j *LoreSweepJob) Name() string { return "lorebook_sweep" }

// Schedule implements Job.
func (j *LoreSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "@every 15m"
}

// Run sweeps idle lorebooks.
func (j *LoreSweepJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: lorebook sweep cancelled: %w", ctx.Err())
	}
	if j.MaxIdle <= 0 {
		return nil
	}
	cleared := j.Lore.Sweep(j.MaxIdle)
	if len(cleared) > 0 {
		j.Logger.Info("cron: cleared idle lorebooks", "count", len(cleared), "sessions", cleared)
	}
	return nil
}

// Pruner drops expired rate-limit windows.
type Pruner interface {
	Prune() int
}

// RateLimitPruneJob forgets sessions whose rate-limit window is empty.
type RateLimitPruneJob struct {
	Limiter      Pruner
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*RateLimitPruneJob)(nil)

// Name implements Job.
func (j *RateLimitPruneJob) Name() string { return "rate_limit_prune" }

// Schedule implements Job.
func (j *RateLimitPruneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run prunes the limiter.
func (j *RateLimitPruneJob) Run(_ context.Context) error {
	remaining := j.Limiter.Prune()
	j.Logger.Debug("cron: pruned rate-limit windows", "remaining", remaining)
	return nil
}
