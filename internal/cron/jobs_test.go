package cron_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/taleturn/internal/cron"
	"github.com/flemzord/taleturn/internal/cron/crontest"
	"github.com/flemzord/taleturn/internal/game"
	"github.com/flemzord/taleturn/internal/lorebook"
	"github.com/flemzord/taleturn/internal/provider"
	"github.com/flemzord/taleturn/internal/security"
)

func TestLoreSweepJob_Defaults(t *testing.T) {
	t.Parallel()

	j := &cron.LoreSweepJob{}
	if j.Name() != "lorebook_sweep" {
		t.Errorf("name = %q", j.Name())
	}
	if j.Schedule() != "@every 15m" {
		t.Errorf("schedule = %q", j.Schedule())
	}
	if _, err := cron.Parser.Parse(j.Schedule()); err != nil {
		t.Errorf("default schedule does not parse: %v", err)
	}
}

func TestLoreSweepJob_Run(t *testing.T) {
	t.Parallel()

	sweeper := &crontest.MockSweeper{SweepFunc: func(time.Duration) []string { return []string{"s1", "s2"} }}
	j := &cron.LoreSweepJob{Lore: sweeper, MaxIdle: 6 * time.Hour, Logger: provider.NopLogger()}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := sweeper.Calls()
	if len(calls) != 1 || calls[0] != 6*time.Hour {
		t.Errorf("sweep calls = %v, want [6h]", calls)
	}
}

func TestLoreSweepJob_DisabledAndCancelled(t *testing.T) {
	t.Parallel()

	sweeper := &crontest.MockSweeper{}
	j := &cron.LoreSweepJob{Lore: sweeper, Logger: provider.NopLogger()}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sweeper.Calls()) != 0 {
		t.Error("zero MaxIdle should not sweep")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.MaxIdle = time.Hour
	if err := j.Run(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestLoreSweepJob_RealLorebook(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	var offset atomic.Int64
	lore := lorebook.New(lorebook.WithClock(func() time.Time {
		return now.Add(time.Duration(offset.Load()))
	}))
	lore.Initialize("s1", &game.WorldInit{Entities: []game.Entity{{ID: "p1", Name: "Ada"}}})
	offset.Store(int64(2 * time.Hour))

	j := &cron.LoreSweepJob{Lore: lore, MaxIdle: time.Hour, Logger: provider.NopLogger()}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if lore.Initialized("s1") {
		t.Error("idle lorebook survived the sweep")
	}
}

func TestRateLimitPruneJob(t *testing.T) {
	t.Parallel()

	limiter := security.NewKeyedLimiter(5, time.Nanosecond)
	_ = limiter.Allow("s1")
	time.Sleep(time.Millisecond)

	j := &cron.RateLimitPruneJob{Limiter: limiter, Logger: provider.NopLogger()}
	if j.Name() != "rate_limit_prune" || j.Schedule() != "*/5 * * * *" {
		t.Errorf("job = %s %s", j.Name(), j.Schedule())
	}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := limiter.Prune(); n != 0 {
		t.Errorf("remaining keys = %d, want 0", n)
	}
}
