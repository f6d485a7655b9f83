package cron_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/taleturn/internal/cron"
	"github.com/flemzord/taleturn/internal/cron/crontest"
)

func TestScheduler_RegisterJob_DuplicateName(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(nil)
	if err := s.RegisterJob(&crontest.MockJob{NameVal: "test", ScheduleVal: "* * * * *"}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := s.RegisterJob(&crontest.MockJob{NameVal: "test", ScheduleVal: "* * * * *"}); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestScheduler_Start_InvalidSchedule(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(nil)
	_ = s.RegisterJob(&crontest.MockJob{NameVal: "bad", ScheduleVal: "invalid"})
	if err := s.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestScheduler_Schedules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr string
		ok   bool
	}{
		{"*/5 * * * *", true},
		{"@every 15m", true},
		{"@hourly", true},
		{"60 * * * *", false},
		{"", false},
	}
	for _, tt := range tests {
		_, err := cron.Parser.Parse(tt.expr)
		if (err == nil) != tt.ok {
			t.Errorf("Parse(%q) error = %v, want ok=%v", tt.expr, err, tt.ok)
		}
	}
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(nil)
	_ = s.RegisterJob(&crontest.MockJob{NameVal: "noop", ScheduleVal: "@every 1h"})

	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	t.Parallel()

	job := &crontest.MockJob{NameVal: "sweep", ScheduleVal: "@every 1h"}
	failing := &crontest.MockJob{NameVal: "failing", ScheduleVal: "@every 1h", RunFunc: func(context.Context) error {
		return errors.New("job failed")
	}}

	s := cron.NewScheduler(nil)
	_ = s.RegisterJob(job)
	_ = s.RegisterJob(failing)

	if !s.RunNow(context.Background(), "sweep") || job.CallCount() != 1 {
		t.Errorf("RunNow did not run the job (calls %d)", job.CallCount())
	}
	// A failing job is reported as run; the error is logged.
	if !s.RunNow(context.Background(), "failing") {
		t.Error("failing job not run")
	}
	if s.RunNow(context.Background(), "missing") {
		t.Error("RunNow reported an unknown job as run")
	}
}

func TestScheduler_NoOverlappingTicks(t *testing.T) {
	t.Parallel()

	var concurrent, maxConcurrent atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	s := cron.NewScheduler(nil)
	_ = s.RegisterJob(&crontest.MockJob{
		NameVal:     "slow",
		ScheduleVal: "@every 1h",
		RunFunc: func(context.Context) error {
			c := concurrent.Add(1)
			if c > maxConcurrent.Load() {
				maxConcurrent.Store(c)
			}
			started <- struct{}{}
			<-release
			concurrent.Add(-1)
			return nil
		},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunNow(context.Background(), "slow")
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	if s.RunNow(context.Background(), "slow") {
		t.Error("overlapping tick was not skipped")
	}
	close(release)
	wg.Wait()

	if maxConcurrent.Load() > 1 {
		t.Errorf("max concurrent = %d, want 1", maxConcurrent.Load())
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(nil)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}
