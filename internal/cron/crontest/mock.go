// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/taleturn/internal/cron"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu    sync.Mutex
	calls int
}

// Compile-time interface check.
var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockSweeper is a test double for cron.LoreSweeper.
type MockSweeper struct {
	SweepFunc func(maxIdle time.Duration) []string

	mu    sync.Mutex
	idles []time.Duration
}

// Compile-time interface check.
var _ cron.LoreSweeper = (*MockSweeper)(nil)

// Sweep implements cron.LoreSweeper.
func (m *MockSweeper) Sweep(maxIdle time.Duration) []string {
	m.mu.Lock()
	m.idles = append(m.idles, maxIdle)
	m.mu.Unlock()
	if m.SweepFunc != nil {
		return m.SweepFunc(maxIdle)
	}
	return nil
}

// Calls returns the idle durations Sweep was called with.
func (m *MockSweeper) Calls() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.idles...)
}
