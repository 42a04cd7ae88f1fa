// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/sgate/internal/cron"
	"github.com/flemzord/sgate/internal/quota"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu       sync.Mutex
	calls    int
	lastCall time.Time
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
	m.lastCall = time.Now()
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

// LastCall returns the time of the last Run call.
func (m *MockJob) LastCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// MockLedger is a test double for cron.LedgerSyncer.
type MockLedger struct {
	NameVal     string
	SyncAllFunc func(ctx context.Context) ([]quota.SyncResult, error)
	SyncCalls   atomic.Int32
}

var _ cron.LedgerSyncer = (*MockLedger)(nil)

// Name implements cron.LedgerSyncer.
func (m *MockLedger) Name() string { return m.NameVal }

// SyncAll implements cron.LedgerSyncer.
func (m *MockLedger) SyncAll(ctx context.Context) ([]quota.SyncResult, error) {
	m.SyncCalls.Add(1)
	if m.SyncAllFunc != nil {
		return m.SyncAllFunc(ctx)
	}
	return nil, nil
}

// MockSweeper is a test double for cron.Sweeper.
type MockSweeper struct {
	SweepFunc  func() int
	SweepCalls atomic.Int32
}

// Sweep implements cron.Sweeper.
func (m *MockSweeper) Sweep() int {
	m.SweepCalls.Add(1)
	if m.SweepFunc != nil {
		return m.SweepFunc()
	}
	return 0
}
