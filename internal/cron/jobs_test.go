package cron_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flemzord/sgate/internal/cron"
	"github.com/flemzord/sgate/internal/cron/crontest"
	"github.com/flemzord/sgate/internal/fastcache"
	"github.com/flemzord/sgate/internal/quota"
	"github.com/flemzord/sgate/internal/security"
	"github.com/flemzord/sgate/internal/security/securitytest"
)

func TestQuotaSyncJob_Defaults(t *testing.T) {
	t.Parallel()

	j := &cron.QuotaSyncJob{Ledger: &crontest.MockLedger{NameVal: "usage"}}
	if j.Name() != "quota_sync:usage" {
		t.Errorf("name = %q", j.Name())
	}
	if j.Schedule() != "@every 1m" {
		t.Errorf("schedule = %q", j.Schedule())
	}
	if j.Expiry() != cron.DefaultSyncExpiry {
		t.Errorf("expiry = %v", j.Expiry())
	}

	j.ScheduleExpr, j.RunExpiry = "*/10 * * * *", 5*time.Second
	if j.Schedule() != "*/10 * * * *" || j.Expiry() != 5*time.Second {
		t.Errorf("overrides ignored: %q %v", j.Schedule(), j.Expiry())
	}
}

func TestQuotaSyncJob_MovesFastConsumptionToStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := quota.NewMemoryStore()
	ledger := quota.NewLedger(quota.LedgerUsage,
		quota.Config{Unit: "requests", DefaultLimit: 100}, fastcache.NewMemory(), store)
	for _, acct := range []string{"a", "a", "b"} {
		if _, err := ledger.Consume(ctx, acct, 1); err != nil {
			t.Fatal(err)
		}
	}

	audit, events := securitytest.NewTestAuditLogger()
	job := &cron.QuotaSyncJob{Ledger: ledger, Audit: audit}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	c, err := ledger.Counter(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if c.Cursor != 2 {
		t.Errorf("durable cursor for a = %d, want 2", c.Cursor)
	}

	got := events()
	if len(got) != 1 || got[0].Type != security.EventQuotaSync || got[0].Metadata["amount"] != "3" {
		t.Errorf("audit events = %+v", got)
	}

	// A second run has nothing to move.
	if err := job.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(events()) != 1 {
		t.Error("idle run should not be audited")
	}
}

func TestQuotaSyncJob_Error(t *testing.T) {
	t.Parallel()

	boom := errors.New("store down")
	job := &cron.QuotaSyncJob{Ledger: &crontest.MockLedger{
		NameVal: "budget",
		SyncAllFunc: func(context.Context) ([]quota.SyncResult, error) {
			return nil, boom
		},
	}}
	if err := job.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run = %v, want wrapped %v", err, boom)
	}
}

func TestQuotaSyncJob_ThroughScheduler(t *testing.T) {
	t.Parallel()

	ledger := &crontest.MockLedger{NameVal: "usage"}
	s := cron.NewScheduler(nil)
	if err := s.RegisterJob(&cron.QuotaSyncJob{Ledger: ledger}); err != nil {
		t.Fatal(err)
	}
	if err := s.Trigger(context.Background(), cron.QuotaSyncJobName("usage")); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if ledger.SyncCalls.Load() != 1 {
		t.Errorf("sync calls = %d, want 1", ledger.SyncCalls.Load())
	}
}

func TestRateLimitSweepJob(t *testing.T) {
	t.Parallel()

	sweeper := &crontest.MockSweeper{SweepFunc: func() int { return 4 }}
	j := &cron.RateLimitSweepJob{Limiter: sweeper}
	if j.Name() != "ratelimit_sweep" || j.Schedule() != "*/5 * * * *" {
		t.Errorf("name/schedule = %q/%q", j.Name(), j.Schedule())
	}
	if err := j.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sweeper.SweepCalls.Load() != 1 {
		t.Errorf("sweep calls = %d, want 1", sweeper.SweepCalls.Load())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := j.Run(ctx); err == nil {
		t.Error("canceled run should fail")
	}
}

func TestRateLimitSweepJob_RealLimiter(t *testing.T) {
	t.Parallel()

	rl := security.NewRateLimiter(security.RateLimitConfig{})
	j := &cron.RateLimitSweepJob{Limiter: rl}
	if err := j.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
}
