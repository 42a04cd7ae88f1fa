package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/flemzord/sgate/internal/quota"
	"github.com/flemzord/sgate/internal/security"
)

// DefaultSyncExpiry bounds a ledger reconciliation run.
const DefaultSyncExpiry = time.Minute

// LedgerSyncer is the subset of quota.Ledger needed by QuotaSyncJob.
type LedgerSyncer interface {
	Name() string
	SyncAll(ctx context.Context) ([]quota.SyncResult, error)
}

// QuotaSyncJob moves fast-cache consumption of one ledger into the
// durable store. Re-running it is a no-op for keys already synced.
type QuotaSyncJob struct {
	Ledger       LedgerSyncer
	Logger       *slog.Logger
	Audit        *security.AuditLogger
	ScheduleExpr string        // empty = default "@every 1m"
	RunExpiry    time.Duration // empty = DefaultSyncExpiry
}

// Compile-time interface checks.
var (
	_ Job      = (*QuotaSyncJob)(nil)
	_ Expiring = (*QuotaSyncJob)(nil)
)

// QuotaSyncJobName returns the job name used for a ledger.
func QuotaSyncJobName(ledger string) string {
	return "quota_sync:" + ledger
}

// Name implements Job.
func (j *QuotaSyncJob) Name() string { return QuotaSyncJobName(j.Ledger.Name()) }

// Schedule implements Job.
func (j *QuotaSyncJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "@every 1m"
}

// Expiry implements Expiring.
func (j *QuotaSyncJob) Expiry() time.Duration {
	if j.RunExpiry > 0 {
		return j.RunExpiry
	}
	return DefaultSyncExpiry
}

// Run reconciles every key of the ledger.
func (j *QuotaSyncJob) Run(ctx context.Context) error {
	results, err := j.Ledger.SyncAll(ctx)

	var amount int64
	for _, r := range results {
		amount += r.Entry.Amount
	}
	if len(results) > 0 {
		j.logger().Info("cron: ledger synced", "ledger", j.Ledger.Name(), "keys", len(results), "amount", amount)
		j.Audit.Log(security.AuditEvent{
			Type:   security.EventQuotaSync,
			Detail: j.Ledger.Name(),
			Metadata: map[string]string{
				"keys":   strconv.Itoa(len(results)),
				"amount": strconv.FormatInt(amount, 10),
			},
		})
	}
	if err != nil {
		return fmt.Errorf("cron: syncing ledger %s: %w", j.Ledger.Name(), err)
	}
	return nil
}

func (j *QuotaSyncJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return j.Logger
}

// Sweeper is the subset of security.RateLimiter needed by RateLimitSweepJob.
type Sweeper interface {
	Sweep() int
}

// RateLimitSweepJob drops expired rate limiter windows so idle keys do not
// accumulate.
type RateLimitSweepJob struct {
	Limiter      Sweeper
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

var _ Job = (*RateLimitSweepJob)(nil)

// Name implements Job.
func (j *RateLimitSweepJob) Name() string { return "ratelimit_sweep" }

// Schedule implements Job.
func (j *RateLimitSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run sweeps the limiter.
func (j *RateLimitSweepJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: rate limit sweep cancelled: %w", ctx.Err())
	}
	if n := j.Limiter.Sweep(); n > 0 && j.Logger != nil {
		j.Logger.Debug("cron: swept rate limit windows", "count", n)
	}
	return nil
}
