// Package cron runs periodic background work: ledger reconciliation and
// rate limiter housekeeping.
package cron

import (
	"context"
	"time"
)

// Job defines a periodic background task.
type Job interface {
	// Name returns a unique identifier for this job (used for logging and dedup).
	Name() string

	// Schedule returns a 5-field cron expression (e.g., "*/5 * * * *") or a
	// descriptor such as "@every 1m".
	Schedule() string

	// Run executes the job. Implementations should check ctx.Done() for
	// graceful cancellation.
	Run(ctx context.Context) error
}

// Expiring is implemented by jobs whose runs must finish within a bound.
// The scheduler cancels the run context when Expiry elapses.
type Expiring interface {
	Expiry() time.Duration
}
