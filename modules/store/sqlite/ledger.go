package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/sgate/internal/quota"
)

// LedgerStore implements quota.DurableStore.
type LedgerStore struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time interface check.
var _ quota.DurableStore = (*LedgerStore)(nil)

func (s *LedgerStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Load implements quota.DurableStore.
func (s *LedgerStore) Load(ctx context.Context, ledger, key, period string) (quota.Record, bool, error) {
	rec := quota.Record{Ledger: ledger, Key: key, Period: period}
	var syncedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT consumed, cursor, synced_at FROM quota_counters
		 WHERE ledger = ? AND key = ? AND period = ?`,
		ledger, key, period,
	).Scan(&rec.Consumed, &rec.Cursor, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("sqlite: load %s/%s/%s: %w", ledger, key, period, err)
	}
	rec.SyncedAt = parseTime(syncedAt)
	return rec, true, nil
}

// Apply implements quota.DurableStore. The cursor check, the counter update
// and the audit row share one transaction.
func (s *LedgerStore) Apply(ctx context.Context, e quota.Entry) (applied bool, err error) {
	if e.AppliedAt.IsZero() {
		e.AppliedAt = s.clock()
	}
	at := formatTime(e.AppliedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: begin apply: %w", err)
	}
	defer func() {
		if !applied {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO quota_counters (ledger, key, period) VALUES (?, ?, ?)`,
		e.Ledger, e.Key, e.Period,
	); err != nil {
		return false, fmt.Errorf("sqlite: ensure counter: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE quota_counters SET consumed = consumed + ?, cursor = ?, synced_at = ?
		 WHERE ledger = ? AND key = ? AND period = ? AND cursor = ?`,
		e.Amount, e.To, at, e.Ledger, e.Key, e.Period, e.From,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: advance cursor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: advance cursor: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quota_entries (ledger, key, period, from_cursor, to_cursor, amount, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Ledger, e.Key, e.Period, e.From, e.To, e.Amount, at,
	); err != nil {
		return false, fmt.Errorf("sqlite: append entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: commit apply: %w", err)
	}
	return true, nil
}

// Entries implements quota.DurableStore.
func (s *LedgerStore) Entries(ctx context.Context, ledger, key, period string) ([]quota.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_cursor, to_cursor, amount, applied_at FROM quota_entries
		 WHERE ledger = ? AND key = ? AND period = ? ORDER BY id`,
		ledger, key, period,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []quota.Entry
	for rows.Next() {
		e := quota.Entry{Ledger: ledger, Key: key, Period: period}
		var at string
		if err := rows.Scan(&e.From, &e.To, &e.Amount, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scan entry: %w", err)
		}
		e.AppliedAt = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
