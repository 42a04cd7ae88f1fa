// Package sqlite is the durable store of the gateway: quota ledgers and the
// arm catalog with its learned statistics, both on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// DB is an open store. Ledgers and Arms share its connection.
type DB struct {
	db     *sql.DB
	ledger *LedgerStore
	arms   *ArmStore
}

// Open opens (or creates) the database described by cfg and migrates its
// schema.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	cfg.Defaults(".")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}

	// One writer at a time; a single connection keeps PRAGMAs and
	// transactions on the same handle.
	db.SetMaxOpenConns(1)

	if cfg.walEnabled() {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{
		db:     db,
		ledger: &LedgerStore{db: db},
		arms:   &ArmStore{db: db},
	}, nil
}

// Ledger returns the quota ledger store.
func (d *DB) Ledger() *LedgerStore { return d.ledger }

// Arms returns the arm store.
func (d *DB) Arms() *ArmStore { return d.arms }

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}
