package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS arms (
		id                TEXT    PRIMARY KEY,
		instance_id       TEXT    NOT NULL DEFAULT '',
		provider_model_id TEXT    NOT NULL DEFAULT '',
		provider          TEXT    NOT NULL DEFAULT '',
		capability        TEXT    NOT NULL,
		model             TEXT    NOT NULL,
		weight            REAL    NOT NULL DEFAULT 1,
		priority          INTEGER NOT NULL DEFAULT 0,
		active            INTEGER NOT NULL DEFAULT 1,
		epsilon           REAL    NOT NULL DEFAULT 0,
		alpha             REAL    NOT NULL DEFAULT 1,
		beta              REAL    NOT NULL DEFAULT 1,
		stats             TEXT    NOT NULL DEFAULT '{}',
		version           INTEGER NOT NULL DEFAULT 1,
		updated_at        TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_arms_route ON arms(capability, model)`,

	`CREATE TABLE IF NOT EXISTS quota_counters (
		ledger    TEXT    NOT NULL,
		key       TEXT    NOT NULL,
		period    TEXT    NOT NULL,
		consumed  INTEGER NOT NULL DEFAULT 0,
		cursor    INTEGER NOT NULL DEFAULT 0,
		synced_at TEXT    NOT NULL DEFAULT '',
		PRIMARY KEY (ledger, key, period)
	)`,

	`CREATE TABLE IF NOT EXISTS quota_entries (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		ledger      TEXT    NOT NULL,
		key         TEXT    NOT NULL,
		period      TEXT    NOT NULL,
		from_cursor INTEGER NOT NULL,
		to_cursor   INTEGER NOT NULL,
		amount      INTEGER NOT NULL,
		applied_at  TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_quota_entries_key ON quota_entries(ledger, key, period, id)`,
}

// migrate creates or updates the database schema to the latest version.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
