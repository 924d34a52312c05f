package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the latest schema version supported by the migrator.
const SchemaVersion = 1

// Migrate ensures the SQLite schema exists and is upgraded to SchemaVersion.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}

	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	err = db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current)
	if err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Timestamps are fixed-width UTC text so range filters compare
	// lexically; tz keeps the wall-clock zone recurrence steps in.
	_, err = tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			plan_type TEXT NOT NULL DEFAULT '',
			project TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			start_at TEXT NOT NULL,
			end_at TEXT NOT NULL,
			tz TEXT NOT NULL DEFAULT 'UTC',
			all_day INTEGER NOT NULL DEFAULT 0,
			freq TEXT NULL,
			step INTEGER NULL,
			until_at TEXT NULL,
			source_id TEXT NOT NULL DEFAULT '',
			uid TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create events table: %w", err)
	}

	_, err = tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_events_start_end ON events(start_at, end_at);`)
	if err != nil {
		return fmt.Errorf("migrate: create idx_events_start_end: %w", err)
	}

	_, err = tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_events_source ON events(source_id);`)
	if err != nil {
		return fmt.Errorf("migrate: create idx_events_source: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("migrate: record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit transaction: %w", err)
	}
	return nil
}
