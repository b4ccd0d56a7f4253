package database

import (
	"context"
	"fmt"
	"time"
)

// migration is one additive schema step. Steps are applied in slice order
// and recorded in schema_migrations so each runs exactly once.
type migration struct {
	version string
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: "20261001_120000",
		name:    "generated_ids",
		sql: `
			CREATE TABLE IF NOT EXISTS generated_ids (
				section TEXT NOT NULL,
				name TEXT NOT NULL,
				generated_id TEXT NOT NULL UNIQUE,
				assigned_at TEXT NOT NULL,
				PRIMARY KEY (section, name)
			) STRICT;
		`,
	},
}

// Migrate applies all pending schema migrations.
// Each migration runs in its own transaction.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version,
		).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.version,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}
