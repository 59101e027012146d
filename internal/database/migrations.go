package database

import (
	"context"
	"fmt"
	"log/slog"
)

type migration struct {
	version string
	up      map[Dialect]string
}

var migrations = []migration{
	{
		version: "001_stage_outcomes",
		up: map[Dialect]string{
			Postgres: `
				CREATE TABLE IF NOT EXISTS stage_outcomes (
					id         TEXT PRIMARY KEY,
					run_id     TEXT NOT NULL,
					handle     TEXT NOT NULL,
					shortcode  TEXT NOT NULL,
					stage      TEXT NOT NULL,
					status     TEXT NOT NULL,
					reason     TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL
				)`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS stage_outcomes (
					id         TEXT PRIMARY KEY,
					run_id     TEXT NOT NULL,
					handle     TEXT NOT NULL,
					shortcode  TEXT NOT NULL,
					stage      TEXT NOT NULL,
					status     TEXT NOT NULL,
					reason     TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				)`,
		},
	},
	{
		version: "002_stage_outcomes_indexes",
		up: map[Dialect]string{
			Postgres: `CREATE INDEX IF NOT EXISTS idx_stage_outcomes_stage_status ON stage_outcomes (stage, status)`,
			SQLite:   `CREATE INDEX IF NOT EXISTS idx_stage_outcomes_stage_status ON stage_outcomes (stage, status)`,
		},
	},
}

// EnsureSchema applies every migration not yet recorded in schema_migrations.
func EnsureSchema(ctx context.Context, db *DB, logger *slog.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	pending := 0
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		stmt, ok := m.up[db.Dialect]
		if !ok {
			return fmt.Errorf("migration %s has no %s variant", m.version, db.Dialect)
		}
		pending++
		logger.Info("applying migration", "version", m.version)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, db.Rebind("INSERT INTO schema_migrations (version) VALUES (?)"), m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.version, err)
		}
	}

	if pending == 0 {
		logger.Debug("no pending migrations found")
	} else {
		logger.Info("migrations completed", "count", pending)
	}
	return nil
}
