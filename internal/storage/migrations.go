package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, tx *sql.Tx) error
}

// registered lists every migration in order. SchemaVersion follows the last one.
var registered = []migration{
	{Version: 1, Name: "activity_schema", Apply: migrateV001},
	{Version: 2, Name: "accrual_spans", Apply: migrateV002},
}

// SchemaVersion is the schema version written into exports.
var SchemaVersion = registered[len(registered)-1].Version

// MigrationRunner applies pending migrations to a SQLite database.
type MigrationRunner struct {
	db         *sql.DB
	migrations []migration
}

// NewMigrationRunner creates a MigrationRunner with all registered migrations.
func NewMigrationRunner(db *sql.DB) *MigrationRunner {
	return &MigrationRunner{db: db, migrations: registered}
}

// Run creates the schema_migrations table if needed and applies, each in its
// own transaction, every migration newer than the recorded version.
func (r *MigrationRunner) Run(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	current, err := r.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range r.migrations {
		if m.Version <= current {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// Version returns the highest applied migration, or 0 on a fresh database.
func (r *MigrationRunner) Version(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

// apply executes a migration inside a transaction and records it.
func (r *MigrationRunner) apply(ctx context.Context, m migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := m.Apply(ctx, tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		m.Version, m.Name,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit()
}
