package storage

import (
	"context"
	"database/sql"
)

// migrateV001 creates the pages, events and sessions tables.
func migrateV001(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pages (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			url                TEXT NOT NULL UNIQUE,
			domain             TEXT NOT NULL DEFAULT '',
			title              TEXT NOT NULL DEFAULT '',
			first_visit        INTEGER NOT NULL,
			last_visit         INTEGER NOT NULL,
			total_active_ms    INTEGER NOT NULL DEFAULT 0 CHECK (total_active_ms >= 0),
			open_accrual_start INTEGER,
			visit_count        INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			page_id    INTEGER REFERENCES pages(id) ON DELETE SET NULL,
			session_id TEXT NOT NULL DEFAULT '',
			ts         INTEGER NOT NULL,
			type       TEXT NOT NULL CHECK (type IN (
				'page_view', 'focus_gain', 'focus_lost', 'visibility_change', 'tab_close',
				'idle_start', 'idle_end', 'session_start', 'session_end'
			)),
			payload    TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			start_time INTEGER NOT NULL,
			end_time   INTEGER,
			last_seen  INTEGER NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 0
		)`,

		// At most one row may be active.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_single_active ON sessions(is_active) WHERE is_active = 1`,

		`CREATE INDEX IF NOT EXISTS idx_pages_domain     ON pages(domain)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_last_visit ON pages(last_visit)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts        ON events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_page      ON events(page_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session   ON events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_start   ON sessions(start_time)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrateV002 adds the span ledger: one row per committed accrual.
func migrateV002(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS spans (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			page_id    INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
			session_id TEXT NOT NULL DEFAULT '',
			start_ms   INTEGER NOT NULL,
			end_ms     INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL CHECK (elapsed_ms >= 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_end  ON spans(end_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_page ON spans(page_id)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
