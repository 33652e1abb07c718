package storage

import (
	"context"
	"fmt"
	"time"
)

// ClearAll deletes every page, event, span and session in one transaction.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmts := []string{
		"DELETE FROM spans",
		"DELETE FROM events",
		"DELETE FROM pages",
		"DELETE FROM sessions",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear (%s): %w", stmt, err)
		}
	}
	return tx.Commit()
}

// Export dumps every table. Reads run in one transaction so the dump is a
// consistent snapshot.
func (s *SQLiteStore) Export(ctx context.Context, now time.Time) (*Export, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	out := &Export{
		ExportedAt:    now.UnixMilli(),
		SchemaVersion: SchemaVersion,
	}

	if out.Pages, err = s.queryPages(ctx, tx, `SELECT `+pageColumns+` FROM pages ORDER BY id ASC`); err != nil {
		return nil, err
	}
	if out.Events, err = scanEvents(ctx, tx, `SELECT id, page_id, session_id, ts, type, payload FROM events ORDER BY ts ASC, id ASC`); err != nil {
		return nil, err
	}
	if out.Sessions, err = s.listSessions(ctx, tx, `SELECT `+sessionColumns+` FROM sessions ORDER BY id ASC`); err != nil {
		return nil, err
	}
	if out.Spans, err = scanSpans(ctx, tx, `SELECT id, page_id, session_id, start_ms, end_ms, elapsed_ms FROM spans ORDER BY id ASC`); err != nil {
		return nil, err
	}
	return out, nil
}
