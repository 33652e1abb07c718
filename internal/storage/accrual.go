package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BeginAccrual opens an accrual on the page at now. It reports false, and
// changes nothing, when an accrual is already open.
func (s *SQLiteStore) BeginAccrual(ctx context.Context, pageID int64, now time.Time) (bool, error) {
	res, err := s.beginAccrual.ExecContext(ctx, now.UnixMilli(), pageID)
	if err != nil {
		return false, fmt.Errorf("begin accrual: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetPage(ctx, pageID); err != nil {
		return false, err
	}
	return false, nil
}

// EndAccrual commits the open accrual on the page: elapsed time is added to
// the total, a span is recorded and the marker is cleared, all in one
// transaction. It returns the committed milliseconds, or 0 when nothing was
// open.
func (s *SQLiteStore) EndAccrual(ctx context.Context, pageID int64, sessionID string, now time.Time) (int64, error) {
	return s.commitAccrual(ctx, pageID, sessionID, now, false)
}

// CheckpointAccrual commits the open accrual like EndAccrual and reopens it
// at now in the same transaction. Nothing happens when no accrual is open.
func (s *SQLiteStore) CheckpointAccrual(ctx context.Context, pageID int64, sessionID string, now time.Time) (int64, error) {
	return s.commitAccrual(ctx, pageID, sessionID, now, true)
}

func (s *SQLiteStore) commitAccrual(ctx context.Context, pageID int64, sessionID string, now time.Time, reopen bool) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var open sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT open_accrual_start FROM pages WHERE id = ?`, pageID).Scan(&open)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("page %d: %w", pageID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("read accrual: %w", err)
	}
	if !open.Valid {
		return 0, nil
	}

	elapsed, err := commitSpan(ctx, tx, pageID, sessionID, open.Int64, now.UnixMilli(), reopen)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit accrual: %w", err)
	}
	return elapsed, nil
}

// commitSpan folds [startMs, endMs) into the page total and records it.
// The update is guarded on the marker still holding startMs.
func commitSpan(ctx context.Context, tx *sql.Tx, pageID int64, sessionID string, startMs, endMs int64, reopen bool) (int64, error) {
	elapsed := endMs - startMs
	if elapsed < 0 {
		elapsed = 0
		endMs = startMs
	}

	var next any
	if reopen {
		next = endMs
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE pages
		SET total_active_ms = total_active_ms + ?, open_accrual_start = ?
		WHERE id = ? AND open_accrual_start = ?
	`, elapsed, next, pageID, startMs)
	if err != nil {
		return 0, fmt.Errorf("update page total: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return 0, fmt.Errorf("accrual on page %d changed during commit", pageID)
	}

	if elapsed > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO spans (page_id, session_id, start_ms, end_ms, elapsed_ms)
			VALUES (?, ?, ?, ?, ?)
		`, pageID, sessionID, startMs, endMs, elapsed); err != nil {
			return 0, fmt.Errorf("insert span: %w", err)
		}
	}
	return elapsed, nil
}

// CloseStaleAccruals commits every open accrual left behind by an earlier
// process, counting time only up to cutoff (the last moment that process
// was known to be alive). It returns how many markers were closed.
func (s *SQLiteStore) CloseStaleAccruals(ctx context.Context, cutoff time.Time, sessionID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	type open struct{ pageID, start int64 }
	rows, err := tx.QueryContext(ctx, `SELECT id, open_accrual_start FROM pages WHERE open_accrual_start IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("list open accruals: %w", err)
	}
	var opens []open
	for rows.Next() {
		var o open
		if err := rows.Scan(&o.pageID, &o.start); err != nil {
			rows.Close()
			return 0, err
		}
		opens = append(opens, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	end := cutoff.UnixMilli()
	for _, o := range opens {
		if _, err := commitSpan(ctx, tx, o.pageID, sessionID, o.start, end, false); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit stale accruals: %w", err)
	}
	return len(opens), nil
}

// ListSpans returns committed spans, optionally restricted to one page.
func (s *SQLiteStore) ListSpans(ctx context.Context, pageID int64) ([]Span, error) {
	query := `SELECT id, page_id, session_id, start_ms, end_ms, elapsed_ms FROM spans`
	var args []any
	if pageID > 0 {
		query += ` WHERE page_id = ?`
		args = append(args, pageID)
	}
	query += ` ORDER BY start_ms ASC, id ASC`
	return scanSpans(ctx, s.db, query, args...)
}

func scanSpans(ctx context.Context, q querier, query string, args ...any) ([]Span, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query spans: %w", err)
	}
	defer rows.Close()

	spans := []Span{}
	for rows.Next() {
		var sp Span
		var start, end int64
		if err := rows.Scan(&sp.ID, &sp.PageID, &sp.SessionID, &start, &end, &sp.ElapsedMs); err != nil {
			return nil, fmt.Errorf("scan span: %w", err)
		}
		sp.Start = time.UnixMilli(start)
		sp.End = time.UnixMilli(end)
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}
