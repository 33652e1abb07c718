package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = `id, session_id, start_time, end_time, last_seen, is_active`

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess            Session
		start, lastSeen int64
		end             sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.SessionID, &start, &end, &lastSeen, &sess.IsActive); err != nil {
		return nil, err
	}
	sess.StartTime = time.UnixMilli(start)
	sess.LastSeen = time.UnixMilli(lastSeen)
	if end.Valid {
		t := time.UnixMilli(end.Int64)
		sess.EndTime = &t
	}
	return &sess, nil
}

// CreateSession records a new active session. It fails if another session
// is still active.
func (s *SQLiteStore) CreateSession(ctx context.Context, sessionID string, start time.Time) (*Session, error) {
	ms := start.UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, start_time, last_seen, is_active)
		VALUES (?, ?, ?, 1)
	`, sessionID, ms, ms)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id, _ := res.LastInsertId()
	return &Session{ID: id, SessionID: sessionID, StartTime: time.UnixMilli(ms), LastSeen: time.UnixMilli(ms), IsActive: true}, nil
}

// EndSession marks the session ended at end. It reports false when the
// session was not active.
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string, end time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET end_time = MAX(?, start_time), is_active = 0
		WHERE session_id = ? AND is_active = 1
	`, end.UnixMilli(), sessionID)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TouchSession records a liveness heartbeat.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_seen = MAX(last_seen, ?)
		WHERE session_id = ? AND is_active = 1
	`, now.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by its generated identifier.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ActiveSessions returns every session still flagged active.
func (s *SQLiteStore) ActiveSessions(ctx context.Context) ([]Session, error) {
	return s.listSessions(ctx, s.db, `SELECT `+sessionColumns+` FROM sessions WHERE is_active = 1 ORDER BY start_time ASC`)
}

// ListSessions returns all sessions, oldest first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]Session, error) {
	return s.listSessions(ctx, s.db, `SELECT `+sessionColumns+` FROM sessions ORDER BY start_time ASC, id ASC`)
}

func (s *SQLiteStore) listSessions(ctx context.Context, q querier, query string, args ...any) ([]Session, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}
