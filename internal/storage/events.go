package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// AppendEvent inserts an event into the log. ID is populated on success; a
// zero Timestamp is set to the current time.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if !event.Type.Valid() {
		return fmt.Errorf("append event: unknown type %q", event.Type)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var payload sql.NullString
	if len(event.Payload) > 0 {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}

	var pageID sql.NullInt64
	if event.PageID > 0 {
		pageID = sql.NullInt64{Int64: event.PageID, Valid: true}
	}

	res, err := s.insertEvent.ExecContext(ctx,
		pageID, event.SessionID, event.Timestamp.UnixMilli(), string(event.Type), payload,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	event.ID, _ = res.LastInsertId()
	return nil
}

// ListEvents queries events with optional filters, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	var clauses []string
	var args []any

	if q.PageID > 0 {
		clauses = append(clauses, "page_id = ?")
		args = append(args, q.PageID)
	}
	if q.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if q.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(q.Type))
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "ts <= ?")
		args = append(args, q.Until.UnixMilli())
	}

	query := `SELECT id, page_id, session_id, ts, type, payload FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY ts ASC, id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	return scanEvents(ctx, s.db, query, args...)
}

// scanEvents executes a query and scans results into Event slices.
func scanEvents(ctx context.Context, q querier, query string, args ...any) ([]Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e       Event
			pageID  sql.NullInt64
			ts      int64
			typ     string
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &pageID, &e.SessionID, &ts, &typ, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.PageID = pageID.Int64
		e.Timestamp = time.UnixMilli(ts)
		e.Type = EventType(typ)
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of event %d: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneEvents deletes events older than olderThan. Page totals and spans
// are kept.
func (s *SQLiteStore) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE ts < ?", olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}
