package storage

import (
	"context"
	"fmt"
	"time"
)

// TopDomains groups pages by domain and returns the limit domains with the
// most engaged time. Open accruals are projected to now.
func (s *SQLiteStore) TopDomains(ctx context.Context, limit int, now time.Time) ([]DomainStat, error) {
	if limit <= 0 {
		limit = 10
	}
	nowMs := now.UnixMilli()

	rows, err := s.db.QueryContext(ctx, `
		SELECT domain,
		       SUM(total_active_ms + CASE
		           WHEN open_accrual_start IS NOT NULL AND open_accrual_start < ?
		           THEN ? - open_accrual_start ELSE 0 END) AS total_ms,
		       SUM(visit_count),
		       COUNT(*),
		       MAX(last_visit)
		FROM pages
		GROUP BY domain
		ORDER BY total_ms DESC, domain ASC
		LIMIT ?
	`, nowMs, nowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("top domains: %w", err)
	}
	defer rows.Close()

	stats := []DomainStat{}
	for rows.Next() {
		var ds DomainStat
		var lastVisit int64
		if err := rows.Scan(&ds.Domain, &ds.TotalActiveMs, &ds.VisitCount, &ds.PageCount, &lastVisit); err != nil {
			return nil, fmt.Errorf("scan domain stat: %w", err)
		}
		ds.LastVisit = time.UnixMilli(lastVisit)
		stats = append(stats, ds)
	}
	return stats, rows.Err()
}

// StartOfDay returns local midnight of the calendar day containing t.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// TodayActiveTime returns the engaged milliseconds attributed to the
// calendar day containing now, including open accruals.
//
// TodayBounded clips every span and open accrual to [midnight, now).
// TodayLastVisit counts the whole committed total of each page last visited
// today plus open accruals that started today; it overcounts pages that were
// active across midnight.
func (s *SQLiteStore) TodayActiveTime(ctx context.Context, now time.Time, mode TodayMode) (int64, error) {
	dayStart := StartOfDay(now).UnixMilli()
	nowMs := now.UnixMilli()

	var committed, open int64
	switch mode {
	case TodayLastVisit:
		err := s.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(total_active_ms), 0) FROM pages WHERE last_visit >= ?
		`, dayStart).Scan(&committed)
		if err != nil {
			return 0, fmt.Errorf("today committed: %w", err)
		}
		err = s.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(? - open_accrual_start), 0) FROM pages
			WHERE open_accrual_start IS NOT NULL AND open_accrual_start >= ? AND open_accrual_start < ?
		`, nowMs, dayStart, nowMs).Scan(&open)
		if err != nil {
			return 0, fmt.Errorf("today open: %w", err)
		}

	case TodayBounded, "":
		err := s.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(MIN(end_ms, ?) - MAX(start_ms, ?)), 0) FROM spans
			WHERE end_ms > ? AND start_ms < ?
		`, nowMs, dayStart, dayStart, nowMs).Scan(&committed)
		if err != nil {
			return 0, fmt.Errorf("today committed: %w", err)
		}
		err = s.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(? - MAX(open_accrual_start, ?)), 0) FROM pages
			WHERE open_accrual_start IS NOT NULL AND open_accrual_start < ?
		`, nowMs, dayStart, nowMs).Scan(&open)
		if err != nil {
			return 0, fmt.Errorf("today open: %w", err)
		}

	default:
		return 0, fmt.Errorf("unknown today mode %q", mode)
	}

	return committed + open, nil
}
