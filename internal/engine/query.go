package engine

import (
	"context"
	"time"

	"github.com/runnerr0/dwell/internal/clock"
	"github.com/runnerr0/dwell/internal/storage"
)

// QueryStore is the read side of the table store.
type QueryStore interface {
	TopDomains(ctx context.Context, limit int, now time.Time) ([]storage.DomainStat, error)
	TodayActiveTime(ctx context.Context, now time.Time, mode storage.TodayMode) (int64, error)
	Export(ctx context.Context, now time.Time) (*storage.Export, error)
}

// Query answers aggregate questions straight from the store. The engine
// uses it for the control channel and the CLI uses it when no daemon is
// running.
type Query struct {
	Store     QueryStore
	Clock     clock.Clock
	TodayMode storage.TodayMode
}

// DefaultDomainLimit is the number of domains returned when none is asked for.
const DefaultDomainLimit = 10

// TopDomains returns the busiest domains with open accruals projected to now.
func (q Query) TopDomains(ctx context.Context, limit int) ([]storage.DomainStat, error) {
	if limit <= 0 {
		limit = DefaultDomainLimit
	}
	return q.Store.TopDomains(ctx, limit, q.Clock.Now())
}

// Today returns the engaged milliseconds attributed to the current day.
func (q Query) Today(ctx context.Context) (int64, error) {
	return q.Store.TodayActiveTime(ctx, q.Clock.Now(), q.TodayMode)
}

// Stats combines the top domains and today's total.
func (q Query) Stats(ctx context.Context, limit int) (*Stats, error) {
	domains, err := q.TopDomains(ctx, limit)
	if err != nil {
		return nil, err
	}
	today, err := q.Today(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{TopDomains: domains, TodayMs: today, TodayMode: string(q.TodayMode)}, nil
}

// Export dumps every table.
func (q Query) Export(ctx context.Context) (*storage.Export, error) {
	return q.Store.Export(ctx, q.Clock.Now())
}
