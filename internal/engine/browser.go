package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/runnerr0/dwell/internal/tracker"
)

// ErrNoSnapshot is returned when no tab layout has been pushed yet.
var ErrNoSnapshot = errors.New("no tab snapshot received")

// SnapshotBrowser serves the most recent pushed tab layout. It is the
// default tracker.Browser when the extension drives the daemon over HTTP.
type SnapshotBrowser struct {
	mu   sync.Mutex
	snap *tracker.Snapshot
}

// Set stores a new layout.
func (b *SnapshotBrowser) Set(s tracker.Snapshot) {
	b.mu.Lock()
	b.snap = &s
	b.mu.Unlock()
}

// Snapshot implements tracker.Browser.
func (b *SnapshotBrowser) Snapshot(context.Context) (tracker.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snap == nil {
		return tracker.Snapshot{FocusedWindow: tracker.NoWindow}, ErrNoSnapshot
	}
	return *b.snap, nil
}

// referrers remembers the referrer sent with each tab's latest load.
type referrers struct {
	mu sync.Mutex
	m  map[int]string
}

func (r *referrers) set(tabID int, ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = make(map[int]string)
	}
	if ref == "" {
		delete(r.m, tabID)
		return
	}
	r.m[tabID] = ref
}

func (r *referrers) forget(tabID int) {
	r.mu.Lock()
	delete(r.m, tabID)
	r.mu.Unlock()
}

// Referrer implements tracker.Enricher.
func (r *referrers) Referrer(_ context.Context, tabID int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[tabID], nil
}
