package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/runnerr0/dwell/internal/storage"
)

// ErrCommit marks a failure to persist an accrual start or stop after
// retries. Callers must not continue tracking as if nothing happened.
var ErrCommit = errors.New("accrual commit failed")

// NoWindow is the window ID meaning no browser window has host focus.
const NoWindow = -1

const noTab = -1

// StatusComplete is the tab status that marks a finished navigation.
const StatusComplete = "complete"

// Registry is the durable page and event store.
type Registry interface {
	UpsertPage(ctx context.Context, rawURL, title string, now time.Time) (*storage.Page, error)
	GetPage(ctx context.Context, id int64) (*storage.Page, error)
	BeginAccrual(ctx context.Context, pageID int64, now time.Time) (bool, error)
	EndAccrual(ctx context.Context, pageID int64, sessionID string, now time.Time) (int64, error)
	CheckpointAccrual(ctx context.Context, pageID int64, sessionID string, now time.Time) (int64, error)
	CloseStaleAccruals(ctx context.Context, cutoff time.Time, sessionID string) (int, error)
	AppendEvent(ctx context.Context, event *storage.Event) error
	IsExcluded(domain string) bool
}

// SessionSource supplies the session ID that tags every write.
type SessionSource interface {
	CurrentSessionID(ctx context.Context) (string, error)
}

// TabInfo describes one open tab as enumerated from the browser.
type TabInfo struct {
	TabID    int    `json:"tabId"`
	WindowID int    `json:"windowId"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	// Active is true for the selected tab of its window.
	Active bool `json:"active"`
	// Hidden is true when an active tab's content is known not to be
	// visible, e.g. its window is minimized.
	Hidden bool `json:"hidden,omitempty"`
}

// Snapshot is the browser's tab layout at one instant.
type Snapshot struct {
	Tabs          []TabInfo `json:"tabs"`
	FocusedWindow int       `json:"focusedWindow"`
}

// Browser enumerates open tabs for startup recovery and resume.
type Browser interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Enricher looks up optional context for a page view.
type Enricher interface {
	Referrer(ctx context.Context, tabID int) (string, error)
}

// Notifier is told whenever the accruing tab or page changes.
type Notifier interface {
	AccrualChanged(ctx context.Context)
}

// TabUpdate is a tab-updated signal.
type TabUpdate struct {
	TabID    int    `json:"tabId"`
	WindowID int    `json:"windowId"`
	Status   string `json:"status"`
	URL      string `json:"url"`
	Title    string `json:"title"`
}

// TabState is the in-memory view of one open tab.
type TabState struct {
	TabID        int       `json:"tabId"`
	WindowID     int       `json:"windowId"`
	PageID       int64     `json:"pageId,omitempty"`
	URL          string    `json:"url"`
	Domain       string    `json:"domain"`
	Title        string    `json:"title"`
	Visible      bool      `json:"visible"`
	Focused      bool      `json:"focused"`
	Idle         bool      `json:"idle"`
	Accruing     bool      `json:"accruing"`
	LastActivity time.Time `json:"lastActivity"`

	// AccruingSince is when the tab's current accrual began, or zero.
	AccruingSince time.Time `json:"accruingSince,omitempty"`

	// accruingPage is the page holding this tab's open accrual, or 0.
	accruingPage int64
	// needsBind is set when the tab lost its page binding to a data wipe.
	needsBind bool
}
