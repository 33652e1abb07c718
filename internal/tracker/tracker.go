// Package tracker fuses per-tab focus, visibility and host idle signals into
// accrual decisions and keeps the page registry in step with them.
//
// A tab accrues time only while it is the active tab of the focused window,
// its content is visible, the host is not idle and tracking is enabled. After
// every signal the tracker recomputes that single tab and reconciles: the
// previous accrual is committed before a new one begins.
//
// Tracker is not safe for concurrent use. The engine calls it from one
// goroutine.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/runnerr0/dwell/internal/clock"
	"github.com/runnerr0/dwell/internal/storage"
)

// Config wires a Tracker to its collaborators.
type Config struct {
	Registry Registry
	Sessions SessionSource
	Browser  Browser
	Clock    clock.Clock
	Enricher Enricher
	Notifier Notifier
	Logger   zerolog.Logger

	// CommitRetries bounds the attempts for one begin or end commit.
	CommitRetries uint
	// RetryInterval is the first backoff delay between attempts.
	RetryInterval time.Duration
}

// Tracker owns ActiveTabState for every open tab.
type Tracker struct {
	reg      Registry
	sessions SessionSource
	browser  Browser
	clock    clock.Clock
	enricher Enricher
	notifier Notifier
	log      zerolog.Logger

	retries       uint
	retryInterval time.Duration

	tabs           map[int]*TabState
	activeByWindow map[int]int
	focusedWindow  int
	accruingTab    int
	idle           bool
	enabled        bool
	// strandedAt is when a commit of an open accrual first failed. Later
	// commits of that accrual credit time only up to it.
	strandedAt time.Time
}

// New creates a Tracker with no known tabs and tracking enabled.
func New(cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.CommitRetries == 0 {
		cfg.CommitRetries = 5
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}
	return &Tracker{
		reg:            cfg.Registry,
		sessions:       cfg.Sessions,
		browser:        cfg.Browser,
		clock:          cfg.Clock,
		enricher:       cfg.Enricher,
		notifier:       cfg.Notifier,
		log:            cfg.Logger,
		retries:        cfg.CommitRetries,
		retryInterval:  cfg.RetryInterval,
		tabs:           make(map[int]*TabState),
		activeByWindow: make(map[int]int),
		focusedWindow:  NoWindow,
		accruingTab:    noTab,
		enabled:        true,
	}
}

// SetNotifier installs the accrual-change hook.
func (t *Tracker) SetNotifier(n Notifier) { t.notifier = n }

// Enabled reports whether tracking is on.
func (t *Tracker) Enabled() bool { return t.enabled }

// SetEnabled turns tracking on or off and reconciles.
func (t *Tracker) SetEnabled(ctx context.Context, enabled bool) error {
	t.enabled = enabled
	return t.reconcile(ctx, "tracking_disabled", "tracking_enabled")
}

// TabActivated handles a tab becoming the selected tab of its window.
func (t *Tracker) TabActivated(ctx context.Context, tabID, windowID int) error {
	now := t.clock.Now()
	tab := t.ensureTab(tabID, windowID)

	if prev, ok := t.activeByWindow[tab.WindowID]; ok && prev != tabID {
		if p := t.tabs[prev]; p != nil {
			p.Visible = false
		}
	}
	t.activeByWindow[tab.WindowID] = tabID
	tab.Visible = true
	tab.LastActivity = now

	return t.reconcile(ctx, "tab_switch", "tab_switch")
}

// TabUpdated handles a tab-updated signal. A complete load with a URL is a
// page view; an update carrying only a title refreshes the title.
func (t *Tracker) TabUpdated(ctx context.Context, u TabUpdate) error {
	tab := t.ensureTab(u.TabID, u.WindowID)
	tab.LastActivity = t.clock.Now()

	if u.Status != StatusComplete || u.URL == "" {
		if u.Title != "" {
			tab.Title = u.Title
		}
		return nil
	}

	if tab.accruingPage != 0 {
		if err := t.stop(ctx, tab.TabID, storage.EventFocusLost, "navigation"); err != nil {
			return err
		}
		// Re-read after the store call.
		if tab = t.tabs[u.TabID]; tab == nil {
			return nil
		}
	}

	tab.URL = u.URL
	if u.Title != "" {
		tab.Title = u.Title
	}
	if err := t.bind(ctx, tab, "navigation"); err != nil {
		return err
	}
	return t.reconcile(ctx, "navigation", "navigation")
}

// TabRemoved commits any accrual on the tab, records the close and forgets
// the tab. The page aggregate is kept.
func (t *Tracker) TabRemoved(ctx context.Context, tabID int) error {
	tab := t.tabs[tabID]
	if tab == nil {
		t.log.Debug().Int("tab", tabID).Msg("remove for unknown tab ignored")
		return nil
	}

	if tab.accruingPage != 0 {
		if err := t.stop(ctx, tabID, storage.EventTabClose, "tab_close"); err != nil {
			return err
		}
	} else if tab.PageID != 0 {
		t.appendEvent(ctx, tab.PageID, storage.EventTabClose, map[string]any{
			"elapsedMs": int64(0),
			"reason":    "tab_close",
		})
	}

	if tab = t.tabs[tabID]; tab != nil {
		if t.activeByWindow[tab.WindowID] == tabID {
			delete(t.activeByWindow, tab.WindowID)
		}
		delete(t.tabs, tabID)
	}
	return t.reconcile(ctx, "tab_close", "tab_close")
}

// WindowFocusChanged records which window has host focus. NoWindow means
// the browser lost focus entirely.
func (t *Tracker) WindowFocusChanged(ctx context.Context, windowID int) error {
	if windowID <= 0 {
		windowID = NoWindow
	}
	t.focusedWindow = windowID
	return t.reconcile(ctx, "window_blur", "window_focus")
}

// VisibilityChanged records a content visibility report for a tab.
func (t *Tracker) VisibilityChanged(ctx context.Context, tabID int, visible bool) error {
	tab := t.tabs[tabID]
	if tab == nil {
		t.log.Debug().Int("tab", tabID).Msg("visibility for unknown tab ignored")
		return nil
	}
	if tab.Visible == visible {
		return nil
	}
	tab.Visible = visible
	if tab.PageID != 0 {
		t.appendEvent(ctx, tab.PageID, storage.EventVisibilityChange, map[string]any{
			"tabId":   tabID,
			"visible": visible,
		})
	}
	return t.reconcile(ctx, "hidden", "visible")
}

// IdleChanged applies a debounced host idle transition.
func (t *Tracker) IdleChanged(ctx context.Context, idle bool) error {
	if t.idle == idle {
		return nil
	}
	t.idle = idle

	if t.enabled {
		typ := storage.EventIdleEnd
		if idle {
			typ = storage.EventIdleStart
		}
		t.appendEvent(ctx, 0, typ, nil)
	}
	return t.reconcile(ctx, "idle", "idle_end")
}

// Touch records user input on a tab.
func (t *Tracker) Touch(tabID int) {
	if tab := t.tabs[tabID]; tab != nil {
		tab.LastActivity = t.clock.Now()
	}
}

// Reconcile is the periodic tick: it commits the open accrual and reopens
// it at the same instant, bounding what an abrupt exit can lose, then
// re-derives the accruing tab. An accrual stranded by a failed commit is
// never checkpointed.
func (t *Tracker) Reconcile(ctx context.Context) error {
	tab := t.tabs[t.accruingTab]
	if tab != nil && tab.accruingPage != 0 && t.enabled && t.strandedAt.IsZero() {
		pageID := tab.accruingPage
		sid := t.sessionID(ctx)
		now := t.clock.Now()
		elapsed, err := retry(ctx, t, "checkpoint", func() (int64, error) {
			return t.reg.CheckpointAccrual(ctx, pageID, sid, now)
		})
		switch {
		case errors.Is(err, storage.ErrNotFound):
			t.dropAccrual(pageID)
		case err != nil:
			t.strand(now)
			return fmt.Errorf("%w: checkpoint page %d: %w", ErrCommit, pageID, err)
		default:
			t.log.Debug().Int64("page", pageID).Int64("elapsed_ms", elapsed).Msg("checkpoint")
		}
	}
	return t.reconcile(ctx, "reconcile", "reconcile")
}

// CloseStale commits every open accrual marker, crediting time only up to
// cutoff, and forgets the in-memory accruals they backed. A zero cutoff
// closes them without crediting time.
func (t *Tracker) CloseStale(ctx context.Context, cutoff time.Time, sessionID string) error {
	n, err := t.reg.CloseStaleAccruals(ctx, cutoff, sessionID)
	if err != nil {
		return fmt.Errorf("%w: close stale accruals: %w", ErrCommit, err)
	}
	t.forgetAccruals()
	if n > 0 {
		t.log.Warn().Int("pages", n).Time("cutoff", cutoff).Msg("closed accruals left open by previous run")
	}
	return nil
}

// Recover rebuilds tab state from the browser: a page is upserted for every
// tab, and only the active tab of the focused window starts accruing. A tab
// still showing the page it was bound to keeps that binding, so repeated
// snapshots do not count repeat visits.
func (t *Tracker) Recover(ctx context.Context) error {
	if err := t.StopAll(ctx, "recover"); err != nil {
		return err
	}

	snap, err := t.browser.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("enumerate tabs: %w", err)
	}

	now := t.clock.Now()
	prev := t.tabs
	t.tabs = make(map[int]*TabState, len(snap.Tabs))
	t.activeByWindow = make(map[int]int)
	t.focusedWindow = NoWindow
	if snap.FocusedWindow > 0 {
		t.focusedWindow = snap.FocusedWindow
	}

	for _, info := range snap.Tabs {
		tab := &TabState{
			TabID:        info.TabID,
			WindowID:     info.WindowID,
			URL:          info.URL,
			Title:        info.Title,
			Visible:      info.Active && !info.Hidden,
			LastActivity: now,
		}
		t.tabs[info.TabID] = tab
		if info.Active {
			t.activeByWindow[info.WindowID] = info.TabID
		}
		if old := prev[info.TabID]; old != nil && old.PageID != 0 && sameURL(old.URL, info.URL) {
			tab.PageID = old.PageID
			tab.Domain = old.Domain
			if tab.Title == "" {
				tab.Title = old.Title
			}
			continue
		}
		if err := t.bind(ctx, tab, "recover"); err != nil {
			return err
		}
	}

	t.log.Info().Int("tabs", len(t.tabs)).Int("focused_window", t.focusedWindow).Msg("recovered tab state")
	return t.reconcile(ctx, "recover", "recover")
}

// StopAll commits every open accrual. It is mandatory before the process
// exits or tracking pauses.
func (t *Tracker) StopAll(ctx context.Context, reason string) error {
	var errs []error
	for id, tab := range t.tabs {
		if tab.accruingPage == 0 {
			continue
		}
		if err := t.stop(ctx, id, storage.EventFocusLost, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Detach drops every tab's page binding and in-memory accrual without
// committing. It follows a data wipe; tabs rebind on their next page view
// or when they become the focused tab.
func (t *Tracker) Detach() {
	t.forgetAccruals()
	for _, tab := range t.tabs {
		tab.PageID = 0
		tab.needsBind = tab.URL != ""
	}
}

func (t *Tracker) forgetAccruals() {
	for _, tab := range t.tabs {
		tab.accruingPage = 0
		tab.AccruingSince = time.Time{}
	}
	t.accruingTab = noTab
	t.strandedAt = time.Time{}
}

// Current returns the focused tab, if any.
func (t *Tracker) Current() (TabState, bool) {
	id, ok := t.activeByWindow[t.focusedWindow]
	if !ok || t.focusedWindow == NoWindow {
		return TabState{}, false
	}
	tab := t.tabs[id]
	if tab == nil {
		return TabState{}, false
	}
	return t.view(tab), true
}

// Tab returns the state of one tab.
func (t *Tracker) Tab(tabID int) (TabState, bool) {
	tab := t.tabs[tabID]
	if tab == nil {
		return TabState{}, false
	}
	return t.view(tab), true
}

// Tabs returns the number of known tabs.
func (t *Tracker) Tabs() int { return len(t.tabs) }

func (t *Tracker) view(tab *TabState) TabState {
	v := *tab
	v.Focused = t.focusedWindow != NoWindow && t.activeByWindow[t.focusedWindow] == tab.TabID
	v.Idle = t.idle
	v.Accruing = tab.accruingPage != 0
	return v
}

func (t *Tracker) ensureTab(tabID, windowID int) *TabState {
	tab := t.tabs[tabID]
	if tab == nil {
		tab = &TabState{TabID: tabID, WindowID: windowID}
		t.tabs[tabID] = tab
		return tab
	}
	if windowID > 0 && windowID != tab.WindowID {
		if t.activeByWindow[tab.WindowID] == tabID {
			delete(t.activeByWindow, tab.WindowID)
		}
		tab.WindowID = windowID
	}
	return tab
}

// desired returns the one tab that should be accruing, or nil.
func (t *Tracker) desired() *TabState {
	if !t.enabled || t.idle || t.focusedWindow == NoWindow {
		return nil
	}
	id, ok := t.activeByWindow[t.focusedWindow]
	if !ok {
		return nil
	}
	tab := t.tabs[id]
	if tab == nil || !tab.Visible {
		return nil
	}
	return tab
}

// reconcile brings the store in line with desired(): stop first, then begin.
func (t *Tracker) reconcile(ctx context.Context, stopReason, startReason string) error {
	want := t.desired()
	if want != nil && want.needsBind {
		if err := t.bind(ctx, want, "rebind"); err != nil {
			return err
		}
		want = t.desired()
	}
	if want != nil && want.PageID == 0 {
		want = nil
	}

	changed := false
	if cur := t.tabs[t.accruingTab]; cur != nil {
		if want == nil || want.TabID != cur.TabID || want.PageID != cur.accruingPage {
			if err := t.stop(ctx, cur.TabID, storage.EventFocusLost, stopReason); err != nil {
				return err
			}
			changed = true
		}
	} else {
		t.accruingTab = noTab
	}

	// Re-read after the store call.
	if want != nil {
		want = t.tabs[want.TabID]
	}
	if want != nil && want.PageID != 0 && want.accruingPage == 0 {
		if err := t.begin(ctx, want, startReason); err != nil {
			return err
		}
		changed = true
	}

	if changed && t.notifier != nil {
		t.notifier.AccrualChanged(ctx)
	}
	return nil
}

func (t *Tracker) begin(ctx context.Context, tab *TabState, reason string) error {
	pageID := tab.PageID
	now := t.clock.Now()
	started, err := retry(ctx, t, "begin", func() (bool, error) {
		return t.reg.BeginAccrual(ctx, pageID, now)
	})
	if errors.Is(err, storage.ErrNotFound) {
		t.log.Warn().Int("tab", tab.TabID).Int64("page", pageID).Msg("page vanished, unbinding tab")
		tab.PageID = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: begin accrual on page %d: %w", ErrCommit, pageID, err)
	}
	if !started {
		t.log.Debug().Int64("page", pageID).Msg("accrual already open")
	}

	tab.accruingPage = pageID
	tab.AccruingSince = now
	t.accruingTab = tab.TabID
	t.appendEvent(ctx, pageID, storage.EventFocusGain, map[string]any{
		"tabId":  tab.TabID,
		"reason": reason,
	})
	t.log.Debug().Int("tab", tab.TabID).Int64("page", pageID).Str("reason", reason).Msg("accrual started")
	return nil
}

// stop commits the tab's open accrual and records it as an event of type
// typ carrying the elapsed time.
func (t *Tracker) stop(ctx context.Context, tabID int, typ storage.EventType, reason string) error {
	tab := t.tabs[tabID]
	if tab == nil || tab.accruingPage == 0 {
		return nil
	}
	pageID := tab.accruingPage
	sid := t.sessionID(ctx)
	now := t.clock.Now()
	if !t.strandedAt.IsZero() {
		now = t.strandedAt
	}

	elapsed, err := retry(ctx, t, "end", func() (int64, error) {
		return t.reg.EndAccrual(ctx, pageID, sid, now)
	})
	if errors.Is(err, storage.ErrNotFound) {
		t.dropAccrual(pageID)
		return nil
	}
	if err != nil {
		t.strand(now)
		return fmt.Errorf("%w: end accrual on page %d: %w", ErrCommit, pageID, err)
	}

	t.dropAccrual(pageID)
	t.appendEvent(ctx, pageID, typ, map[string]any{
		"tabId":     tabID,
		"elapsedMs": elapsed,
		"reason":    reason,
	})
	t.log.Debug().Int("tab", tabID).Int64("page", pageID).Int64("elapsed_ms", elapsed).Str("reason", reason).Msg("accrual committed")
	return nil
}

// dropAccrual clears in-memory accrual flags for pageID.
func (t *Tracker) dropAccrual(pageID int64) {
	open := false
	for _, tab := range t.tabs {
		if tab.accruingPage == pageID {
			tab.accruingPage = 0
			tab.AccruingSince = time.Time{}
		}
		open = open || tab.accruingPage != 0
	}
	if tab := t.tabs[t.accruingTab]; tab == nil || tab.accruingPage == 0 {
		t.accruingTab = noTab
	}
	if !open {
		t.strandedAt = time.Time{}
	}
}

func (t *Tracker) strand(at time.Time) {
	if t.strandedAt.IsZero() {
		t.strandedAt = at
	}
}

// bind points the tab at the page for its URL, recording a page view.
// Untrackable and excluded URLs leave the tab unbound. While tracking is
// off nothing is written; the tab binds once tracking resumes.
func (t *Tracker) bind(ctx context.Context, tab *TabState, reason string) error {
	tab.needsBind = false
	tab.PageID = 0
	tab.Domain = storage.ExtractDomain(tab.URL)
	if !t.enabled {
		tab.needsBind = tab.URL != ""
		return nil
	}

	if !storage.IsTrackable(tab.URL) {
		return nil
	}
	if t.reg.IsExcluded(tab.Domain) {
		t.log.Debug().Str("domain", tab.Domain).Msg("domain excluded")
		return nil
	}

	page, err := t.reg.UpsertPage(ctx, tab.URL, tab.Title, t.clock.Now())
	if err != nil {
		return fmt.Errorf("upsert page for tab %d: %w", tab.TabID, err)
	}
	if tab = t.tabs[tab.TabID]; tab == nil {
		return nil
	}
	tab.PageID = page.ID
	tab.Domain = page.Domain
	if tab.Title == "" {
		tab.Title = page.Title
	}

	payload := map[string]any{"tabId": tab.TabID, "reason": reason}
	if ref := t.referrer(ctx, tab.TabID); ref != "" {
		payload["referrer"] = ref
	}
	t.appendEvent(ctx, page.ID, storage.EventPageView, payload)
	return nil
}

// sameURL reports whether two URLs name the same page.
func sameURL(a, b string) bool {
	na, err := storage.NormalizeURL(a)
	if err != nil {
		return false
	}
	nb, err := storage.NormalizeURL(b)
	return err == nil && na == nb
}

func (t *Tracker) referrer(ctx context.Context, tabID int) string {
	if t.enricher == nil {
		return ""
	}
	ref, err := t.enricher.Referrer(ctx, tabID)
	if err != nil {
		t.log.Warn().Err(err).Int("tab", tabID).Msg("referrer lookup failed")
		return ""
	}
	return ref
}

func (t *Tracker) sessionID(ctx context.Context) string {
	if t.sessions == nil {
		return ""
	}
	id, err := t.sessions.CurrentSessionID(ctx)
	if err != nil {
		t.log.Error().Err(err).Msg("no session for event")
		return ""
	}
	return id
}

// appendEvent writes to the event log. The log is diagnostic, so failures
// are logged but do not stop accounting.
func (t *Tracker) appendEvent(ctx context.Context, pageID int64, typ storage.EventType, payload map[string]any) {
	ev := &storage.Event{
		PageID:    pageID,
		SessionID: t.sessionID(ctx),
		Timestamp: t.clock.Now(),
		Type:      typ,
		Payload:   payload,
	}
	if err := t.reg.AppendEvent(ctx, ev); err != nil {
		t.log.Error().Err(err).Str("type", string(typ)).Int64("page", pageID).Msg("append event failed")
	}
}

// retry runs a commit with exponential backoff. ErrNotFound is permanent.
func retry[T any](ctx context.Context, t *Tracker, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.retryInterval
	b.MaxInterval = 20 * t.retryInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if errors.Is(err, storage.ErrNotFound) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(t.retries),
		backoff.WithNotify(func(err error, next time.Duration) {
			t.log.Warn().Err(err).Str("op", op).Dur("retry_in", next).Msg("accrual commit failed, retrying")
		}),
	)
}
