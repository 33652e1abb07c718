package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/runnerr0/dwell/internal/storage"
)

// RequestType names a control operation.
type RequestType string

const (
	GetStats       RequestType = "GET_STATS"
	GetTodayTime   RequestType = "GET_TODAY_TIME"
	GetDomainStats RequestType = "GET_DOMAIN_STATS"
	PauseTracking  RequestType = "PAUSE_TRACKING"
	ResumeTracking RequestType = "RESUME_TRACKING"
	ExportData     RequestType = "EXPORT_DATA"
	ClearData      RequestType = "CLEAR_DATA"
	GetCurrentTab  RequestType = "GET_CURRENT_TAB"
)

// Response error codes.
const (
	CodeUnsupported = "unsupported"
	CodeStorage     = "storage"
	CodeStopped     = "stopped"
	CodeTracking    = "tracking"
)

// ErrUnsupported is returned for control requests the engine does not know.
var ErrUnsupported = errors.New("unsupported operation")

// Request is one control call.
type Request struct {
	Type  RequestType `json:"type"`
	Limit int         `json:"limit,omitempty"`
}

// Tracking states.
const (
	StateTracking = "tracking"
	StatePaused   = "paused"
	StateDisabled = "disabled"
)

// Status describes the engine's tracking state.
type Status struct {
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Tabs      int    `json:"tabs"`
	Idle      bool   `json:"idle"`
}

// CurrentTab is the focused tab and its page's time so far.
type CurrentTab struct {
	TabID    int    `json:"tabId"`
	URL      string `json:"url"`
	Domain   string `json:"domain"`
	Title    string `json:"title"`
	PageID   int64  `json:"pageId,omitempty"`
	Accruing bool   `json:"accruing"`
	TotalMs  int64  `json:"totalMs"`
}

// Stats is the GET_STATS payload.
type Stats struct {
	TopDomains []storage.DomainStat `json:"topDomains"`
	TodayMs    int64                `json:"todayMs"`
	TodayMode  string               `json:"todayMode"`
	Current    *CurrentTab          `json:"current,omitempty"`
	Status     *Status              `json:"status,omitempty"`
}

// Response is the single reply to a Request. Exactly one payload field is
// set on success; Error and Code are set on failure.
type Response struct {
	Type    RequestType          `json:"type"`
	Stats   *Stats               `json:"stats,omitempty"`
	TodayMs *int64               `json:"todayMs,omitempty"`
	Domains []storage.DomainStat `json:"domains,omitempty"`
	Current *CurrentTab          `json:"current,omitempty"`
	Status  *Status              `json:"status,omitempty"`
	Export  *storage.Export      `json:"export,omitempty"`
	Error   string               `json:"error,omitempty"`
	Code    string               `json:"code,omitempty"`
}

func errorResponse(t RequestType, code string, err error) Response {
	return Response{Type: t, Error: err.Error(), Code: code}
}

// handle runs a control request on the router goroutine.
func (e *Engine) handle(ctx context.Context, req Request) Response {
	q := e.query()
	switch req.Type {
	case GetStats:
		stats, err := q.Stats(ctx, req.Limit)
		if err != nil {
			return errorResponse(req.Type, CodeStorage, err)
		}
		stats.Current = e.currentTab(ctx)
		stats.Status = e.status()
		return Response{Type: req.Type, Stats: stats}

	case GetTodayTime:
		ms, err := q.Today(ctx)
		if err != nil {
			return errorResponse(req.Type, CodeStorage, err)
		}
		return Response{Type: req.Type, TodayMs: &ms}

	case GetDomainStats:
		domains, err := q.TopDomains(ctx, req.Limit)
		if err != nil {
			return errorResponse(req.Type, CodeStorage, err)
		}
		return Response{Type: req.Type, Domains: domains}

	case GetCurrentTab:
		return Response{Type: req.Type, Current: e.currentTab(ctx), Status: e.status()}

	case PauseTracking:
		if err := e.pause(ctx); err != nil {
			return errorResponse(req.Type, CodeTracking, err)
		}
		return Response{Type: req.Type, Status: e.status()}

	case ResumeTracking:
		if err := e.resume(ctx); err != nil {
			return errorResponse(req.Type, CodeTracking, err)
		}
		return Response{Type: req.Type, Status: e.status()}

	case ExportData:
		dump, err := q.Export(ctx)
		if err != nil {
			return errorResponse(req.Type, CodeStorage, err)
		}
		return Response{Type: req.Type, Export: dump}

	case ClearData:
		if err := e.clear(ctx); err != nil {
			return errorResponse(req.Type, CodeStorage, err)
		}
		return Response{Type: req.Type, Status: e.status()}
	}

	e.log.Warn().Str("type", string(req.Type)).Msg("unsupported control request")
	return errorResponse(req.Type, CodeUnsupported, fmt.Errorf("%w: %s", ErrUnsupported, req.Type))
}

func (e *Engine) currentTab(ctx context.Context) *CurrentTab {
	tab, ok := e.tracker.Current()
	if !ok {
		return nil
	}
	cur := &CurrentTab{
		TabID:    tab.TabID,
		URL:      tab.URL,
		Domain:   tab.Domain,
		Title:    tab.Title,
		PageID:   tab.PageID,
		Accruing: tab.Accruing,
	}
	if tab.PageID != 0 {
		page, err := e.store.GetPage(ctx, tab.PageID)
		if err != nil {
			e.log.Debug().Err(err).Int64("page", tab.PageID).Msg("current page lookup failed")
			return cur
		}
		cur.TotalMs = page.ProjectedMs(e.clock.Now())
	}
	return cur
}

func (e *Engine) status() *Status {
	return &Status{
		State:     e.state,
		Reason:    e.reason,
		SessionID: e.sessions.Active(),
		Tabs:      e.tracker.Tabs(),
		Idle:      e.idle.IsIdle(),
	}
}

// pause commits all accrual. Tab state is kept so unchanged pages are not
// counted as new visits on resume.
func (e *Engine) pause(ctx context.Context) error {
	if e.state == StatePaused {
		return nil
	}
	if err := e.tracker.StopAll(ctx, "pause"); err != nil {
		e.fatal(err)
		return err
	}
	if err := e.tracker.SetEnabled(ctx, false); err != nil {
		return err
	}
	e.state, e.reason = StatePaused, ""
	e.log.Info().Msg("tracking paused")
	e.badge.AccrualChanged(ctx)
	return nil
}

// resume re-enables tracking and re-enumerates tabs. After a commit
// failure it first closes the markers that could not be committed, crediting
// time only up to the failure.
func (e *Engine) resume(ctx context.Context) error {
	if e.state == StateTracking {
		return nil
	}
	if e.state == StateDisabled {
		if err := e.tracker.CloseStale(ctx, e.disabledAt, e.sessions.Active()); err != nil {
			e.log.Error().Err(err).Msg("store still failing, staying disabled")
			return err
		}
	}
	e.state, e.reason = StateTracking, ""
	if err := e.tracker.SetEnabled(ctx, true); err != nil {
		e.fatal(err)
		return err
	}
	if err := e.recover(ctx); err != nil {
		return err
	}
	e.log.Info().Msg("tracking resumed")
	return nil
}

// clear wipes every table, drops in-memory page bindings without
// committing, and starts a new session.
func (e *Engine) clear(ctx context.Context) error {
	if err := e.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear data: %w", err)
	}
	e.tracker.Detach()
	e.sessions.Reset()
	if _, err := e.sessions.Start(ctx); err != nil {
		return fmt.Errorf("start session after clear: %w", err)
	}
	e.log.Warn().Msg("all tracking data cleared")
	e.badge.AccrualChanged(ctx)
	return nil
}
