package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a page or session does not exist.
var ErrNotFound = errors.New("not found")

// EventType enumerates the kinds of rows in the event log.
type EventType string

const (
	EventPageView         EventType = "page_view"
	EventFocusGain        EventType = "focus_gain"
	EventFocusLost        EventType = "focus_lost"
	EventVisibilityChange EventType = "visibility_change"
	EventTabClose         EventType = "tab_close"
	EventIdleStart        EventType = "idle_start"
	EventIdleEnd          EventType = "idle_end"
	EventSessionStart     EventType = "session_start"
	EventSessionEnd       EventType = "session_end"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventPageView, EventFocusGain, EventFocusLost, EventVisibilityChange,
		EventTabClose, EventIdleStart, EventIdleEnd, EventSessionStart, EventSessionEnd:
		return true
	}
	return false
}

// Page is the durable aggregate for one normalized URL.
// OpenAccrualStart is nil unless time is currently being counted.
type Page struct {
	ID                int64      `json:"id"`
	URL               string     `json:"url"`
	Domain            string     `json:"domain"`
	Title             string     `json:"title"`
	FirstVisit        time.Time  `json:"firstVisit"`
	LastVisit         time.Time  `json:"lastVisit"`
	TotalActiveTimeMs int64      `json:"totalActiveTimeMs"`
	OpenAccrualStart  *time.Time `json:"openAccrualStart,omitempty"`
	VisitCount        int64      `json:"visitCount"`
}

// Accruing reports whether the page has an open accrual.
func (p *Page) Accruing() bool {
	return p.OpenAccrualStart != nil
}

// ProjectedMs is the committed total plus any open accrual projected to now.
func (p *Page) ProjectedMs(now time.Time) int64 {
	total := p.TotalActiveTimeMs
	if p.OpenAccrualStart != nil {
		if d := now.Sub(*p.OpenAccrualStart).Milliseconds(); d > 0 {
			total += d
		}
	}
	return total
}

// Event is an immutable row of the activity log. PageID is zero for
// events that are not tied to a page (session and idle events).
type Event struct {
	ID        int64          `json:"id"`
	PageID    int64          `json:"pageId,omitempty"`
	SessionID string         `json:"sessionId"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Session is one continuous process run.
type Session struct {
	ID        int64      `json:"id"`
	SessionID string     `json:"sessionId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	LastSeen  time.Time  `json:"lastSeen"`
	IsActive  bool       `json:"isActive"`
}

// Span is one committed accrual interval.
type Span struct {
	ID        int64     `json:"id"`
	PageID    int64     `json:"pageId"`
	SessionID string    `json:"sessionId"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	ElapsedMs int64     `json:"elapsedMs"`
}

// DomainStat aggregates pages sharing a domain.
type DomainStat struct {
	Domain        string    `json:"domain"`
	TotalActiveMs int64     `json:"totalActiveMs"`
	VisitCount    int64     `json:"visitCount"`
	PageCount     int64     `json:"pageCount"`
	LastVisit     time.Time `json:"lastVisit"`
}

// EventQuery defines filters for listing events.
type EventQuery struct {
	PageID    int64
	SessionID string
	Type      EventType
	Since     time.Time
	Until     time.Time
	Limit     int
}

// TodayMode selects how "today" is attributed.
type TodayMode string

const (
	// TodayBounded counts only the part of each span inside today.
	TodayBounded TodayMode = "bounded"
	// TodayLastVisit counts a page's whole total when it was last visited today.
	TodayLastVisit TodayMode = "last_visit"
)

// Export is a full dump of the store.
type Export struct {
	ExportedAt    int64     `json:"exportedAt"`
	SchemaVersion int       `json:"schemaVersion"`
	Pages         []Page    `json:"pages"`
	Events        []Event   `json:"events"`
	Sessions      []Session `json:"sessions"`
	Spans         []Span    `json:"spans"`
}
