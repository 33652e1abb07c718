package engine

import (
	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/idle"
	"github.com/runnerr0/dwell/internal/tracker"
)

// Signal is one inbound event for the router. The set of variants is
// closed: only types in this package implement it.
type Signal interface {
	signal()
}

// TabActivated reports that a tab became the selected tab of its window.
type TabActivated struct {
	TabID    int `json:"tabId"`
	WindowID int `json:"windowId"`
}

// TabUpdated reports a tab load or title change. Referrer is optional
// enrichment for page views.
type TabUpdated struct {
	tracker.TabUpdate
	Referrer string `json:"referrer,omitempty"`
}

// TabRemoved reports a closed tab.
type TabRemoved struct {
	TabID int `json:"tabId"`
}

// WindowFocusChanged reports the focused window, or tracker.NoWindow.
type WindowFocusChanged struct {
	WindowID int `json:"windowId"`
}

// VisibilityChanged reports a tab's content becoming visible or hidden.
type VisibilityChanged struct {
	TabID   int  `json:"tabId"`
	Visible bool `json:"visible"`
}

// IdleStateChanged is a host-pushed idle state.
type IdleStateChanged struct {
	State idle.State `json:"state"`
}

// UserActivity reports input on a tab.
type UserActivity struct {
	TabID int `json:"tabId"`
}

// TabSnapshot replaces the known tab layout and reseeds tracking from it.
type TabSnapshot struct {
	Snapshot tracker.Snapshot
}

// ReloadConfig applies a changed configuration file.
type ReloadConfig struct {
	Config *config.Config
}

type controlSignal struct {
	req   Request
	reply chan<- Response
}

func (TabActivated) signal()       {}
func (TabUpdated) signal()         {}
func (TabRemoved) signal()         {}
func (WindowFocusChanged) signal() {}
func (VisibilityChanged) signal()  {}
func (IdleStateChanged) signal()   {}
func (UserActivity) signal()       {}
func (TabSnapshot) signal()        {}
func (ReloadConfig) signal()       {}
func (controlSignal) signal()      {}
