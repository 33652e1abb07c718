// Package badge derives the short display string for the focused tab.
// It only reads accounting state; nothing it does can change it.
package badge

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/runnerr0/dwell/internal/clock"
	"github.com/runnerr0/dwell/internal/storage"
	"github.com/runnerr0/dwell/internal/tracker"
)

// Source reports the focused tab.
type Source interface {
	Current() (tracker.TabState, bool)
}

// PageReader loads page aggregates.
type PageReader interface {
	GetPage(ctx context.Context, id int64) (*storage.Page, error)
}

// Update is one published badge state.
type Update struct {
	Text     string    `json:"text"`
	TabID    int       `json:"tabId,omitempty"`
	PageID   int64     `json:"pageId,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	TotalMs  int64     `json:"totalMs"`
	Accruing bool      `json:"accruing"`
	At       time.Time `json:"at"`
}

// Sink receives badge updates.
type Sink interface {
	Publish(ctx context.Context, u Update) error
}

// Projector publishes the badge text when it changes.
type Projector struct {
	source Source
	pages  PageReader
	sink   Sink
	clock  clock.Clock
	log    zerolog.Logger

	mu         sync.Mutex
	minDisplay time.Duration
	last       string
	published  bool
}

// New creates a Projector. Text is suppressed until the page has at least
// minDisplay of engaged time and, while it accrues, until the current
// accrual is minDisplay old. Rapid tab switching then leaves the badge blank.
func New(source Source, pages PageReader, sink Sink, clk clock.Clock, minDisplay time.Duration, log zerolog.Logger) *Projector {
	return &Projector{
		source:     source,
		pages:      pages,
		sink:       sink,
		clock:      clk,
		minDisplay: minDisplay,
		log:        log,
	}
}

// SetMinDisplay changes the suppression threshold.
func (p *Projector) SetMinDisplay(d time.Duration) {
	p.mu.Lock()
	p.minDisplay = d
	p.mu.Unlock()
}

// Last returns the most recently published text.
func (p *Projector) Last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// AccrualChanged refreshes after an accrual start, stop or tab change.
// Errors are logged and dropped.
func (p *Projector) AccrualChanged(ctx context.Context) {
	if err := p.Refresh(ctx); err != nil {
		p.log.Warn().Err(err).Msg("badge refresh failed")
	}
}

// Refresh recomputes the badge and publishes it if the text changed.
// A panic anywhere in the projection is returned as an error.
func (p *Projector) Refresh(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("badge panic: %v", r)
		}
	}()

	u, err := p.project(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.published && u.Text == p.last {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if p.sink != nil {
		if err := p.sink.Publish(ctx, u); err != nil {
			return fmt.Errorf("publish badge: %w", err)
		}
	}

	p.mu.Lock()
	p.last = u.Text
	p.published = true
	p.mu.Unlock()
	return nil
}

func (p *Projector) project(ctx context.Context) (Update, error) {
	now := p.clock.Now()
	u := Update{At: now}

	tab, ok := p.source.Current()
	if !ok || tab.PageID == 0 {
		return u, nil
	}
	u.TabID = tab.TabID
	u.PageID = tab.PageID
	u.Domain = tab.Domain
	u.Accruing = tab.Accruing

	page, err := p.pages.GetPage(ctx, tab.PageID)
	if err != nil {
		return u, fmt.Errorf("load page %d: %w", tab.PageID, err)
	}
	u.TotalMs = page.ProjectedMs(now)

	p.mu.Lock()
	threshold := p.minDisplay
	p.mu.Unlock()
	total := time.Duration(u.TotalMs) * time.Millisecond
	if tab.Accruing && now.Sub(tab.AccruingSince) < threshold {
		return u, nil
	}
	if total >= threshold {
		u.Text = Format(total)
	}
	return u, nil
}

// Format renders a duration as a badge: "45s", "12m", "3h", "1.5h".
// Hours are shown with one truncated decimal below ten hours.
func Format(d time.Duration) string {
	switch {
	case d < time.Minute:
		return strconv.Itoa(int(d/time.Second)) + "s"
	case d < time.Hour:
		return strconv.Itoa(int(d/time.Minute)) + "m"
	case d < 10*time.Hour:
		tenths := int64(d / (6 * time.Minute))
		return strconv.FormatFloat(float64(tenths)/10, 'f', -1, 64) + "h"
	default:
		return strconv.Itoa(int(d/time.Hour)) + "h"
	}
}
