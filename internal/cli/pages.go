package cli

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/storage"
)

// pageJSON is a page with its open accrual projected to now.
type pageJSON struct {
	storage.Page
	ProjectedMs int64 `json:"projectedMs"`
}

// Execute implements the go-flags Commander interface for PagesCommand.
func (c *PagesCommand) Execute(args []string) error {
	return withStore(c.globals, c.executeWithStore)
}

func (c *PagesCommand) executeWithStore(ctx context.Context, _ *config.Config, store *storage.SQLiteStore) error {
	pages, err := store.ListPages(ctx)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}

	now := time.Now()
	out := make([]pageJSON, 0, len(pages))
	for _, p := range pages {
		if c.Domain != "" && p.Domain != c.Domain {
			continue
		}
		out = append(out, pageJSON{Page: p, ProjectedMs: p.ProjectedMs(now)})
	}
	slices.SortStableFunc(out, func(a, b pageJSON) int {
		return cmp.Compare(b.ProjectedMs, a.ProjectedMs)
	})
	if c.Limit > 0 && len(out) > c.Limit {
		out = out[:c.Limit]
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(out)
	}
	if len(out) == 0 {
		fmt.Println("No pages found.")
		return nil
	}
	fmt.Printf("%-6s %10s %6s  %s\n", "ID", "TIME", "VISITS", "URL")
	for _, p := range out {
		marker := ""
		if p.Accruing() {
			marker = " *"
		}
		fmt.Printf("%-6d %10s %6d  %s%s\n", p.ID, formatMillis(p.ProjectedMs), p.VisitCount, truncate(p.URL, 80), marker)
	}
	return nil
}

// Execute implements the go-flags Commander interface for PageCommand.
func (c *PageCommand) Execute(args []string) error {
	if c.ID <= 0 {
		return fmt.Errorf("--id is required for page command")
	}
	return withStore(c.globals, c.executeWithStore)
}

func (c *PageCommand) executeWithStore(ctx context.Context, _ *config.Config, store *storage.SQLiteStore) error {
	page, err := store.GetPage(ctx, c.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("page not found: %d", c.ID)
	}
	if err != nil {
		return fmt.Errorf("get page: %w", err)
	}

	events, err := store.ListEvents(ctx, storage.EventQuery{PageID: c.ID})
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	if c.Events >= 0 && len(events) > c.Events {
		events = events[len(events)-c.Events:]
	}

	now := time.Now()
	if c.globals != nil && c.globals.JSON {
		if events == nil {
			events = []storage.Event{}
		}
		return printJSON(map[string]any{
			"page":   pageJSON{Page: *page, ProjectedMs: page.ProjectedMs(now)},
			"events": events,
		})
	}

	fmt.Printf("URL:          %s\n", page.URL)
	if page.Title != "" {
		fmt.Printf("Title:        %s\n", page.Title)
	}
	fmt.Printf("Domain:       %s\n", page.Domain)
	fmt.Printf("Engaged:      %s\n", formatMillis(page.ProjectedMs(now)))
	fmt.Printf("Visits:       %s\n", formatNumber(page.VisitCount))
	fmt.Printf("First visit:  %s\n", page.FirstVisit.Local().Format(time.DateTime))
	fmt.Printf("Last visit:   %s\n", page.LastVisit.Local().Format(time.DateTime))
	if page.Accruing() {
		fmt.Printf("Accruing:     since %s\n", page.OpenAccrualStart.Local().Format(time.TimeOnly))
	}

	if len(events) > 0 {
		fmt.Println()
		fmt.Println("Events:")
		for _, e := range events {
			fmt.Printf("  %s  %-18s %s\n", e.Timestamp.Local().Format(time.DateTime), e.Type, describePayload(e.Payload))
		}
	}
	return nil
}

// describePayload summarizes the payload fields worth showing inline.
func describePayload(p map[string]any) string {
	var out string
	if v, ok := p["elapsedMs"].(float64); ok {
		out = formatMillis(int64(v))
	}
	if v, ok := p["reason"].(string); ok && v != "" {
		if out != "" {
			out += " "
		}
		out += "(" + v + ")"
	}
	return out
}
