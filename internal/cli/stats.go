package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/storage"
)

// Execute implements the go-flags Commander interface for StatsCommand.
func (c *StatsCommand) Execute(args []string) error {
	return withStore(c.globals, c.executeWithStore)
}

func (c *StatsCommand) executeWithStore(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) error {
	stats, err := newQuery(cfg, store).Stats(ctx, c.Limit)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(stats)
	}

	fmt.Printf("Today:  %s (%s)\n", formatMillis(stats.TodayMs), stats.TodayMode)
	if len(stats.TopDomains) == 0 {
		fmt.Println("No pages tracked yet.")
		return nil
	}
	fmt.Println()
	printDomains(stats.TopDomains)
	return nil
}

// Execute implements the go-flags Commander interface for TodayCommand.
func (c *TodayCommand) Execute(args []string) error {
	return withStore(c.globals, c.executeWithStore)
}

func (c *TodayCommand) executeWithStore(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) error {
	q := newQuery(cfg, store)
	ms, err := q.Today(ctx)
	if err != nil {
		return fmt.Errorf("get today: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"todayMs": ms, "todayMode": q.TodayMode})
	}
	fmt.Println(formatMillis(ms))
	return nil
}

// Execute implements the go-flags Commander interface for DomainsCommand.
func (c *DomainsCommand) Execute(args []string) error {
	return withStore(c.globals, c.executeWithStore)
}

func (c *DomainsCommand) executeWithStore(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) error {
	domains, err := newQuery(cfg, store).TopDomains(ctx, c.Limit)
	if err != nil {
		return fmt.Errorf("get domains: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		if domains == nil {
			domains = []storage.DomainStat{}
		}
		return printJSON(domains)
	}
	if len(domains) == 0 {
		fmt.Println("No pages tracked yet.")
		return nil
	}
	printDomains(domains)
	return nil
}

func printDomains(domains []storage.DomainStat) {
	fmt.Printf("%-32s %10s %8s %6s\n", "DOMAIN", "TIME", "VISITS", "PAGES")
	for _, d := range domains {
		fmt.Printf("%-32s %10s %8s %6d\n", truncate(d.Domain, 32), formatMillis(d.TotalActiveMs), formatNumber(d.VisitCount), d.PageCount)
	}
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
