package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/storage"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	return withStore(c.globals, c.executeWithStore)
}

func (c *PruneCommand) executeWithStore(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) error {
	retention := time.Duration(cfg.Retention.Days) * 24 * time.Hour
	if c.OlderThan != "" {
		d, err := parseDuration(c.OlderThan)
		if err != nil {
			return err
		}
		retention = d
	}
	if retention <= 0 {
		return fmt.Errorf("retention is disabled; pass --older-than")
	}

	cutoff := time.Now().Add(-retention)
	n, err := store.PruneEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"deleted": n, "cutoff": cutoff.UTC().Format(time.RFC3339)})
	}
	fmt.Printf("Deleted %s events older than %s.\n", formatNumber(n), cutoff.Local().Format(time.DateOnly))
	return nil
}
