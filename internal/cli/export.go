package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/storage"
)

// Execute implements the go-flags Commander interface for ExportCommand.
func (c *ExportCommand) Execute(args []string) error {
	return withStore(c.globals, c.executeWithStore)
}

func (c *ExportCommand) executeWithStore(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) error {
	export, err := newQuery(cfg, store).Export(ctx)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	if c.Out == "" {
		return printJSON(export)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	if err := os.WriteFile(c.Out, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"path": c.Out, "pages": len(export.Pages), "events": len(export.Events)})
	}
	fmt.Printf("Exported %d pages, %d events, %d sessions to %s\n", len(export.Pages), len(export.Events), len(export.Sessions), c.Out)
	return nil
}
