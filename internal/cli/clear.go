package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/engine"
	"github.com/runnerr0/dwell/internal/storage"
)

// Execute implements the go-flags Commander interface for ClearCommand.
func (c *ClearCommand) Execute(args []string) error {
	if err := c.confirm(); err != nil {
		return err
	}
	cfg, _, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	return c.execute(context.Background(), cfg, func(ctx context.Context) (*storage.SQLiteStore, error) {
		store, _, err := openStore(ctx, cfg)
		return store, err
	})
}

func (c *ClearCommand) confirm() error {
	if c.Force {
		return nil
	}
	fmt.Println("⚠ WARNING: This will permanently delete ALL tracking data.")
	fmt.Println("  - All page totals")
	fmt.Println("  - All events and sessions")
	fmt.Println()
	fmt.Println("This action cannot be undone.")
	fmt.Println()
	fmt.Print(`Type "CLEAR" to confirm: `)

	in := c.stdin
	if in == nil {
		in = os.Stdin
	}
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return fmt.Errorf("aborted: no input received")
	}
	if strings.TrimSpace(scanner.Text()) != "CLEAR" {
		return fmt.Errorf("aborted: confirmation text did not match")
	}
	return nil
}

// execute clears through the daemon when one is running, so its in-memory
// state is reset too, and falls back to the store otherwise.
func (c *ClearCommand) execute(ctx context.Context, cfg *config.Config, open func(context.Context) (*storage.SQLiteStore, error)) error {
	via := "daemon"
	client := clientFor(c.client, cfg)
	if daemonUp(ctx, client) {
		if _, err := control(ctx, client, engine.Request{Type: engine.ClearData}); err != nil {
			return err
		}
	} else {
		via = "store"
		store, err := open(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.ClearAll(ctx); err != nil {
			return fmt.Errorf("clear failed: %w", err)
		}
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"cleared": true, "via": via})
	}
	fmt.Println("Cleared all data. dwell is empty.")
	return nil
}
