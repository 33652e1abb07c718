package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/engine"
	"github.com/runnerr0/dwell/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string         `json:"version"`
	DatabasePath      string         `json:"database_path"`
	DatabaseSizeBytes int64          `json:"database_size_bytes"`
	Pages             int            `json:"pages"`
	Sessions          int            `json:"sessions"`
	TodayMs           int64          `json:"today_ms"`
	RetentionDays     int            `json:"retention_days"`
	DaemonAddr        string         `json:"daemon_addr"`
	DaemonRunning     bool           `json:"daemon_running"`
	Tracking          *engine.Status `json:"tracking,omitempty"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	cfg, _, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, dbPath, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.executeWithStore(ctx, cfg, store, dbPath)
}

// executeWithStore runs status against a provided store (for testing).
func (c *StatusCommand) executeWithStore(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore, dbPath string) error {
	pages, err := store.ListPages(ctx)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	today, err := newQuery(cfg, store).Today(ctx)
	if err != nil {
		return fmt.Errorf("get today: %w", err)
	}

	out := statusJSON{
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: databaseSize(ctx, store, dbPath),
		Pages:             len(pages),
		Sessions:          len(sessions),
		TodayMs:           today,
		RetentionDays:     cfg.Retention.Days,
		DaemonAddr:        cfg.Daemon.Addr(),
	}

	client := clientFor(c.client, cfg)
	if daemonUp(ctx, client) {
		out.DaemonRunning = true
		resp, err := control(ctx, client, engine.Request{Type: engine.GetStats, Limit: 1})
		if err == nil && resp.Stats != nil {
			out.Tracking = resp.Stats.Status
		}
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(out)
	}
	c.printHuman(out)
	return nil
}

func (c *StatusCommand) printHuman(s statusJSON) {
	fmt.Println("dwell Status")
	fmt.Println("============")
	fmt.Printf("Version:       %s\n", s.Version)
	fmt.Printf("Database:      %s (%s)\n", s.DatabasePath, formatBytes(s.DatabaseSizeBytes))
	fmt.Printf("Pages:         %s\n", formatNumber(int64(s.Pages)))
	fmt.Printf("Sessions:      %s\n", formatNumber(int64(s.Sessions)))
	fmt.Printf("Today:         %s\n", formatMillis(s.TodayMs))
	fmt.Printf("Retention:     %d days\n", s.RetentionDays)

	fmt.Println()
	if !s.DaemonRunning {
		fmt.Printf("Daemon:        not running (%s)\n", s.DaemonAddr)
		return
	}
	fmt.Printf("Daemon:        running (%s)\n", s.DaemonAddr)
	if t := s.Tracking; t != nil {
		state := t.State
		if t.Reason != "" {
			state += ": " + t.Reason
		}
		fmt.Printf("Tracking:      %s\n", state)
		fmt.Printf("Session:       %s\n", t.SessionID)
		fmt.Printf("Open tabs:     %d\n", t.Tabs)
		fmt.Printf("Idle:          %t\n", t.Idle)
	}
}

// databaseSize returns the database file size in bytes, falling back to
// page_count * page_size when the file cannot be stat'ed.
func databaseSize(ctx context.Context, store *storage.SQLiteStore, dbPath string) int64 {
	if info, err := os.Stat(dbPath); err == nil {
		return info.Size()
	}

	var pageCount, pageSize int64
	if err := store.DB().QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := store.DB().QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}
