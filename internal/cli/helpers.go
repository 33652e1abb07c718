package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/runnerr0/dwell/internal/clock"
	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/daemon"
	"github.com/runnerr0/dwell/internal/engine"
	"github.com/runnerr0/dwell/internal/storage"
)

// loadConfig loads the file named by --config, or the default location,
// writing defaults when it does not exist yet. It returns the resolved path.
func loadConfig(g *GlobalFlags) (*config.Config, string, error) {
	var name string
	if g != nil {
		name = g.Config
	}
	path, err := config.ResolvePath(name)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadOrCreateAt(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// openStore opens and migrates the configured database.
func openStore(ctx context.Context, cfg *config.Config) (*storage.SQLiteStore, string, error) {
	dbPath, err := cfg.Storage.DBPath()
	if err != nil {
		return nil, "", fmt.Errorf("resolve db path: %w", err)
	}
	store, err := storage.Open(ctx, dbPath, storage.WithJournalMode(cfg.Storage.SQLiteJournalMode))
	if err != nil {
		return nil, "", err
	}
	store.SetExclusions(cfg.Tracking.Exclusions())
	return store, dbPath, nil
}

// withStore loads config, opens the store and runs fn against it.
func withStore(g *GlobalFlags, fn func(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) error) error {
	cfg, _, err := loadConfig(g)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, _, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, cfg, store)
}

func newQuery(cfg *config.Config, store engine.QueryStore) engine.Query {
	return engine.Query{
		Store:     store,
		Clock:     clock.Real{},
		TodayMode: storage.TodayMode(cfg.Tracking.TodayMode),
	}
}

func clientFor(c controller, cfg *config.Config) controller {
	if c != nil {
		return c
	}
	return daemon.NewClient(cfg.Daemon.Addr())
}

// daemonUp reports whether the daemon answers within a second.
func daemonUp(ctx context.Context, c controller) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return c.Ping(ctx) == nil
}

// control sends req and turns an error response into an error.
func control(ctx context.Context, c controller, req engine.Request) (engine.Response, error) {
	resp, err := c.Control(ctx, req)
	if err != nil {
		return resp, err
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%s: %s", strings.ToLower(string(req.Type)), resp.Error)
	}
	return resp, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatMillis renders engaged time like "2h 05m", "12m 30s" or "45s".
func formatMillis(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int64(d / time.Hour)
	m := int64(d%time.Hour) / int64(time.Minute)
	s := int64(d%time.Minute) / int64(time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
