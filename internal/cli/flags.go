package cli

import (
	"context"
	"io"

	"github.com/runnerr0/dwell/internal/engine"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// controller is the daemon's control endpoint. *daemon.Client implements it.
type controller interface {
	Ping(ctx context.Context) error
	Control(ctx context.Context, req engine.Request) (engine.Response, error)
}

// ServeCommand runs the daemon in the foreground.
type ServeCommand struct {
	Host     string `long:"host" description:"Override listen host"`
	Port     int    `long:"port" description:"Override listen port"`
	LogLevel string `long:"log-level" description:"Override log level"`

	globals *GlobalFlags
	version string
}

// StatsCommand shows today's total and the busiest domains.
type StatsCommand struct {
	Limit int `long:"limit" description:"Maximum domains" default:"10"`

	globals *GlobalFlags
	version string
}

// TodayCommand prints today's engaged time.
type TodayCommand struct {
	globals *GlobalFlags
	version string
}

// DomainsCommand lists domains by engaged time.
type DomainsCommand struct {
	Limit int `long:"limit" description:"Maximum domains" default:"10"`

	globals *GlobalFlags
	version string
}

// PagesCommand lists tracked pages by engaged time.
type PagesCommand struct {
	Domain string `long:"domain" description:"Only pages on this domain"`
	Limit  int    `long:"limit" description:"Maximum pages" default:"20"`

	globals *GlobalFlags
	version string
}

// PageCommand prints one page and its recent events.
type PageCommand struct {
	ID     int64 `long:"id" description:"Page ID (required)"`
	Events int   `long:"events" description:"Number of recent events to show" default:"20"`

	globals *GlobalFlags
	version string
}

// ExportCommand dumps every table as JSON.
type ExportCommand struct {
	Out string `long:"out" description:"Write to file instead of stdout"`

	globals *GlobalFlags
	version string
}

// ClearCommand deletes all tracking data.
type ClearCommand struct {
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	stdin   io.Reader  // nil means os.Stdin
	client  controller // nil means the configured daemon address
}

// PauseCommand stops accrual in the running daemon.
type PauseCommand struct {
	globals *GlobalFlags
	version string
	client  controller
}

// ResumeCommand restarts accrual in the running daemon.
type ResumeCommand struct {
	globals *GlobalFlags
	version string
	client  controller
}

// PruneCommand removes old events from the log.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override retention period (e.g., 30d)"`

	globals *GlobalFlags
	version string
}

// StatusCommand shows database and daemon health.
type StatusCommand struct {
	globals *GlobalFlags
	version string
	client  controller
}
