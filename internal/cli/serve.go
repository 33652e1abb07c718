package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/runnerr0/dwell/internal/daemon"
	"github.com/runnerr0/dwell/internal/engine"
	"github.com/runnerr0/dwell/internal/logging"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	cfg, cfgPath, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Daemon.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Daemon.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	verbose := c.globals != nil && c.globals.Verbose
	log, closer, err := logging.Setup(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, dbPath, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	stream := daemon.NewBroadcaster(logging.Component(log, "stream"))
	eng := engine.New(engine.Deps{
		Config: cfg,
		Store:  store,
		Badge:  stream,
		Logger: log,
	})
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	log.Info().Str("version", c.version).Str("db", dbPath).Msg("dwell starting")
	return daemon.Run(ctx, daemon.Options{
		Engine:         eng,
		Stream:         stream,
		Addr:           cfg.Daemon.Addr(),
		MaxRequestSize: cfg.Daemon.MaxRequestSize,
		ConfigPath:     cfgPath,
		Logger:         logging.Component(log, "daemon"),
	})
}
