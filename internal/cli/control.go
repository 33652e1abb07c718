package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/engine"
)

// Execute implements the go-flags Commander interface for PauseCommand.
func (c *PauseCommand) Execute(args []string) error {
	cfg, _, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	return sendControl(context.Background(), c.globals, clientFor(c.client, cfg), cfg, engine.PauseTracking, "Tracking paused.")
}

// Execute implements the go-flags Commander interface for ResumeCommand.
func (c *ResumeCommand) Execute(args []string) error {
	cfg, _, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	return sendControl(context.Background(), c.globals, clientFor(c.client, cfg), cfg, engine.ResumeTracking, "Tracking resumed.")
}

func sendControl(ctx context.Context, g *GlobalFlags, client controller, cfg *config.Config, t engine.RequestType, done string) error {
	if !daemonUp(ctx, client) {
		return fmt.Errorf("daemon not running at %s", cfg.Daemon.Addr())
	}
	if _, err := control(ctx, client, engine.Request{Type: t}); err != nil {
		return err
	}
	if g != nil && g.JSON {
		return printJSON(map[string]any{"ok": true, "type": t})
	}
	fmt.Println(done)
	return nil
}
