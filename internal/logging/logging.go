// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/runnerr0/dwell/internal/config"
)

// Setup installs the global logger described by cfg and returns it. The
// returned closer releases the log file, if one was opened.
func Setup(cfg config.LoggingConfig, verbose bool) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}

	if !cfg.JSON && cfg.File == "" {
		out = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
			TimeFormat: time.Kitchen,
		}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger, closer, nil
}

// ParseLevel maps a config level name to a zerolog level.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// Component returns a child logger tagged with the component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
