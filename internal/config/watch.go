package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the config file whenever it is written and hands the new
// value to onChange. Invalid files are logged and skipped; the previous
// config stays in effect.
type Watcher struct {
	path     string
	dir      string
	onChange func(*Config)
	fsw      *fsnotify.Watcher
	log      zerolog.Logger
	debounce time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewWatcher creates a Watcher for the config file at path. fsnotify cannot
// follow editors that replace files atomically, so the parent directory is
// watched instead.
func NewWatcher(path string, onChange func(*Config), log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		dir:      filepath.Dir(path),
		onChange: onChange,
		fsw:      fsw,
		log:      log,
		debounce: 200 * time.Millisecond,
	}, nil
}

// Start begins watching until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true
	go w.loop(ctx)
	return nil
}

// Stop ends the watch loop and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("Ignoring config change")
		return
	}
	w.log.Info().Str("path", w.path).Msg("Config reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
