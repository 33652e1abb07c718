package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/engine"
)

const shutdownTimeout = 5 * time.Second

// Options configure Run.
type Options struct {
	Engine *engine.Engine
	Stream *Broadcaster
	Addr   string
	// MaxRequestSize caps request bodies; zero uses DefaultMaxRequestSize.
	MaxRequestSize int64
	// ConfigPath enables live config reload when set.
	ConfigPath string
	Logger     zerolog.Logger
}

// Run serves the engine over HTTP until ctx is cancelled or a component
// fails, then shuts the engine down. The engine must already be started.
func Run(ctx context.Context, opts Options) error {
	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", opts.Addr, err)
	}
	return Serve(ctx, ln, opts)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, opts Options) error {
	log := opts.Logger
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           NewServer(opts.Engine, opts.Stream, opts.MaxRequestSize, log),
		ReadHeaderTimeout: 10 * time.Second,
		// Stream handlers only return when their request context ends.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		return opts.Engine.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("daemon listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if opts.ConfigPath != "" {
		w, err := config.NewWatcher(opts.ConfigPath, func(cfg *config.Config) {
			if err := opts.Engine.Submit(gctx, engine.ReloadConfig{Config: cfg}); err != nil {
				log.Warn().Err(err).Msg("config reload not applied")
			}
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("config reload disabled")
		} else if err := w.Start(gctx); err != nil {
			log.Warn().Err(err).Msg("config reload disabled")
		} else {
			g.Go(func() error {
				<-gctx.Done()
				return w.Stop()
			})
		}
	}

	err := g.Wait()
	if serr := opts.Engine.Shutdown(context.Background()); serr != nil {
		err = errors.Join(err, fmt.Errorf("shutdown engine: %w", serr))
	}
	return err
}
