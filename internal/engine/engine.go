// Package engine owns every accounting component and serializes all work
// through one router goroutine: inbound signals, periodic ticks and control
// requests are handled one at a time, to completion.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/runnerr0/dwell/internal/badge"
	"github.com/runnerr0/dwell/internal/clock"
	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/idle"
	"github.com/runnerr0/dwell/internal/logging"
	"github.com/runnerr0/dwell/internal/session"
	"github.com/runnerr0/dwell/internal/storage"
	"github.com/runnerr0/dwell/internal/tracker"
)

// ErrStopped is returned when a signal is submitted after Run has exited.
var ErrStopped = errors.New("engine stopped")

// Deps are the collaborators the engine is built from. Browser and Sampler
// are optional: by default tabs come from pushed snapshots and idleness is
// inferred from forwarded user activity.
type Deps struct {
	Config  *config.Config
	Store   *storage.SQLiteStore
	Clock   clock.Clock
	Browser tracker.Browser
	Sampler idle.Sampler
	Badge   badge.Sink
	Logger  zerolog.Logger
}

type envelope struct {
	sig    Signal
	result chan error
}

// Engine is the process-wide context object.
type Engine struct {
	cfg   *config.Config
	store *storage.SQLiteStore
	clock clock.Clock
	log   zerolog.Logger

	sessions  *session.Manager
	idle      *idle.Monitor
	activity  *idle.ActivitySampler
	snapshots *SnapshotBrowser
	referrers *referrers
	tracker   *tracker.Tracker
	badge     *badge.Projector

	inbox chan envelope
	done  chan struct{}

	reconcileTicker *time.Ticker
	idleTicker      *time.Ticker
	badgeTicker     *time.Ticker

	state      string
	reason     string
	disabledAt time.Time
}

// New wires the components together. Nothing touches the store until Start.
func New(d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Config == nil {
		d.Config = config.DefaultConfig()
	}
	cfg := d.Config

	e := &Engine{
		cfg:       cfg,
		store:     d.Store,
		clock:     d.Clock,
		log:       logging.Component(d.Logger, "engine"),
		referrers: &referrers{},
		inbox:     make(chan envelope),
		done:      make(chan struct{}),
		state:     StateTracking,
	}

	e.sessions = session.New(d.Store, d.Clock, logging.Component(d.Logger, "session"))

	sampler := d.Sampler
	if sampler == nil {
		e.activity = idle.NewActivitySampler(d.Clock)
		sampler = e.activity
	}
	e.idle = idle.NewMonitor(sampler, cfg.Tracking.IdleThreshold(), logging.Component(d.Logger, "idle"))

	browser := d.Browser
	if browser == nil {
		e.snapshots = &SnapshotBrowser{}
		browser = e.snapshots
	}

	e.tracker = tracker.New(tracker.Config{
		Registry:      d.Store,
		Sessions:      e.sessions,
		Browser:       browser,
		Clock:         d.Clock,
		Enricher:      e.referrers,
		Logger:        logging.Component(d.Logger, "tracker"),
		CommitRetries: uint(max(cfg.Tracking.CommitRetries, 1)),
	})

	sink := d.Badge
	if sink == nil {
		sink = discardSink{}
	}
	e.badge = badge.New(e.tracker, d.Store, sink, d.Clock, cfg.Badge.MinDisplay(), logging.Component(d.Logger, "badge"))
	e.tracker.SetNotifier(e.badge)

	e.idle.Subscribe(e.tracker.IdleChanged)
	return e
}

// Start prepares persistent state: sessions left active by a crash are
// closed, stale accrual markers are committed up to the prior run's last
// heartbeat, a new session starts and open tabs are enumerated.
func (e *Engine) Start(ctx context.Context) error {
	e.store.SetExclusions(e.cfg.Tracking.Exclusions())

	rec, err := e.sessions.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}
	if rec.Closed > 0 {
		e.log.Warn().Int("sessions", rec.Closed).Msg("previous run ended abnormally")
	}
	if err := e.tracker.CloseStale(ctx, rec.Cutoff, rec.PriorSessionID); err != nil {
		return err
	}

	e.prune(ctx)
	if err := e.recover(ctx); err != nil {
		return err
	}
	e.badge.AccrualChanged(ctx)
	return nil
}

// recover reseeds the tracker from the browser. A missing or failing tab
// source is not fatal: tracking starts once tabs are reported.
func (e *Engine) recover(ctx context.Context) error {
	err := e.tracker.Recover(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tracker.ErrCommit):
		e.fatal(err)
		return err
	default:
		e.log.Warn().Err(err).Msg("tab recovery skipped")
		return nil
	}
}

// Run is the router loop. It returns when ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.reconcileTicker = time.NewTicker(e.cfg.Tracking.ReconcileInterval())
	e.idleTicker = time.NewTicker(e.cfg.Tracking.IdlePollInterval())
	e.badgeTicker = time.NewTicker(e.cfg.Badge.RefreshInterval())
	prune := time.NewTicker(retentionInterval(e.cfg.Retention))
	defer func() {
		e.reconcileTicker.Stop()
		e.idleTicker.Stop()
		e.badgeTicker.Stop()
		prune.Stop()
		close(e.done)
	}()

	e.log.Info().
		Dur("reconcile", e.cfg.Tracking.ReconcileInterval()).
		Dur("idle_poll", e.cfg.Tracking.IdlePollInterval()).
		Msg("engine running")

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-e.inbox:
			env.result <- e.Dispatch(ctx, env.sig)
		case <-e.reconcileTicker.C:
			e.reconcile(ctx)
		case <-e.idleTicker.C:
			e.escalate(e.idle.Poll(ctx))
		case <-e.badgeTicker.C:
			e.badge.AccrualChanged(ctx)
		case <-prune.C:
			e.prune(ctx)
		}
	}
}

// Submit hands a signal to the router and waits for it to be handled.
func (e *Engine) Submit(ctx context.Context, sig Signal) error {
	env := envelope{sig: sig, result: make(chan error, 1)}
	select {
	case e.inbox <- env:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-env.result:
		return err
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle answers one control request through the router.
func (e *Engine) Handle(ctx context.Context, req Request) Response {
	reply := make(chan Response, 1)
	if err := e.Submit(ctx, controlSignal{req: req, reply: reply}); err != nil {
		code := CodeStopped
		if !errors.Is(err, ErrStopped) {
			code = CodeTracking
		}
		return errorResponse(req.Type, code, err)
	}
	return <-reply
}

// Dispatch routes one signal to its handler. It must only be called from
// the router goroutine, or before Run starts.
func (e *Engine) Dispatch(ctx context.Context, sig Signal) error {
	var err error
	switch s := sig.(type) {
	case TabActivated:
		err = errors.Join(e.sawInput(ctx), e.tracker.TabActivated(ctx, s.TabID, s.WindowID))
	case TabUpdated:
		e.referrers.set(s.TabID, s.Referrer)
		err = errors.Join(e.sawInput(ctx), e.tracker.TabUpdated(ctx, s.TabUpdate))
	case TabRemoved:
		err = e.tracker.TabRemoved(ctx, s.TabID)
		e.referrers.forget(s.TabID)
	case WindowFocusChanged:
		if s.WindowID > 0 {
			err = e.sawInput(ctx)
		}
		err = errors.Join(err, e.tracker.WindowFocusChanged(ctx, s.WindowID))
	case VisibilityChanged:
		if s.Visible {
			err = e.sawInput(ctx)
		}
		err = errors.Join(err, e.tracker.VisibilityChanged(ctx, s.TabID, s.Visible))
	case IdleStateChanged:
		err = e.idleStateChanged(ctx, s.State)
	case UserActivity:
		err = e.userActivity(ctx, s.TabID)
	case TabSnapshot:
		err = e.tabSnapshot(ctx, s.Snapshot)
	case ReloadConfig:
		e.reload(s.Config)
	case controlSignal:
		s.reply <- e.handle(ctx, s.req)
	default:
		err = fmt.Errorf("%w: signal %T", ErrUnsupported, sig)
	}
	return e.escalate(err)
}

// escalate sends accounting failures to the fatal handler.
func (e *Engine) escalate(err error) error {
	if err != nil && errors.Is(err, tracker.ErrCommit) {
		e.fatal(err)
	} else if err != nil {
		e.log.Error().Err(err).Msg("signal failed")
	}
	return err
}

// fatal disables tracking after a commit failure rather than continuing
// with totals that may be wrong.
func (e *Engine) fatal(err error) {
	if e.state == StateDisabled {
		return
	}
	e.log.Error().Err(err).Msg("accrual commit failed, tracking disabled")
	e.state = StateDisabled
	e.reason = err.Error()
	e.disabledAt = e.clock.Now()
	if derr := e.tracker.SetEnabled(context.Background(), false); derr != nil {
		e.log.Debug().Err(derr).Msg("stop after commit failure also failed")
	}
}

func (e *Engine) idleStateChanged(ctx context.Context, st idle.State) error {
	if e.activity != nil {
		e.activity.Report(st)
	}
	return e.idle.Report(ctx, st)
}

func (e *Engine) userActivity(ctx context.Context, tabID int) error {
	e.tracker.Touch(tabID)
	return e.sawInput(ctx)
}

// sawInput feeds a user-driven signal to the default activity sampler.
// Tab switches, navigation and focus changes count as input.
func (e *Engine) sawInput(ctx context.Context) error {
	if e.activity == nil {
		return nil
	}
	e.activity.Touch()
	if e.idle.IsIdle() {
		return e.idle.Poll(ctx)
	}
	return nil
}

func (e *Engine) tabSnapshot(ctx context.Context, snap tracker.Snapshot) error {
	if e.snapshots == nil {
		return nil
	}
	e.snapshots.Set(snap)
	if e.state == StatePaused {
		return nil
	}
	return e.tracker.Recover(ctx)
}

// reconcile is the periodic tick: checkpoint the open accrual and record
// the session heartbeat.
func (e *Engine) reconcile(ctx context.Context) {
	if err := e.tracker.Reconcile(ctx); err != nil {
		e.escalate(err)
	}
	// A heartbeat is the cutoff for markers closed at next startup, so it
	// must not move past a commit failure.
	if e.state == StateDisabled {
		return
	}
	if err := e.sessions.Heartbeat(ctx); err != nil {
		e.log.Error().Err(err).Msg("session heartbeat failed")
	}
}

// reload applies settings that can change while running.
func (e *Engine) reload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	e.cfg = cfg
	e.store.SetExclusions(cfg.Tracking.Exclusions())
	e.idle.SetThreshold(cfg.Tracking.IdleThreshold())
	e.badge.SetMinDisplay(cfg.Badge.MinDisplay())
	if e.reconcileTicker != nil {
		e.reconcileTicker.Reset(cfg.Tracking.ReconcileInterval())
		e.idleTicker.Reset(cfg.Tracking.IdlePollInterval())
		e.badgeTicker.Reset(cfg.Badge.RefreshInterval())
	}
	e.log.Info().Msg("configuration reloaded")
}

func (e *Engine) prune(ctx context.Context) {
	if e.cfg.Retention.Days <= 0 {
		return
	}
	cutoff := e.clock.Now().AddDate(0, 0, -e.cfg.Retention.Days)
	n, err := e.store.PruneEvents(ctx, cutoff)
	if err != nil {
		e.log.Error().Err(err).Msg("prune events failed")
		return
	}
	if n > 0 {
		e.log.Info().Int64("events", n).Int("days", e.cfg.Retention.Days).Msg("pruned old events")
	}
}

func retentionInterval(r config.RetentionConfig) time.Duration {
	if r.PruneIntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(r.PruneIntervalHours) * time.Hour
}

// Shutdown commits every open accrual and ends the session. It must run
// after Run has returned. Commit failures are returned, not swallowed.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error
	if err := e.tracker.StopAll(ctx, "shutdown"); err != nil {
		errs = append(errs, fmt.Errorf("stop accrual: %w", err))
	}
	if err := e.sessions.End(ctx); err != nil {
		errs = append(errs, fmt.Errorf("end session: %w", err))
	}
	e.idle.Close()
	e.log.Info().Msg("engine stopped")
	return errors.Join(errs...)
}

// Status reports the tracking state. Router goroutine only.
func (e *Engine) Status() Status { return *e.status() }

// query returns read helpers bound to the engine's store.
func (e *Engine) query() Query {
	return Query{Store: e.store, Clock: e.clock, TodayMode: storage.TodayMode(e.cfg.Tracking.TodayMode)}
}

type discardSink struct{}

func (discardSink) Publish(context.Context, badge.Update) error { return nil }
