// Package session issues and bounds the process-run sessions that tag every
// event written to the store.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/runnerr0/dwell/internal/clock"
	"github.com/runnerr0/dwell/internal/storage"
)

// Store is the subset of the table store the manager needs.
type Store interface {
	CreateSession(ctx context.Context, sessionID string, start time.Time) (*storage.Session, error)
	EndSession(ctx context.Context, sessionID string, end time.Time) (bool, error)
	TouchSession(ctx context.Context, sessionID string, now time.Time) error
	ListSessions(ctx context.Context) ([]storage.Session, error)
	AppendEvent(ctx context.Context, event *storage.Event) error
}

// Recovery describes what Initialize found left over from earlier runs.
type Recovery struct {
	// Closed is the number of sessions that were still flagged active.
	Closed int
	// PriorSessionID is the most recent earlier session, if any.
	PriorSessionID string
	// Cutoff is the last moment the prior run was known to be alive:
	// its last heartbeat, or its end time when it ended cleanly.
	// Zero when there was no prior session.
	Cutoff time.Time
}

// Manager owns the single active session.
type Manager struct {
	store Store
	clock clock.Clock
	log   zerolog.Logger
	newID func() string

	mu      sync.Mutex
	current string
	started time.Time
}

// New creates a Manager. No session exists until Initialize, Start or
// CurrentSessionID is called.
func New(store Store, clk clock.Clock, log zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		clock: clk,
		log:   log,
		newID: uuid.NewString,
	}
}

// Initialize force-closes sessions left active by an abnormal exit, then
// starts a fresh session. Each stale session's end time is its last
// heartbeat.
func (m *Manager) Initialize(ctx context.Context) (Recovery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rec Recovery
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return rec, fmt.Errorf("list sessions: %w", err)
	}

	for _, s := range sessions {
		cutoff := s.LastSeen
		if s.IsActive {
			ended, err := m.store.EndSession(ctx, s.SessionID, s.LastSeen)
			if err != nil {
				return rec, fmt.Errorf("close stale session %s: %w", s.SessionID, err)
			}
			if ended {
				rec.Closed++
				if err := m.store.AppendEvent(ctx, &storage.Event{
					SessionID: s.SessionID,
					Timestamp: s.LastSeen,
					Type:      storage.EventSessionEnd,
					Payload:   map[string]any{"reason": "recovered"},
				}); err != nil {
					return rec, fmt.Errorf("record recovered session end: %w", err)
				}
				m.log.Warn().
					Str("session", s.SessionID).
					Time("last_seen", s.LastSeen).
					Msg("closed session left active by previous run")
			}
		} else if s.EndTime != nil && s.EndTime.After(cutoff) {
			cutoff = *s.EndTime
		}
		if cutoff.After(rec.Cutoff) {
			rec.Cutoff = cutoff
			rec.PriorSessionID = s.SessionID
		}
	}

	if err := m.startLocked(ctx); err != nil {
		return rec, err
	}
	return rec, nil
}

// CurrentSessionID returns the active session ID, starting a session first
// if none is active.
func (m *Manager) CurrentSessionID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == "" {
		if err := m.startLocked(ctx); err != nil {
			return "", err
		}
	}
	return m.current, nil
}

// Active returns the active session ID without creating one.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Start begins a new session. An active session is ended first, so its end
// time never exceeds the new session's start.
func (m *Manager) Start(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.startLocked(ctx); err != nil {
		return "", err
	}
	return m.current, nil
}

func (m *Manager) startLocked(ctx context.Context) error {
	now := m.clock.Now()
	if m.current != "" {
		if err := m.endLocked(ctx, now); err != nil {
			return err
		}
	}

	id := m.newID()
	if _, err := m.store.CreateSession(ctx, id, now); err != nil {
		return err
	}
	m.current = id
	m.started = now

	if err := m.store.AppendEvent(ctx, &storage.Event{
		SessionID: id,
		Timestamp: now,
		Type:      storage.EventSessionStart,
	}); err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	m.log.Info().Str("session", id).Msg("session started")
	return nil
}

// End closes the active session. It is a no-op when none is active.
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == "" {
		return nil
	}
	return m.endLocked(ctx, m.clock.Now())
}

func (m *Manager) endLocked(ctx context.Context, now time.Time) error {
	id := m.current
	ended, err := m.store.EndSession(ctx, id, now)
	if err != nil {
		return err
	}
	m.current = ""
	if !ended {
		return nil
	}

	if err := m.store.AppendEvent(ctx, &storage.Event{
		SessionID: id,
		Timestamp: now,
		Type:      storage.EventSessionEnd,
		Payload:   map[string]any{"durationMs": now.Sub(m.started).Milliseconds()},
	}); err != nil {
		return fmt.Errorf("record session end: %w", err)
	}
	m.log.Info().Str("session", id).Msg("session ended")
	return nil
}

// Heartbeat records that the active session is still alive.
func (m *Manager) Heartbeat(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == "" {
		return nil
	}
	return m.store.TouchSession(ctx, m.current, m.clock.Now())
}

// Reset forgets the active session without writing anything. Used after the
// store has been wiped and the session row no longer exists.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.current = ""
	m.started = time.Time{}
	m.mu.Unlock()
}
