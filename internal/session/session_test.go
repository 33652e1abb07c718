package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/runnerr0/dwell/internal/clock"
	"github.com/runnerr0/dwell/internal/storage"
)

type ManagerSuite struct {
	suite.Suite
	ctx   context.Context
	store *storage.SQLiteStore
	clock *clock.Manual
	mgr   *Manager
	seq   int
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	store, err := storage.Open(s.ctx, ":memory:")
	s.Require().NoError(err)
	s.store = store
	s.clock = clock.NewManual(time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local))
	s.mgr = s.newManager()
}

func (s *ManagerSuite) TearDownTest() {
	s.store.Close()
}

func (s *ManagerSuite) newManager() *Manager {
	m := New(s.store, s.clock, zerolog.Nop())
	m.newID = func() string {
		s.seq++
		return fmt.Sprintf("sess-%d", s.seq)
	}
	return m
}

func (s *ManagerSuite) activeIDs() []string {
	sessions, err := s.store.ActiveSessions(s.ctx)
	s.Require().NoError(err)
	var ids []string
	for _, sess := range sessions {
		ids = append(ids, sess.SessionID)
	}
	return ids
}

func (s *ManagerSuite) TestCurrentSessionIDIsLazy() {
	s.Empty(s.mgr.Active())
	s.Empty(s.activeIDs())

	id, err := s.mgr.CurrentSessionID(s.ctx)
	s.Require().NoError(err)
	s.Equal("sess-1", id)

	again, err := s.mgr.CurrentSessionID(s.ctx)
	s.Require().NoError(err)
	s.Equal(id, again, "second call reuses the active session")
	s.Equal([]string{"sess-1"}, s.activeIDs())

	events, err := s.store.ListEvents(s.ctx, storage.EventQuery{Type: storage.EventSessionStart})
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *ManagerSuite) TestStartEndsPreviousFirst() {
	first, err := s.mgr.Start(s.ctx)
	s.Require().NoError(err)

	s.clock.Advance(time.Minute)
	second, err := s.mgr.Start(s.ctx)
	s.Require().NoError(err)
	s.NotEqual(first, second)
	s.Equal([]string{second}, s.activeIDs())

	prev, err := s.store.GetSession(s.ctx, first)
	s.Require().NoError(err)
	next, err := s.store.GetSession(s.ctx, second)
	s.Require().NoError(err)

	s.False(prev.IsActive)
	s.Require().NotNil(prev.EndTime)
	s.False(prev.EndTime.Before(prev.StartTime))
	s.False(prev.EndTime.After(next.StartTime), "sessions never overlap")

	ends, err := s.store.ListEvents(s.ctx, storage.EventQuery{SessionID: first, Type: storage.EventSessionEnd})
	s.Require().NoError(err)
	s.Require().Len(ends, 1)
	s.Equal(float64(time.Minute.Milliseconds()), ends[0].Payload["durationMs"])
}

func (s *ManagerSuite) TestEndIsNoOpWithoutSession() {
	s.NoError(s.mgr.End(s.ctx))

	_, err := s.mgr.Start(s.ctx)
	s.Require().NoError(err)
	s.NoError(s.mgr.End(s.ctx))
	s.NoError(s.mgr.End(s.ctx))
	s.Empty(s.activeIDs())

	ends, err := s.store.ListEvents(s.ctx, storage.EventQuery{Type: storage.EventSessionEnd})
	s.Require().NoError(err)
	s.Len(ends, 1)
}

func (s *ManagerSuite) TestInitializeClosesStaleSession() {
	// Previous run: started, heartbeat, then crashed without ending.
	prior := s.newManager()
	staleID, err := prior.Start(s.ctx)
	s.Require().NoError(err)
	s.clock.Advance(30 * time.Second)
	s.Require().NoError(prior.Heartbeat(s.ctx))
	lastSeen := s.clock.Now()

	s.clock.Advance(10 * time.Minute)
	rec, err := s.mgr.Initialize(s.ctx)
	s.Require().NoError(err)

	s.Equal(1, rec.Closed)
	s.Equal(staleID, rec.PriorSessionID)
	s.True(rec.Cutoff.Equal(lastSeen))

	stale, err := s.store.GetSession(s.ctx, staleID)
	s.Require().NoError(err)
	s.False(stale.IsActive)
	s.Require().NotNil(stale.EndTime)
	s.True(stale.EndTime.Equal(lastSeen), "stale session ends at its last heartbeat")

	active := s.activeIDs()
	s.Require().Len(active, 1)
	s.NotEqual(staleID, active[0])
	s.Equal(active[0], s.mgr.Active())
}

func (s *ManagerSuite) TestInitializeAfterCleanExit() {
	prior := s.newManager()
	id, err := prior.Start(s.ctx)
	s.Require().NoError(err)
	s.clock.Advance(time.Minute)
	s.Require().NoError(prior.End(s.ctx))
	endedAt := s.clock.Now()

	s.clock.Advance(time.Hour)
	rec, err := s.mgr.Initialize(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, rec.Closed)
	s.Equal(id, rec.PriorSessionID)
	s.True(rec.Cutoff.Equal(endedAt))
}

func (s *ManagerSuite) TestInitializeFreshStore() {
	rec, err := s.mgr.Initialize(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, rec.Closed)
	s.True(rec.Cutoff.IsZero())
	s.Len(s.activeIDs(), 1)
}

func (s *ManagerSuite) TestHeartbeatAndReset() {
	s.NoError(s.mgr.Heartbeat(s.ctx), "heartbeat without a session is a no-op")

	id, err := s.mgr.Start(s.ctx)
	s.Require().NoError(err)
	s.clock.Advance(45 * time.Second)
	s.Require().NoError(s.mgr.Heartbeat(s.ctx))

	sess, err := s.store.GetSession(s.ctx, id)
	s.Require().NoError(err)
	s.True(sess.LastSeen.Equal(s.clock.Now()))

	s.Require().NoError(s.store.ClearAll(s.ctx))
	s.mgr.Reset()
	s.Empty(s.mgr.Active())

	next, err := s.mgr.Start(s.ctx)
	s.Require().NoError(err)
	s.NotEqual(id, next)
	s.Equal([]string{next}, s.activeIDs())
}
