package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/dwell/internal/engine"
	"github.com/runnerr0/dwell/internal/storage"
)

func TestStats_Empty(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Today:  0s (bounded)")
	assert.Contains(t, out, "No pages tracked yet.")
}

func TestStats_ShowsDomains(t *testing.T) {
	env := newTestEnv(t)
	s := env.store(t)
	accrue(t, s, "https://news.example.com/a", 90*time.Second)
	accrue(t, s, "https://docs.example.org/b", 30*time.Second)

	out, err := env.run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "DOMAIN")
	assert.Contains(t, out, "news.example.com")
	assert.Contains(t, out, "1m 30s")
	assert.Less(t, strings.Index(out, "news.example.com"), strings.Index(out, "docs.example.org"))
}

func TestDomains_JSONLimit(t *testing.T) {
	env := newTestEnv(t)
	s := env.store(t)
	accrue(t, s, "https://a.com/", 20*time.Second)
	accrue(t, s, "https://b.com/", 10*time.Second)

	out, err := env.run(t, "--json", "domains", "--limit", "1")
	require.NoError(t, err)

	var domains []storage.DomainStat
	require.NoError(t, json.Unmarshal([]byte(out), &domains))
	require.Len(t, domains, 1)
	assert.Equal(t, "a.com", domains[0].Domain)
	assert.Equal(t, int64(20000), domains[0].TotalActiveMs)
}

func TestDomains_EmptyJSONIsArray(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "--json", "domains")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestToday_JSON(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "--json", "today")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, float64(0), got["todayMs"])
	assert.Equal(t, "bounded", got["todayMode"])
}

func TestPages_FilterAndOrder(t *testing.T) {
	env := newTestEnv(t)
	s := env.store(t)
	accrue(t, s, "https://a.com/short", 5*time.Second)
	accrue(t, s, "https://a.com/long", 50*time.Second)
	accrue(t, s, "https://b.com/other", 70*time.Second)

	out, err := env.run(t, "pages", "--domain", "a.com")
	require.NoError(t, err)
	assert.NotContains(t, out, "b.com")
	assert.Less(t, strings.Index(out, "a.com/long"), strings.Index(out, "a.com/short"))

	out, err = env.run(t, "pages", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "b.com/other")
	assert.NotContains(t, out, "a.com/long")
}

func TestPage_ShowsEvents(t *testing.T) {
	env := newTestEnv(t)
	s := env.store(t)
	page := accrue(t, s, "https://a.com/read", 45*time.Second)

	cmd := &PageCommand{ID: page.ID, Events: 20, globals: env.globals(false)}
	out := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(context.Background(), env.cfg, s))
	})
	assert.Contains(t, out, "URL:          https://a.com/read")
	assert.Contains(t, out, "Engaged:      45s")
	assert.Contains(t, out, "focus_lost")
	assert.Contains(t, out, "45s (blur)")
}

func TestPage_Errors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "page")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--id is required")

	_, err = env.run(t, "page", "--id", "999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page not found: 999")
}

func TestExport_ToFile(t *testing.T) {
	env := newTestEnv(t)
	s := env.store(t)
	accrue(t, s, "https://a.com/", 10*time.Second)

	path := filepath.Join(t.TempDir(), "export.json")
	out, err := env.run(t, "export", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 1 pages, 1 events")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var export storage.Export
	require.NoError(t, json.Unmarshal(data, &export))
	require.Len(t, export.Pages, 1)
	assert.Equal(t, int64(10000), export.Pages[0].TotalActiveTimeMs)
	assert.Len(t, export.Spans, 1)
}

func TestClear_WithoutDaemonUsesStore(t *testing.T) {
	env := newTestEnv(t)
	s := env.store(t)
	accrue(t, s, "https://a.com/", 10*time.Second)

	out, err := env.run(t, "clear", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared all data")

	pages, err := s.ListPages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestClear_ThroughDaemon(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeController{}
	cmd := &ClearCommand{Force: true, globals: env.globals(true), client: fake}

	out := captureOutput(t, func() {
		err := cmd.execute(context.Background(), env.cfg, func(context.Context) (*storage.SQLiteStore, error) {
			t.Fatal("store opened while daemon is up")
			return nil, nil
		})
		require.NoError(t, err)
	})

	require.Len(t, fake.requests, 1)
	assert.Equal(t, engine.ClearData, fake.requests[0].Type)
	assert.Contains(t, out, `"via": "daemon"`)
}

func TestClear_DaemonError(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeController{resp: engine.Response{Error: "clear data: disk I/O error", Code: engine.CodeStorage}}
	cmd := &ClearCommand{Force: true, globals: env.globals(false), client: fake}

	err := cmd.execute(context.Background(), env.cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestClear_ConfirmationMismatch(t *testing.T) {
	cmd := &ClearCommand{globals: &GlobalFlags{}, stdin: strings.NewReader("yes\n")}
	var err error
	out := captureOutput(t, func() { err = cmd.confirm() })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not match")
	assert.Contains(t, out, `Type "CLEAR" to confirm`)

	cmd.stdin = strings.NewReader("CLEAR\n")
	captureOutput(t, func() { err = cmd.confirm() })
	assert.NoError(t, err)

	cmd.stdin = strings.NewReader("")
	captureOutput(t, func() { err = cmd.confirm() })
	assert.Error(t, err)
}

func TestPause_RequiresDaemon(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "pause")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon not running")
}

func TestPauseResume_SendRequests(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeController{}

	out := captureOutput(t, func() {
		require.NoError(t, (&PauseCommand{globals: env.globals(false), client: fake}).Execute(nil))
		require.NoError(t, (&ResumeCommand{globals: env.globals(false), client: fake}).Execute(nil))
	})

	require.Len(t, fake.requests, 2)
	assert.Equal(t, engine.PauseTracking, fake.requests[0].Type)
	assert.Equal(t, engine.ResumeTracking, fake.requests[1].Type)
	assert.Contains(t, out, "Tracking paused.")
	assert.Contains(t, out, "Tracking resumed.")
}

func TestResume_ErrorResponse(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeController{resp: engine.Response{Error: "store still failing", Code: engine.CodeTracking}}
	err := (&ResumeCommand{globals: env.globals(false), client: fake}).Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resume_tracking: store still failing")
}

func TestPrune_OlderThan(t *testing.T) {
	env := newTestEnv(t)
	s := env.store(t)
	ctx := context.Background()
	page := accrue(t, s, "https://a.com/", 10*time.Second)
	require.NoError(t, s.AppendEvent(ctx, &storage.Event{
		PageID:    page.ID,
		SessionID: "old",
		Timestamp: time.Now().Add(-40 * 24 * time.Hour),
		Type:      storage.EventPageView,
	}))

	out, err := env.run(t, "prune", "--older-than", "30d")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 events")

	events, err := s.ListEvents(ctx, storage.EventQuery{})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	kept, err := s.GetPage(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), kept.TotalActiveTimeMs)
}

func TestPrune_BadDuration(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "prune", "--older-than", "soon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestStatus_DaemonDown(t *testing.T) {
	env := newTestEnv(t)
	s := env.store(t)
	accrue(t, s, "https://a.com/", 10*time.Second)

	cmd := &StatusCommand{globals: env.globals(false), version: "1.0.0", client: &fakeController{down: true}}
	out := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(context.Background(), env.cfg, s, filepath.Join(env.cfg.Storage.Path, "dwell.db")))
	})
	assert.Contains(t, out, "Version:       1.0.0")
	assert.Contains(t, out, "Pages:         1")
	assert.Contains(t, out, "Daemon:        not running")
	assert.NotContains(t, out, "Tracking:")
}

func TestStatus_DaemonUpJSON(t *testing.T) {
	env := newTestEnv(t)
	s := env.store(t)
	fake := &fakeController{resp: engine.Response{Stats: &engine.Stats{
		Status: &engine.Status{State: engine.StatePaused, SessionID: "abc", Tabs: 3},
	}}}

	cmd := &StatusCommand{globals: env.globals(true), version: "1.0.0", client: fake}
	out := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(context.Background(), env.cfg, s, ":memory:"))
	})

	var got statusJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.DaemonRunning)
	require.NotNil(t, got.Tracking)
	assert.Equal(t, engine.StatePaused, got.Tracking.State)
	assert.Equal(t, 3, got.Tracking.Tabs)
	assert.Positive(t, got.DatabaseSizeBytes)
}
