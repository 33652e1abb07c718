package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runnerr0/dwell/internal/config"
	"github.com/runnerr0/dwell/internal/engine"
	"github.com/runnerr0/dwell/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// closedPort returns a local port nothing is listening on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// testEnv writes a config file pointing storage at a temp dir and the
// daemon at a closed port.
type testEnv struct {
	path string
	cfg  *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("storage:\n  path: %s\ndaemon:\n  port: %d\n", dir, closedPort(t))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	return &testEnv{path: path, cfg: cfg}
}

func (e *testEnv) globals(json bool) *GlobalFlags {
	return &GlobalFlags{Config: e.path, JSON: json}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var err error
	out := captureOutput(t, func() {
		err = RunWithArgs("test", append([]string{"--config", e.path}, args...))
	})
	return out, err
}

// store opens the env's database; it is closed when the test ends.
func (e *testEnv) store(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	s, _, err := openStore(context.Background(), e.cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// accrue records elapsed engaged time on rawURL, ending now.
func accrue(t *testing.T, s *storage.SQLiteStore, rawURL string, elapsed time.Duration) *storage.Page {
	t.Helper()
	ctx := context.Background()
	end := time.Now()
	start := end.Add(-elapsed)

	page, err := s.UpsertPage(ctx, rawURL, "Title of "+rawURL, start)
	require.NoError(t, err)
	_, err = s.BeginAccrual(ctx, page.ID, start)
	require.NoError(t, err)
	ms, err := s.EndAccrual(ctx, page.ID, "sess", end)
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(ctx, &storage.Event{
		PageID:    page.ID,
		SessionID: "sess",
		Timestamp: end,
		Type:      storage.EventFocusLost,
		Payload:   map[string]any{"elapsedMs": ms, "reason": "blur"},
	}))

	page, err = s.GetPage(ctx, page.ID)
	require.NoError(t, err)
	return page
}

type fakeController struct {
	mu       sync.Mutex
	down     bool
	resp     engine.Response
	requests []engine.Request
}

func (f *fakeController) Ping(context.Context) error {
	if f.down {
		return fmt.Errorf("connection refused")
	}
	return nil
}

func (f *fakeController) Control(_ context.Context, req engine.Request) (engine.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	resp := f.resp
	resp.Type = req.Type
	return resp, nil
}
