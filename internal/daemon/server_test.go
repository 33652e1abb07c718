package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/dwell/internal/clock"
	"github.com/runnerr0/dwell/internal/engine"
	"github.com/runnerr0/dwell/internal/idle"
	"github.com/runnerr0/dwell/internal/storage"
	"github.com/runnerr0/dwell/internal/tracker"
)

type fakeHandler struct {
	mu      sync.Mutex
	signals []engine.Signal
	err     error
	resp    engine.Response
}

func (f *fakeHandler) Submit(_ context.Context, sig engine.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return f.err
}

func (f *fakeHandler) Handle(_ context.Context, req engine.Request) engine.Response {
	resp := f.resp
	resp.Type = req.Type
	return resp
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDecodeSignal(t *testing.T) {
	tests := []struct {
		name string
		body string
		want engine.Signal
	}{
		{"activated", `{"type":"tab_activated","tabId":3,"windowId":1}`, engine.TabActivated{TabID: 3, WindowID: 1}},
		{"removed", `{"type":"tab_removed","tabId":3}`, engine.TabRemoved{TabID: 3}},
		{"focus", `{"type":"window_focus_changed","windowId":-1}`, engine.WindowFocusChanged{WindowID: -1}},
		{"visibility", `{"type":"visibility_changed","tabId":2,"visible":true}`, engine.VisibilityChanged{TabID: 2, Visible: true}},
		{"activity", `{"type":"user_activity","tabId":9}`, engine.UserActivity{TabID: 9}},
		{"idle", `{"type":"idle_state_changed","state":"locked"}`, engine.IdleStateChanged{State: idle.StateLocked}},
		{
			"updated",
			`{"type":"tab_updated","tabId":5,"windowId":2,"status":"complete","url":"https://a.com/","title":"A","referrer":"https://b.com/"}`,
			engine.TabUpdated{
				TabUpdate: tracker.TabUpdate{TabID: 5, WindowID: 2, Status: "complete", URL: "https://a.com/", Title: "A"},
				Referrer:  "https://b.com/",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeSignal([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeSignalRejects(t *testing.T) {
	_, err := decodeSignal([]byte(`{"type":"teleport"}`))
	require.ErrorIs(t, err, engine.ErrUnsupported)

	_, err = decodeSignal([]byte(`{"tabId":1}`))
	require.Error(t, err)

	_, err = decodeSignal([]byte(`{"type":"idle_state_changed","state":"asleep"}`))
	require.Error(t, err)

	_, err = decodeSignal([]byte(`not json`))
	require.Error(t, err)
}

func TestServerSignals(t *testing.T) {
	h := &fakeHandler{}
	srv := NewServer(h, nil, 0, zerolog.Nop())

	rec := do(t, srv, http.MethodPost, "/v1/signals", `{"type":"tab_removed","tabId":7}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, h.signals, 1)
	assert.Equal(t, engine.TabRemoved{TabID: 7}, h.signals[0])

	rec = do(t, srv, http.MethodPost, "/v1/signals", `{"type":"teleport"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"unsupported"`)
	assert.Len(t, h.signals, 1)
}

func TestServerSignalErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{engine.ErrStopped, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: end accrual", tracker.ErrCommit), http.StatusInternalServerError},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		srv := NewServer(&fakeHandler{err: tt.err}, nil, 0, zerolog.Nop())
		rec := do(t, srv, http.MethodPost, "/v1/signals", `{"type":"tab_removed","tabId":1}`)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}

func TestServerTabs(t *testing.T) {
	h := &fakeHandler{}
	srv := NewServer(h, nil, 0, zerolog.Nop())

	body := `{"focusedWindow":1,"tabs":[{"tabId":1,"windowId":1,"url":"https://a.com/","active":true}]}`
	rec := do(t, srv, http.MethodPut, "/v1/tabs", body)
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.Len(t, h.signals, 1)
	snap, ok := h.signals[0].(engine.TabSnapshot)
	require.True(t, ok)
	assert.Equal(t, 1, snap.Snapshot.FocusedWindow)
	require.Len(t, snap.Snapshot.Tabs, 1)
	assert.True(t, snap.Snapshot.Tabs[0].Active)

	rec = do(t, srv, http.MethodPut, "/v1/tabs", `{"tabs":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerBodyLimit(t *testing.T) {
	srv := NewServer(&fakeHandler{}, nil, 16, zerolog.Nop())
	rec := do(t, srv, http.MethodPost, "/v1/signals", `{"type":"tab_removed","tabId":12345678}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServerControlStatusCodes(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"", http.StatusOK},
		{engine.CodeUnsupported, http.StatusBadRequest},
		{engine.CodeStopped, http.StatusServiceUnavailable},
		{engine.CodeTracking, http.StatusConflict},
		{engine.CodeStorage, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		srv := NewServer(&fakeHandler{resp: engine.Response{Code: tt.code}}, nil, 0, zerolog.Nop())
		rec := do(t, srv, http.MethodPost, "/v1/control", `{"type":"GET_STATS"}`)
		assert.Equal(t, tt.want, rec.Code, tt.code)

		var resp engine.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, engine.GetStats, resp.Type)
	}
}

func TestServerHealth(t *testing.T) {
	srv := NewServer(&fakeHandler{}, nil, 0, zerolog.Nop())
	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/v1/badge/stream", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type panicHandler struct{ fakeHandler }

func (panicHandler) Submit(context.Context, engine.Signal) error { panic("boom") }

func TestServerRecoversPanics(t *testing.T) {
	srv := NewServer(&panicHandler{}, nil, 0, zerolog.Nop())
	rec := do(t, srv, http.MethodPost, "/v1/signals", `{"type":"tab_removed","tabId":1}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// TestServeEndToEnd drives a real engine through the HTTP surface and the
// control client.
func TestServeEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, filepath.Join(t.TempDir(), "dwell.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := clock.NewManual(time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local))
	stream := NewBroadcaster(zerolog.Nop())
	eng := engine.New(engine.Deps{Store: store, Clock: clk, Badge: stream, Logger: zerolog.Nop()})
	require.NoError(t, eng.Start(ctx))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() {
		served <- Serve(ctx, ln, Options{Engine: eng, Stream: stream, Logger: zerolog.Nop()})
	}()

	client := NewClient(ln.Addr().String())
	require.Eventually(t, func() bool { return client.Ping(ctx) == nil }, 2*time.Second, 10*time.Millisecond)

	base := "http://" + ln.Addr().String()
	put := func(path, body string) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, base+path, strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	post := func(path, body string) {
		resp, err := http.Post(base+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	put("/v1/tabs", `{"focusedWindow":1,"tabs":[{"tabId":10,"windowId":1,"url":"https://a.com/x","title":"X","active":true}]}`)
	clk.Advance(8 * time.Second)
	post("/v1/signals", `{"type":"window_focus_changed","windowId":-1}`)

	resp, err := client.Control(ctx, engine.Request{Type: engine.GetTodayTime})
	require.NoError(t, err)
	require.Empty(t, resp.Error)
	require.NotNil(t, resp.TodayMs)
	assert.Equal(t, int64(8000), *resp.TodayMs)

	resp, err = client.Control(ctx, engine.Request{Type: engine.PauseTracking})
	require.NoError(t, err)
	assert.Empty(t, resp.Error)

	resp, err = client.Control(ctx, engine.Request{Type: "FROBNICATE"})
	require.NoError(t, err)
	assert.Equal(t, engine.CodeUnsupported, resp.Code)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	_, err = client.Control(context.Background(), engine.Request{Type: engine.GetStats})
	assert.Error(t, err)
}
