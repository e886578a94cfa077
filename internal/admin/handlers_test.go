package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/dashport/internal/config"
	"github.com/adityalohuni/dashport/internal/progress"
	"github.com/adityalohuni/dashport/internal/runlog"
	"github.com/adityalohuni/dashport/internal/wsbridge"
)

type fakeSessions struct {
	sessions     []wsbridge.SessionInfo
	disconnected []string
}

func (f *fakeSessions) Count() int { return len(f.sessions) }
func (f *fakeSessions) ListSessions() []wsbridge.SessionInfo { return f.sessions }
func (f *fakeSessions) DisconnectSession(id string) bool {
	for _, s := range f.sessions {
		if s.ID == id {
			f.disconnected = append(f.disconnected, id)
			return true
		}
	}
	return false
}

func newRouter(t *testing.T, h *Handlers) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/admin", h.Routes)
	return r
}

func serve(t *testing.T, h http.Handler, method, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func seededRuns(t *testing.T) *runlog.Store {
	t.Helper()
	store, err := runlog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b"} {
		_, err := store.Add(context.Background(), runlog.Run{
			ID:        id,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Completed: i + 1,
			Results:   []runlog.JobResult{{Name: "Sales", Status: "success"}},
		})
		require.NoError(t, err)
	}
	return store
}

func TestStatus(t *testing.T) {
	tracker := progress.NewTracker()
	tracker.Begin("live", []string{"Sales", "Ops"})
	settings := config.Settings{Browser: config.BrowserSettings{Backend: config.BackendWS}}
	h := newRouter(t, &Handlers{
		StartedAt: time.Now().Add(-time.Minute),
		Settings:  settings,
		Bridge:    &fakeSessions{sessions: []wsbridge.SessionInfo{{ID: "s1", Active: true}}},
		Progress:  tracker,
		Runs:      seededRuns(t),
	})

	var st Status
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/admin/status", &st))
	assert.Equal(t, "ws", st.Backend)
	assert.Equal(t, 1, st.BrowserSessions)
	require.NotNil(t, st.ActiveRun)
	assert.Equal(t, "live", st.ActiveRun.ID)
	assert.Equal(t, 2, st.ActiveRun.Total)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, "run-b", st.LastRun.ID)
}

func TestStatusWithoutRuns(t *testing.T) {
	store, err := runlog.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	h := newRouter(t, &Handlers{StartedAt: time.Now(), Runs: store})

	var st Status
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/admin/status", &st))
	assert.Nil(t, st.LastRun)
	assert.Nil(t, st.ActiveRun)
}

func TestRuns(t *testing.T) {
	h := newRouter(t, &Handlers{Runs: seededRuns(t)})

	var runs []runlog.Run
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/admin/runs?limit=1", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-b", runs[0].ID)

	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/admin/runs?limit=x", nil))

	var run runlog.Run
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/admin/runs/run-a", &run))
	assert.Equal(t, 1, run.Completed)
	require.Len(t, run.Results, 1)

	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/admin/runs/missing", nil))
}

func TestRunsUnconfigured(t *testing.T) {
	h := newRouter(t, &Handlers{})
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, h, http.MethodGet, "/admin/runs", nil))
}

func TestBrowsers(t *testing.T) {
	sessions := &fakeSessions{sessions: []wsbridge.SessionInfo{{ID: "s1"}, {ID: "s2", Active: true}}}
	h := newRouter(t, &Handlers{Bridge: sessions})

	var list []wsbridge.SessionInfo
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/admin/browsers", &list))
	assert.Len(t, list, 2)

	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodPost, "/admin/browsers/s2/disconnect", nil))
	assert.Equal(t, []string{"s2"}, sessions.disconnected)
	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodPost, "/admin/browsers/zz/disconnect", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, h, http.MethodGet, "/admin/browsers/s1/disconnect", nil))
}

func TestProgressList(t *testing.T) {
	tracker := progress.NewTracker()
	id := tracker.Begin("r1", []string{"Sales"})
	tracker.Finish(id)
	h := newRouter(t, &Handlers{Progress: tracker})

	var runs []progress.RunInfo
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/admin/progress", &runs))
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Active())
}

func TestConfigMasksTokens(t *testing.T) {
	settings := config.Settings{Daemon: config.DaemonSettings{MCPToken: "abcdefgh", AdminToken: "xy"}}
	h := newRouter(t, &Handlers{Settings: settings})

	var got config.Settings
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/admin/config", &got))
	assert.Equal(t, "abcd****", got.Daemon.MCPToken)
	assert.Equal(t, "**", got.Daemon.AdminToken)
}
