package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/dashport/internal/admin"
	"github.com/adityalohuni/dashport/internal/progress"
	"github.com/adityalohuni/dashport/internal/wsbridge"
)

type fakeAPI struct {
	status       admin.Status
	browsers     []wsbridge.SessionInfo
	runs         []progress.RunInfo
	err          error
	disconnected []string
}

func (f *fakeAPI) Status(context.Context) (admin.Status, error) { return f.status, f.err }
func (f *fakeAPI) Browsers(context.Context) ([]wsbridge.SessionInfo, error) {
	return f.browsers, nil
}
func (f *fakeAPI) Progress(context.Context) ([]progress.RunInfo, error) { return f.runs, nil }
func (f *fakeAPI) DisconnectBrowser(_ context.Context, id string) error {
	f.disconnected = append(f.disconnected, id)
	return nil
}

func updateMonitor(t *testing.T, m MonitorModel, msg tea.Msg) (MonitorModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(MonitorModel)
	require.True(t, ok)
	return mm, cmd
}

func TestMonitorLoadAndDisconnect(t *testing.T) {
	now := time.Now()
	api := &fakeAPI{
		status: admin.Status{Uptime: "3m0s", Backend: "ws", BrowserSessions: 2},
		browsers: []wsbridge.SessionInfo{
			{ID: "bbbbbbbb-2222", ConnectedAt: now, Active: true},
			{ID: "aaaaaaaa-1111", ConnectedAt: now.Add(-time.Minute)},
		},
		runs: []progress.RunInfo{{ID: "run-12345678", Total: 3, Completed: 1, Jobs: []progress.JobInfo{{Name: "Ops", State: "invoking"}}}},
	}
	m := NewMonitorModel(api, time.Second)
	t.Cleanup(m.zones.Close)

	msg := m.fetch()()
	m, _ = updateMonitor(t, m, msg)
	require.Len(t, m.browsers, 2)
	assert.Equal(t, "aaaaaaaa-1111", m.browsers[0].ID)
	assert.Equal(t, "browser_sessions=2 runs=1", m.message)

	view := m.View()
	assert.Contains(t, view, "backend ws")
	assert.Contains(t, view, "ACTIVE")
	assert.Contains(t, view, "1/3")
	assert.Contains(t, view, "invoking")

	m, _ = updateMonitor(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.cursor)
	m, cmd := updateMonitor(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	require.NotNil(t, cmd)
	res := cmd()
	assert.Equal(t, disconnectResultMsg{id: "bbbbbbbb-2222"}, res)
	assert.Equal(t, []string{"bbbbbbbb-2222"}, api.disconnected)

	m, cmd = updateMonitor(t, m, res)
	assert.Equal(t, "disconnected bbbbbbbb", m.message)
	assert.NotNil(t, cmd)
}

func TestMonitorRefreshError(t *testing.T) {
	api := &fakeAPI{err: errors.New("connection refused")}
	m := NewMonitorModel(api, 0)
	t.Cleanup(m.zones.Close)

	m, _ = updateMonitor(t, m, m.fetch()())
	assert.Equal(t, "refresh failed: connection refused", m.message)
	assert.Equal(t, 2*time.Second, m.refresh)
}

func TestMonitorSpringFollowsExported(t *testing.T) {
	m := NewMonitorModel(&fakeAPI{}, time.Second)
	t.Cleanup(m.zones.Close)
	m.runs = []progress.RunInfo{{Completed: 4}, {Completed: 2}}

	for i := 0; i < 200; i++ {
		m, _ = updateMonitor(t, m, tickMsg(time.Now()))
	}
	assert.InDelta(t, 6, m.animDone, 0.05)
}
