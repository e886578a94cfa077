package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/dashport/internal/export"
	"github.com/adityalohuni/dashport/internal/failure"
	"github.com/adityalohuni/dashport/internal/progress"
)

func update(t *testing.T, m ExportModel, msg tea.Msg) (ExportModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	em, ok := next.(ExportModel)
	require.True(t, ok)
	return em, cmd
}

func TestExportModelAppliesEvents(t *testing.T) {
	m := NewExportModel("Exporting", []string{"Sales", "Ops"}, nil, nil)
	t.Cleanup(m.zones.Close)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	m, _ = update(t, m, eventMsg(progress.Event{RunID: "r1", Index: 0, State: "navigating", Attempt: 1, At: at}))
	m, _ = update(t, m, eventMsg(progress.Event{RunID: "r1", Index: 0, State: "completed", Path: "/out/Sales.json", Final: true, At: at.Add(4 * time.Second)}))
	m, _ = update(t, m, eventMsg(progress.Event{RunID: "r1", Index: 1, State: "resolving_action", Attempt: 2, At: at.Add(5 * time.Second)}))
	// Events of another run are ignored.
	m, _ = update(t, m, eventMsg(progress.Event{RunID: "other", Index: 1, State: "failed", Final: true, Error: "x"}))

	completed, failed := m.counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 0, failed)
	assert.InDelta(t, 0.5, m.fraction(), 1e-9)
	assert.Equal(t, 1, m.selected)

	view := m.View()
	assert.Contains(t, view, "1/2 exported")
	assert.Contains(t, view, "resolving_action (attempt 2)")
}

func TestExportModelKeepsFailureSelected(t *testing.T) {
	m := NewExportModel("Exporting", []string{"Sales", "Ops", "Legacy"}, nil, nil)
	t.Cleanup(m.zones.Close)

	m, _ = update(t, m, eventMsg(progress.Event{RunID: "r", Index: 0, State: "failed", Final: true, Kind: "reconciliation_timeout", Error: "no download"}))
	m, _ = update(t, m, eventMsg(progress.Event{RunID: "r", Index: 1, State: "navigating"}))
	assert.Equal(t, 0, m.selected)
	assert.Contains(t, m.View(), "reconciliation_timeout no download")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.selected)
}

func TestExportModelCancelThenQuit(t *testing.T) {
	cancelled := 0
	m := NewExportModel("Exporting", []string{"Sales"}, nil, func() { cancelled++ })
	t.Cleanup(m.zones.Close)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd)
	assert.Equal(t, 1, cancelled)
	assert.True(t, m.cancelling)
	assert.Contains(t, m.View(), "stopping")

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Equal(t, 1, cancelled)
}

func TestExportModelDone(t *testing.T) {
	m := NewExportModel("Exporting", []string{"Sales", "Ops"}, nil, nil)
	t.Cleanup(m.zones.Close)

	m, cmd := update(t, m, DoneMsg{Results: []export.Result{
		{Name: "Sales", Status: export.StatusSuccess, Path: "/out/Sales.json"},
		{Name: "Ops", Status: export.StatusFailed, Kind: failure.KindAborted, Error: "aborted"},
	}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())

	summary, done := m.Done()
	require.True(t, done)
	assert.Equal(t, 1, summary.Completed)
	assert.True(t, summary.Aborted)
	assert.Equal(t, 1.0, m.shown)
}
