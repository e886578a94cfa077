package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"

	"github.com/adityalohuni/dashport/internal/export"
	"github.com/adityalohuni/dashport/internal/progress"
)

const frameRate = 30

type eventMsg progress.Event

type eventsClosedMsg struct{}

// DoneMsg ends the export view.
type DoneMsg struct {
	Results []export.Result
	Err     error
}

type frameMsg time.Time

type jobRow struct {
	name    string
	state   string
	attempt int
	path    string
	err     string
	kind    string
	final   bool
	started time.Time
	updated time.Time
}

func (j jobRow) succeeded() bool { return j.final && j.state == string(export.Completed) }

// ExportModel shows one export run: a row per dashboard with its current
// state, an overall bar and a chart of per-dashboard durations.
type ExportModel struct {
	title  string
	jobs   []jobRow
	runID  string
	events <-chan progress.Event
	cancel context.CancelFunc

	spin      spinner.Model
	bar       bprogress.Model
	vp        viewport.Model
	durations streamlinechart.Model
	spring    harmonica.Spring
	shown     float64
	vel       float64
	zones     *zone.Manager

	selected   int
	cancelling bool
	done       bool
	summary    export.Summary
	width      int
	height     int
}

// NewExportModel lists names in run order. cancel is called when the user
// asks to stop; the model keeps running until DoneMsg arrives.
func NewExportModel(title string, names []string, events <-chan progress.Event, cancel context.CancelFunc) ExportModel {
	jobs := make([]jobRow, len(names))
	for i, n := range names {
		jobs[i] = jobRow{name: n, state: string(export.Pending)}
	}
	if cancel == nil {
		cancel = func() {}
	}
	return ExportModel{
		title:  title,
		jobs:   jobs,
		events: events,
		cancel: cancel,
		spin:   newSpinner(),
		bar:    bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithoutPercentage()),
		vp:     viewport.New(72, 12),
		durations: streamlinechart.New(
			34,
			6,
			streamlinechart.WithYRange(0, 60),
			streamlinechart.WithStyles(runes.ArcLineStyle, lipgloss.NewStyle().Foreground(lipgloss.Color("14"))),
		),
		spring: harmonica.NewSpring(harmonica.FPS(frameRate), 8.0, 1.0),
		zones:  zone.New(),
	}
}

func (m ExportModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForEvent(m.events), frame())
}

func waitForEvent(ch <-chan progress.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func frame() tea.Cmd {
	return tea.Tick(time.Second/frameRate, func(t time.Time) tea.Msg { return frameMsg(t) })
}

func (m ExportModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.vp.Width = max(40, msg.Width-4)
		m.vp.Height = max(4, msg.Height-16)
		m.bar.Width = max(20, min(80, msg.Width-20))
		m.syncViewport()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(progress.Event(msg))
		m.syncViewport()
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		return m, nil

	case frameMsg:
		m.shown, m.vel = m.spring.Update(m.shown, m.vel, m.fraction())
		if m.done && math.Abs(m.shown-m.fraction()) < 0.001 {
			return m, nil
		}
		return m, frame()

	case DoneMsg:
		m.done = true
		m.summary = export.Summarize(m.runID, msg.Results)
		for i, r := range msg.Results {
			if i >= len(m.jobs) {
				break
			}
			m.jobs[i].final = true
			m.jobs[i].path = r.Path
			m.jobs[i].err = r.Error
			m.jobs[i].kind = string(r.Kind)
			if r.Status == export.StatusSuccess {
				m.jobs[i].state = string(export.Completed)
			} else {
				m.jobs[i].state = string(export.Failed)
			}
		}
		m.shown = m.fraction()
		m.syncViewport()
		return m, tea.Quit

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft {
			for i := range m.jobs {
				if z := m.zones.Get(jobZone(i)); z != nil && z.InBounds(msg) {
					m.selected = i
					m.syncViewport()
					return m, nil
				}
			}
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.cancelling {
				return m, tea.Quit
			}
			m.cancelling = true
			m.cancel()
			return m, nil
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
			m.syncViewport()
			return m, nil
		case "down", "j":
			if m.selected < len(m.jobs)-1 {
				m.selected++
			}
			m.syncViewport()
			return m, nil
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *ExportModel) apply(ev progress.Event) {
	if m.runID == "" {
		m.runID = ev.RunID
	}
	if ev.RunID != m.runID || ev.Index < 0 || ev.Index >= len(m.jobs) {
		return
	}
	j := &m.jobs[ev.Index]
	if j.started.IsZero() {
		j.started = ev.At
	}
	j.state = ev.State
	j.attempt = ev.Attempt
	j.path = ev.Path
	j.err = ev.Error
	j.kind = ev.Kind
	j.updated = ev.At
	if ev.Final && !j.final {
		j.final = true
		if j.succeeded() {
			m.durations.Push(ev.At.Sub(j.started).Seconds())
			m.durations.Draw()
		}
	}
	if !m.jobs[m.selected].final || m.jobs[m.selected].err == "" {
		m.selected = ev.Index
	}
}

func (m ExportModel) counts() (completed, failed int) {
	for _, j := range m.jobs {
		if !j.final {
			continue
		}
		if j.succeeded() {
			completed++
		} else {
			failed++
		}
	}
	return completed, failed
}

func (m ExportModel) fraction() float64 {
	if len(m.jobs) == 0 {
		return 1
	}
	c, f := m.counts()
	return float64(c+f) / float64(len(m.jobs))
}

func jobZone(i int) string { return fmt.Sprintf("job-%d", i) }

func (m *ExportModel) syncViewport() {
	m.vp.SetContent(m.renderJobs())
}

func (m ExportModel) renderJobs() string {
	if len(m.jobs) == 0 {
		return normalStyle.Render("(no dashboards)")
	}
	nameWidth := max(12, min(40, m.vp.Width-36))
	lines := make([]string, 0, len(m.jobs))
	for i, j := range m.jobs {
		pref := "  "
		if i == m.selected {
			pref = "> "
		}
		var mark string
		switch {
		case j.final && j.succeeded():
			mark = okStyle.Render("✓")
		case j.final:
			mark = warnStyle.Render("✗")
		case j.state == string(export.Pending):
			mark = normalStyle.Render("·")
		default:
			mark = m.spin.View()
		}
		state := j.state
		if j.attempt > 1 && !j.final {
			state = fmt.Sprintf("%s (attempt %d)", state, j.attempt)
		}
		row := fmt.Sprintf("%s%s %-*s %s", pref, mark, nameWidth, truncate(j.name, nameWidth), state)
		if i == m.selected {
			row = cursorStyle.Render(row)
		}
		lines = append(lines, m.zones.Mark(jobZone(i), row))
	}
	return strings.Join(lines, "\n")
}

func (m ExportModel) detail() string {
	if m.selected < 0 || m.selected >= len(m.jobs) {
		return ""
	}
	j := m.jobs[m.selected]
	switch {
	case j.err != "":
		return warnStyle.Render(fmt.Sprintf("%s: %s %s", j.name, j.kind, j.err))
	case j.path != "":
		return okStyle.Render(fmt.Sprintf("%s → %s", j.name, j.path))
	case !j.updated.IsZero():
		return normalStyle.Render(fmt.Sprintf("%s: %s, updated %s", j.name, j.state, timeAgo(j.updated)))
	}
	return normalStyle.Render(j.name + ": waiting")
}

func (m ExportModel) View() string {
	completed, failed := m.counts()
	head := titleStyle.Render(m.title)
	if !m.done {
		head = m.spin.View() + " " + head
	}
	status := fmt.Sprintf("%d/%d exported", completed, len(m.jobs))
	if failed > 0 {
		status += warnStyle.Render(fmt.Sprintf("  %d failed", failed))
	}
	if m.cancelling && !m.done {
		status += warnStyle.Render("  stopping after the current step…")
	}

	chart := paneStyle.Render("Seconds per dashboard\n" + m.durations.View())
	help := helpStyle.Render("↑/↓ select · click a row for details · q stop")

	return m.zones.Scan(strings.Join([]string{
		head,
		m.bar.ViewAs(m.shown) + "  " + status,
		"",
		m.vp.View(),
		"",
		m.detail(),
		chart,
		help,
	}, "\n"))
}

// Done reports whether the run finished and its summary.
func (m ExportModel) Done() (export.Summary, bool) { return m.summary, m.done }

// RunExport runs work under a progress view fed by tracker. Quitting the
// view cancels work's context; RunExport always waits for work to return.
func RunExport(parent context.Context, tracker *progress.Tracker, title string, names []string, work func(context.Context) ([]export.Result, error), opts ...tea.ProgramOption) ([]export.Result, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	events, unsubscribe := tracker.Subscribe(len(names)*8 + 16)
	defer unsubscribe()

	m := NewExportModel(title, names, events, cancel)
	defer m.zones.Close()
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithMouseCellMotion(), tea.WithContext(parent)}, opts...)...)

	done := make(chan DoneMsg, 1)
	go func() {
		results, err := work(ctx)
		msg := DoneMsg{Results: results, Err: err}
		done <- msg
		p.Send(msg)
	}()

	_, uiErr := p.Run()
	if uiErr != nil {
		cancel()
	}
	res := <-done
	return res.Results, res.Err
}
