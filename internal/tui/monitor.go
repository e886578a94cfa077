package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"

	"github.com/adityalohuni/dashport/internal/admin"
	"github.com/adityalohuni/dashport/internal/progress"
	"github.com/adityalohuni/dashport/internal/wsbridge"
)

// AdminAPI is the daemon surface the monitor polls. *adminclient.Client
// implements it.
type AdminAPI interface {
	Status(ctx context.Context) (admin.Status, error)
	Browsers(ctx context.Context) ([]wsbridge.SessionInfo, error)
	Progress(ctx context.Context) ([]progress.RunInfo, error)
	DisconnectBrowser(ctx context.Context, id string) error
}

type loadResultMsg struct {
	status   admin.Status
	browsers []wsbridge.SessionInfo
	runs     []progress.RunInfo
	err      error
	at       time.Time
}

type disconnectResultMsg struct {
	id  string
	err error
}

type tickMsg time.Time

// MonitorModel polls a daemon and shows its browser sessions and export
// runs.
type MonitorModel struct {
	api     AdminAPI
	refresh time.Duration
	timeout time.Duration

	status   admin.Status
	browsers []wsbridge.SessionInfo
	runs     []progress.RunInfo
	cursor   int

	spin      spinner.Model
	runsVP    viewport.Model
	chart     streamlinechart.Model
	spring    harmonica.Spring
	animDone  float64
	velDone   float64
	zones     *zone.Manager
	message   string
	updatedAt time.Time
	width     int
	height    int
}

func NewMonitorModel(api AdminAPI, refresh time.Duration) MonitorModel {
	if refresh <= 0 {
		refresh = 2 * time.Second
	}
	return MonitorModel{
		api:     api,
		refresh: refresh,
		timeout: 4 * time.Second,
		spin:    newSpinner(),
		runsVP:  viewport.New(60, 10),
		chart: streamlinechart.New(
			34,
			8,
			streamlinechart.WithYRange(0, 32),
			streamlinechart.WithStyles(runes.ArcLineStyle, lipgloss.NewStyle().Foreground(lipgloss.Color("10"))),
		),
		spring:  harmonica.NewSpring(harmonica.FPS(60), 12.0, 1.0),
		zones:   zone.New(),
		message: "loading...",
	}
}

func (m MonitorModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tickCmd(m.refresh), m.spin.Tick)
}

func (m MonitorModel) fetch() tea.Cmd {
	api, timeout := m.api, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		st, err := api.Status(ctx)
		if err != nil {
			return loadResultMsg{err: err, at: time.Now()}
		}
		browsers, err := api.Browsers(ctx)
		if err != nil {
			return loadResultMsg{err: err, at: time.Now()}
		}
		runs, err := api.Progress(ctx)
		if err != nil {
			return loadResultMsg{err: err, at: time.Now()}
		}
		return loadResultMsg{status: st, browsers: browsers, runs: runs, at: time.Now()}
	}
}

func (m MonitorModel) disconnect(id string) tea.Cmd {
	api, timeout := m.api, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return disconnectResultMsg{id: id, err: api.DisconnectBrowser(ctx, id)}
	}
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.runsVP.Width = max(40, msg.Width/2-4)
		m.runsVP.Height = max(4, msg.Height-14)
		m.syncViewport()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case loadResultMsg:
		if msg.err != nil {
			m.message = "refresh failed: " + msg.err.Error()
			return m, nil
		}
		m.status = msg.status
		m.browsers = msg.browsers
		m.runs = msg.runs
		sort.Slice(m.browsers, func(i, j int) bool { return m.browsers[i].ConnectedAt.Before(m.browsers[j].ConnectedAt) })
		if m.cursor >= len(m.browsers) {
			m.cursor = max(0, len(m.browsers)-1)
		}
		m.updatedAt = msg.at
		m.chart.Push(float64(len(m.browsers)))
		m.chart.Draw()
		m.syncViewport()
		m.message = fmt.Sprintf("browser_sessions=%d runs=%d", len(m.browsers), len(m.runs))
		return m, nil

	case disconnectResultMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("disconnect %s failed: %v", shortID(msg.id), msg.err)
			return m, nil
		}
		m.message = "disconnected " + shortID(msg.id)
		return m, m.fetch()

	case tickMsg:
		m.animDone, m.velDone = m.spring.Update(m.animDone, m.velDone, float64(m.exportedTotal()))
		return m, tea.Batch(m.fetch(), tickCmd(m.refresh))

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft {
			for i, b := range m.browsers {
				if z := m.zones.Get("browser-" + b.ID); z != nil && z.InBounds(msg) {
					m.cursor = i
					return m, nil
				}
			}
		}
		var cmd tea.Cmd
		m.runsVP, cmd = m.runsVP.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			m.message = "refreshing..."
			return m, m.fetch()
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "j":
			if m.cursor < len(m.browsers)-1 {
				m.cursor++
			}
			return m, nil
		case "d", "x":
			if len(m.browsers) == 0 {
				return m, nil
			}
			id := m.browsers[m.cursor].ID
			m.message = "disconnecting " + shortID(id) + "..."
			return m, m.disconnect(id)
		}
		var cmd tea.Cmd
		m.runsVP, cmd = m.runsVP.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m MonitorModel) exportedTotal() int {
	n := 0
	for _, r := range m.runs {
		n += r.Completed
	}
	return n
}

func (m *MonitorModel) syncViewport() {
	m.runsVP.SetContent(m.renderRuns())
}

func (m MonitorModel) renderBrowsers() string {
	if len(m.browsers) == 0 {
		return normalStyle.Render("(none)")
	}
	lines := make([]string, 0, len(m.browsers)*2)
	for i, s := range m.browsers {
		pref := "  "
		if i == m.cursor {
			pref = "> "
		}
		act := ""
		if s.Active {
			act = " " + activeStyle.Render("ACTIVE")
		}
		row := fmt.Sprintf("%s%s%s", pref, shortID(s.ID), act)
		if i == m.cursor {
			row = cursorStyle.Render(row)
		}
		lines = append(lines, m.zones.Mark("browser-"+s.ID, row))
		lines = append(lines, fmt.Sprintf("    %s  seen %s", s.RemoteAddr, timeAgo(s.LastSeen)))
	}
	return strings.Join(lines, "\n")
}

func (m MonitorModel) renderRuns() string {
	if len(m.runs) == 0 {
		return normalStyle.Render("(no runs)")
	}
	var lines []string
	for _, r := range m.runs {
		state := okStyle.Render("done")
		if r.Active() {
			state = m.spin.View() + " running"
		}
		head := fmt.Sprintf("%s  %d/%d", shortID(r.ID), r.Completed, r.Total)
		if r.Failed > 0 {
			head += warnStyle.Render(fmt.Sprintf(" %d failed", r.Failed))
		}
		lines = append(lines, head+"  "+state)
		if !r.Active() {
			continue
		}
		for _, j := range r.Jobs {
			if j.Final || j.State == "pending" {
				continue
			}
			lines = append(lines, normalStyle.Render(fmt.Sprintf("    %s  %s", truncate(j.Name, 32), j.State)))
		}
	}
	return strings.Join(lines, "\n")
}

func (m MonitorModel) View() string {
	head := m.spin.View() + " " + titleStyle.Render("dashportd")
	if m.status.Uptime != "" {
		head += normalStyle.Render("  up " + m.status.Uptime)
	}
	if m.status.Backend != "" {
		head += normalStyle.Render("  backend " + m.status.Backend)
	}

	stats := lipgloss.JoinHorizontal(lipgloss.Top,
		paneStyle.Render(fmt.Sprintf("Browsers\n%d", len(m.browsers))),
		paneStyle.Render(fmt.Sprintf("Exported\n%.0f", m.animDone)),
		paneStyle.Render(fmt.Sprintf("Updated\n%s", timeAgo(m.updatedAt))),
	)
	left := paneStyle.Render(titleStyle.Render("Browser sessions") + "\n" + m.renderBrowsers())
	right := paneStyle.Render(titleStyle.Render("Export runs") + "\n" + m.runsVP.View())
	chart := paneStyle.Render("Browsers Trend\n" + m.chart.View())

	return m.zones.Scan(strings.Join([]string{
		head,
		stats,
		lipgloss.JoinHorizontal(lipgloss.Top, left, right),
		chart,
		m.message,
		helpStyle.Render("↑/↓ select · d disconnect · r refresh · q quit"),
	}, "\n"))
}

// RunMonitor blocks until the user quits or ctx is cancelled.
func RunMonitor(ctx context.Context, api AdminAPI, refresh time.Duration) error {
	m := NewMonitorModel(api, refresh)
	defer m.zones.Close()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx)).Run()
	return err
}
