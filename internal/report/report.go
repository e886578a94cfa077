// Package report renders discovery lists, export results and run history
// as terminal tables.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/adityalohuni/dashport/internal/admin"
	"github.com/adityalohuni/dashport/internal/dashboard"
	"github.com/adityalohuni/dashport/internal/export"
	"github.com/adityalohuni/dashport/internal/runlog"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

// Dashboards lists discovered records in discovery order.
func Dashboards(w io.Writer, records []dashboard.Record) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"#", "Name", "Creator", "Created", "ID"})
	for _, r := range records {
		tw.AppendRow(table.Row{r.Ordinal, r.Name, r.Creator, r.CreatedDate, r.ID})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d dashboards", len(records))})
	tw.Render()
}

// Results prints one row per export result followed by the summary.
func Results(w io.Writer, results []export.Result) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Dashboard", "Status", "File / Cause", "Attempts", "Elapsed"})
	for _, r := range results {
		detail := r.Path
		if r.Status != export.StatusSuccess {
			detail = cause(string(r.Kind), r.Error)
		}
		tw.AppendRow(table.Row{r.Name, status(string(r.Status)), detail, attempts(r.Attempts), r.Elapsed.Round(time.Millisecond)})
	}
	tw.Render()
	Summary(w, export.Summarize("", results))
}

// Summary prints the completed and failed counts and one line per failure.
func Summary(w io.Writer, s export.Summary) {
	line := fmt.Sprintf("%d/%d exported", s.Completed, s.Total)
	switch {
	case s.Aborted:
		line = failStyle.Render(line + ", run aborted")
	case s.Failed > 0:
		line = warnStyle.Render(fmt.Sprintf("%s, %d failed", line, s.Failed))
	default:
		line = okStyle.Render(line)
	}
	fmt.Fprintln(w, line)
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  %s %s %s\n", failStyle.Render("x"), f.Name, mutedStyle.Render("("+string(f.Kind)+")"))
	}
}

// Runs lists stored runs, newest first.
func Runs(w io.Writer, runs []runlog.Run) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Run", "Started", "Creator", "Completed", "Failed", "Duration", ""})
	for _, r := range runs {
		flag := ""
		if r.Aborted {
			flag = failStyle.Render("aborted")
		}
		dur := ""
		if !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		tw.AppendRow(table.Row{shortID(r.ID), r.StartedAt.Local().Format("2006-01-02 15:04"), r.Creator, r.Completed, r.Failed, dur, flag})
	}
	tw.Render()
}

// Run prints a stored run with its per-dashboard outcomes.
func Run(w io.Writer, r runlog.Run) {
	fmt.Fprintln(w, titleStyle.Render("Run "+r.ID))
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Dashboard", "Status", "File / Cause"})
	for _, res := range r.Results {
		detail := res.Path
		if res.Status != string(export.StatusSuccess) {
			detail = cause(res.Kind, res.Error)
		}
		tw.AppendRow(table.Row{res.Name, status(res.Status), detail})
	}
	tw.Render()
}

// Status prints a daemon status response.
func Status(w io.Writer, st admin.Status) {
	fmt.Fprintln(w, titleStyle.Render("dashportd"))
	fmt.Fprintf(w, "  uptime            %s\n", st.Uptime)
	if st.Backend != "" {
		fmt.Fprintf(w, "  backend           %s\n", st.Backend)
	}
	fmt.Fprintf(w, "  browser sessions  %d\n", st.BrowserSessions)
	if run := st.ActiveRun; run != nil {
		fmt.Fprintf(w, "  active run        %s %s\n", shortID(run.ID), warnStyle.Render(fmt.Sprintf("%d/%d done", run.Completed+run.Failed, run.Total)))
	}
	if run := st.LastRun; run != nil {
		fmt.Fprintf(w, "  last run          %s %d ok, %d failed\n", shortID(run.ID), run.Completed, run.Failed)
	}
}

func status(s string) string {
	if s == string(export.StatusSuccess) {
		return okStyle.Render(s)
	}
	return failStyle.Render(s)
}

func cause(kind, msg string) string {
	switch {
	case msg == "":
		return kind
	case kind == "":
		return truncate(msg, 80)
	}
	return kind + ": " + truncate(msg, 80)
}

func attempts(m map[export.State]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
