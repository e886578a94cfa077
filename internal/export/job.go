package export

import (
	"time"

	"github.com/adityalohuni/dashport/internal/dashboard"
	"github.com/adityalohuni/dashport/internal/failure"
	"github.com/adityalohuni/dashport/internal/runlog"
)

type State string

const (
	Pending          State = "pending"
	Navigating       State = "navigating"
	Snapshotting     State = "snapshotting"
	ResolvingAction  State = "resolving_action"
	Invoking         State = "invoking"
	AwaitingDownload State = "awaiting_download"
	Reconciling      State = "reconciling"
	Completed        State = "completed"
	Failed           State = "failed"
)

func (s State) Terminal() bool { return s == Completed || s == Failed }

// Job is the state of one dashboard export. Only the orchestrator mutates it.
type Job struct {
	Dashboard           dashboard.Record
	State               State
	Attempts            map[State]int
	DownloadWindowStart time.Time
	DownloadWindowEnd   time.Time
	ResultPath          string
	Err                 error
}

func newJob(rec dashboard.Record) *Job {
	return &Job{Dashboard: rec, State: Pending, Attempts: make(map[State]int)}
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result is the outcome reported for one dashboard.
type Result struct {
	Name     string        `json:"name" yaml:"name"`
	URL      string        `json:"url" yaml:"url"`
	ID       string        `json:"id" yaml:"id"`
	Status   Status        `json:"status" yaml:"status"`
	Path     string        `json:"path,omitempty" yaml:"path,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Kind     failure.Kind  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Attempts map[State]int `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Elapsed  time.Duration `json:"elapsed" yaml:"elapsed"`
}

func (j *Job) result(elapsed time.Duration) Result {
	r := Result{
		Name:     j.Dashboard.Name,
		URL:      j.Dashboard.URL,
		ID:       j.Dashboard.ID,
		Attempts: j.Attempts,
		Elapsed:  elapsed,
	}
	if j.State == Completed {
		r.Status = StatusSuccess
		r.Path = j.ResultPath
		return r
	}
	r.Status = StatusFailed
	if j.Err != nil {
		r.Error = j.Err.Error()
		r.Kind = failure.KindOf(j.Err)
	}
	return r
}

// FailureInfo is one failed dashboard in a Summary.
type FailureInfo struct {
	Name  string       `json:"name" yaml:"name"`
	Kind  failure.Kind `json:"kind" yaml:"kind"`
	Cause string       `json:"cause" yaml:"cause"`
}

type Summary struct {
	RunID     string        `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Total     int           `json:"total" yaml:"total"`
	Completed int           `json:"completed" yaml:"completed"`
	Failed    int           `json:"failed" yaml:"failed"`
	Aborted   bool          `json:"aborted" yaml:"aborted"`
	Failures  []FailureInfo `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Summarize counts results and lists every failure with its kind.
func Summarize(runID string, results []Result) Summary {
	s := Summary{RunID: runID, Total: len(results)}
	for _, r := range results {
		if r.Status == StatusSuccess {
			s.Completed++
			continue
		}
		s.Failed++
		if r.Kind == failure.KindAborted {
			s.Aborted = true
		}
		s.Failures = append(s.Failures, FailureInfo{Name: r.Name, Kind: r.Kind, Cause: r.Error})
	}
	return s
}

func toRunlog(results []Result) []runlog.JobResult {
	out := make([]runlog.JobResult, 0, len(results))
	for _, r := range results {
		attempts := make(map[string]int, len(r.Attempts))
		for st, n := range r.Attempts {
			attempts[string(st)] = n
		}
		out = append(out, runlog.JobResult{
			Name:        r.Name,
			URL:         r.URL,
			DashboardID: r.ID,
			Status:      string(r.Status),
			Path:        r.Path,
			Error:       r.Error,
			Kind:        string(r.Kind),
			Attempts:    attempts,
		})
	}
	return out
}
