// Package export drives one dashboard export after another: navigate,
// snapshot, find the row action, click through the export menu and
// reconcile the file that lands in the download directory.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adityalohuni/dashport/internal/browser"
	"github.com/adityalohuni/dashport/internal/dashboard"
	"github.com/adityalohuni/dashport/internal/failure"
	"github.com/adityalohuni/dashport/internal/progress"
	"github.com/adityalohuni/dashport/internal/reconcile"
	"github.com/adityalohuni/dashport/internal/resolve"
	"github.com/adityalohuni/dashport/internal/runlog"
	"github.com/adityalohuni/dashport/internal/toolcall"
)

const (
	StrategyDownload = "download"
	StrategyFetch    = "fetch"
)

// Browser is the automation surface the orchestrator needs.
// *browser.Automation implements it.
type Browser interface {
	Navigate(ctx context.Context, url string) (browser.NavigateResult, error)
	Snapshot(ctx context.Context) (browser.Snapshot, error)
	Click(ctx context.Context, ref, hint string) error
	EvaluateJSON(ctx context.Context, function string, out any) error
}

// DownloadDirSetter is implemented by backends that can redirect the
// browser's downloads.
type DownloadDirSetter interface {
	SetDownloadDir(ctx context.Context, dir string) error
}

// RunRecorder stores finished runs. *runlog.Store implements it.
type RunRecorder interface {
	Add(ctx context.Context, r runlog.Run) (runlog.Run, error)
}

type Options struct {
	// ListURL is the page listing the dashboards with their row actions.
	// Empty reuses the last page DiscoverLive visited.
	ListURL     string
	DownloadDir string
	// ActionLabel names the per-row button opening the export menu.
	ActionLabel string
	// ExportLabel and ExportRole identify the menu entry that starts the
	// download.
	ExportLabel string
	ExportRole  string
	// JobTimeout bounds one dashboard export. Default: 3m.
	JobTimeout time.Duration
	// JobRetries is how many times a state is re-entered after a transient
	// failure. Default: 2.
	JobRetries int
	// NotFoundRetries is how many times a missing reference sends the job
	// back to Navigating. Default: 1. Negative disables it.
	NotFoundRetries int
	Strategy        string
	// APIBase is the dashboard API root for the fetch strategy; the document
	// is read from APIBase/dashboards/<id>.
	APIBase   string
	Extractor *dashboard.Extractor
	// Reconciler defaults to one with a 60s timeout.
	Reconciler *reconcile.Reconciler
	Downloads  DownloadDirSetter
	Progress   *progress.Tracker
	RunLog     RunRecorder
	Creator    string
	Logger     *slog.Logger
	Now        func() time.Time
}

func (o *Options) defaults() {
	if o.ActionLabel == "" {
		o.ActionLabel = "Show options"
	}
	if o.ExportLabel == "" {
		o.ExportLabel = "Export to file"
	}
	if o.ExportRole == "" {
		o.ExportRole = "menuitem"
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 3 * time.Minute
	}
	if o.JobRetries <= 0 {
		o.JobRetries = 2
	}
	if o.NotFoundRetries == 0 {
		o.NotFoundRetries = 1
	} else if o.NotFoundRetries < 0 {
		o.NotFoundRetries = 0
	}
	if o.Strategy == "" {
		o.Strategy = StrategyDownload
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Extractor == nil {
		o.Extractor = dashboard.NewExtractor(dashboard.Options{Logger: o.Logger})
	}
	if o.Reconciler == nil {
		o.Reconciler = reconcile.New(reconcile.Options{Logger: o.Logger})
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Orchestrator runs exports strictly one at a time: the browser has a
// single current page.
type Orchestrator struct {
	browser Browser
	opts    Options

	// mu serializes browser work. listURL is written under both locks so
	// Discover can read it without waiting for a running export.
	mu      sync.Mutex
	urlMu   sync.RWMutex
	listURL string
}

func New(b Browser, opts Options) *Orchestrator {
	opts.defaults()
	return &Orchestrator{browser: b, opts: opts, listURL: opts.ListURL}
}

// Discover parses snapshotText and returns the dashboards visible to
// creatorFilter.
func Discover(snapshotText, creatorFilter string) []dashboard.Record {
	return dashboard.Discover(snapshotText, creatorFilter)
}

// Discover extracts the dashboards of a caller-supplied snapshot. Links the
// extractor left relative resolve against the list page.
func (o *Orchestrator) Discover(snapshotText, creatorFilter string) []dashboard.Record {
	records := o.opts.Extractor.Discover(snapshotText, creatorFilter)
	o.urlMu.RLock()
	base := o.listURL
	o.urlMu.RUnlock()
	resolveRelative(records, base)
	return records
}

func resolveRelative(records []dashboard.Record, base string) {
	if base == "" {
		return
	}
	for i := range records {
		if u, err := url.Parse(records[i].URL); err == nil && !u.IsAbs() {
			records[i].URL = dashboard.ResolveURL(base, records[i].URL)
		}
	}
}

// DiscoverLive opens listURL (or the configured list page), snapshots it and
// extracts its dashboards. Relative links resolve against the page URL.
func (o *Orchestrator) DiscoverLive(ctx context.Context, listURL, creatorFilter string) ([]dashboard.Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if listURL == "" {
		listURL = o.listURL
	}
	if listURL == "" {
		return nil, failure.Errorf(failure.KindToolPermanent, "discover", "no dashboard list URL configured")
	}
	nav, err := o.browser.Navigate(ctx, listURL)
	if err != nil {
		return nil, err
	}
	snap, err := o.browser.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	o.urlMu.Lock()
	o.listURL = listURL
	o.urlMu.Unlock()

	pageURL := firstNonEmpty(snap.URL, nav.URL, listURL)
	records := o.opts.Extractor.Extract(snap.Nodes, creatorFilter)
	resolveRelative(records, pageURL)
	o.opts.Logger.Info("dashboards discovered", "url", pageURL, "count", len(records), "creator", creatorFilter, "snapshot", snap.ID)
	return records, nil
}

// ExportAll exports records into outputDir. It returns one result per record
// in input order. The error is non-nil only when the run was aborted because
// the automation capability became unavailable; the remaining dashboards are
// then reported failed with kind aborted.
func (o *Orchestrator) ExportAll(ctx context.Context, records []dashboard.Record, outputDir string) ([]Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	runID := o.opts.Progress.Begin(uuid.NewString(), names)
	defer o.opts.Progress.Finish(runID)
	started := o.opts.Now()
	log := o.opts.Logger.With("run", runID)
	log.Info("export run started", "dashboards", len(records), "strategy", o.opts.Strategy, "output_dir", outputDir)

	var abortErr error
	if o.opts.Strategy == StrategyDownload && o.opts.Downloads != nil && o.opts.DownloadDir != "" {
		if err := o.opts.Downloads.SetDownloadDir(ctx, o.opts.DownloadDir); err != nil {
			if failure.Is(err, failure.KindUnavailable) || errors.Is(err, toolcall.ErrUnavailable) {
				abortErr = failure.New(failure.KindUnavailable, "set download dir", err)
			} else {
				log.Warn("download dir not applied", "dir", o.opts.DownloadDir, "error", err)
			}
		}
	}

	results := make([]Result, len(records))
	for i, rec := range records {
		if abortErr == nil && ctx.Err() != nil {
			abortErr = failure.New(failure.KindAborted, "export", ctx.Err())
		}
		if abortErr != nil {
			job := newJob(rec)
			job.State = Failed
			job.Err = failure.New(failure.KindAborted, "export", fmt.Errorf("run aborted: %v", abortErr))
			results[i] = job.result(0)
			o.publish(runID, i, job, true)
			continue
		}

		job := newJob(rec)
		jobStart := o.opts.Now()
		o.run(ctx, runID, i, job, outputDir)
		results[i] = job.result(o.opts.Now().Sub(jobStart))

		if failure.KindOf(job.Err) == failure.KindUnavailable {
			abortErr = job.Err
			log.Error("automation unavailable, aborting run", "dashboard", rec.Name, "error", job.Err)
		}
	}

	summary := Summarize(runID, results)
	log.Info("export run finished", "completed", summary.Completed, "failed", summary.Failed, "aborted", summary.Aborted, "elapsed", o.opts.Now().Sub(started))

	if o.opts.RunLog != nil {
		_, err := o.opts.RunLog.Add(context.WithoutCancel(ctx), runlog.Run{
			ID:         runID,
			Creator:    o.opts.Creator,
			OutputDir:  outputDir,
			StartedAt:  started.UTC(),
			FinishedAt: o.opts.Now().UTC(),
			Completed:  summary.Completed,
			Failed:     summary.Failed,
			Aborted:    summary.Aborted,
			Results:    toRunlog(results),
		})
		if err != nil {
			log.Warn("run not recorded", "error", err)
		}
	}

	if abortErr != nil {
		return results, failure.New(failure.KindAborted, "export", abortErr)
	}
	return results, nil
}

// run drives job to a terminal state under the per-job deadline.
func (o *Orchestrator) run(parent context.Context, runID string, index int, job *Job, outputDir string) {
	ctx, cancel := context.WithTimeout(parent, o.opts.JobTimeout)
	defer cancel()

	rec := job.Dashboard
	log := o.opts.Logger.With("run", runID, "dashboard", rec.Name, "id", rec.ID)
	req := reconcile.Request{DashboardID: rec.ID, Name: rec.Name, OutputDir: outputDir}
	st := &jobScratch{}
	notFoundLeft := o.opts.NotFoundRetries

	job.State = Navigating
	for !job.State.Terminal() {
		state := job.State
		job.Attempts[state]++
		o.publish(runID, index, job, false)
		log.Debug("job state", "state", state, "attempt", job.Attempts[state])

		next, err := o.step(ctx, job, st, &req)
		if err == nil {
			job.State = next
			continue
		}

		kind := failure.KindOf(err)
		switch {
		case ctx.Err() != nil && parent.Err() == nil:
			job.Err = failure.New(failure.KindTimeout, string(state), fmt.Errorf("job exceeded %s: %w", o.opts.JobTimeout, err))
			job.State = Failed
		case ctx.Err() != nil:
			job.Err = failure.New(failure.KindAborted, string(state), err)
			job.State = Failed
		case kind == failure.KindReferenceNotFound && notFoundLeft > 0:
			notFoundLeft--
			log.Info("reference not found, re-navigating", "state", state, "error", err)
			job.State = Navigating
		case kind.Retryable() && kind != failure.KindReferenceNotFound && job.Attempts[state] <= o.opts.JobRetries:
			log.Warn("transient failure, retrying state", "state", state, "attempt", job.Attempts[state], "error", err)
		default:
			job.Err = err
			job.State = Failed
		}
	}

	if job.State == Completed {
		log.Info("dashboard exported", "path", job.ResultPath, "attempts", job.Attempts)
	} else {
		log.Warn("dashboard export failed", "kind", failure.KindOf(job.Err), "error", job.Err)
	}
	o.publish(runID, index, job, true)
}

// jobScratch carries values between states of one job.
type jobScratch struct {
	snap      browser.Snapshot
	action    resolve.Target
	candidate reconcile.Candidate
	document  []byte
	// invoked is set once Invoking has clicked; refs resolved before that
	// click are stale.
	invoked bool
}

func (o *Orchestrator) step(ctx context.Context, job *Job, st *jobScratch, req *reconcile.Request) (State, error) {
	if o.opts.Strategy == StrategyFetch {
		return o.fetchStep(ctx, job, st, req)
	}

	rec := job.Dashboard
	switch job.State {
	case Navigating:
		if o.listURL == "" {
			return Snapshotting, nil
		}
		if _, err := o.browser.Navigate(ctx, o.listURL); err != nil {
			return "", err
		}
		return Snapshotting, nil

	case Snapshotting:
		snap, err := o.freshSnapshot(ctx)
		if err != nil {
			return "", err
		}
		st.snap = snap
		return ResolvingAction, nil

	case ResolvingAction:
		target, err := resolve.Action(st.snap.Nodes, rec, o.opts.ActionLabel)
		if err != nil {
			return "", err
		}
		st.action = target
		st.invoked = false
		return Invoking, nil

	case Invoking:
		// A retry never reuses refs from before the failed attempt. When the
		// menu is still open its entry is clicked directly; clicking the row
		// action again would close it.
		if st.invoked {
			snap, err := o.freshSnapshot(ctx)
			if err != nil {
				return "", err
			}
			st.snap = snap
			if item, err := resolve.Global(snap.Nodes, o.opts.ExportRole, o.opts.ExportLabel); err == nil {
				return o.clickExport(ctx, job, req, item)
			}
			target, err := resolve.Action(snap.Nodes, rec, o.opts.ActionLabel)
			if err != nil {
				return "", err
			}
			st.action = target
		}
		st.invoked = true
		if err := o.browser.Click(ctx, st.action.Ref, st.action.Name); err != nil {
			return "", err
		}
		menu, err := o.freshSnapshot(ctx)
		if err != nil {
			return "", err
		}
		item, err := resolve.Global(menu.Nodes, o.opts.ExportRole, o.opts.ExportLabel)
		if err != nil {
			return "", err
		}
		return o.clickExport(ctx, job, req, item)

	case AwaitingDownload:
		c, err := o.opts.Reconciler.Await(ctx, *req, o.opts.DownloadDir)
		job.DownloadWindowEnd = o.opts.Now()
		if err != nil {
			return "", err
		}
		st.candidate = c
		return Reconciling, nil

	case Reconciling:
		path, err := o.opts.Reconciler.Persist(st.candidate, *req)
		if err != nil {
			return "", failure.New(failure.KindToolPermanent, "persist", err)
		}
		job.ResultPath = path
		return Completed, nil
	}
	return "", fmt.Errorf("export: no transition from %s", job.State)
}

// clickExport opens the download window and clicks the export menu entry.
func (o *Orchestrator) clickExport(ctx context.Context, job *Job, req *reconcile.Request, item resolve.Target) (State, error) {
	job.DownloadWindowStart = o.opts.Now()
	req.WindowStart = job.DownloadWindowStart
	if err := o.browser.Click(ctx, item.Ref, item.Name); err != nil {
		return "", err
	}
	return AwaitingDownload, nil
}

// freshSnapshot takes a snapshot and treats an empty tree as a parse anomaly
// worth another try: the page was most likely still rendering.
func (o *Orchestrator) freshSnapshot(ctx context.Context) (browser.Snapshot, error) {
	snap, err := o.browser.Snapshot(ctx)
	if err != nil {
		return browser.Snapshot{}, err
	}
	if len(snap.Nodes) == 0 {
		return browser.Snapshot{}, failure.Errorf(failure.KindParseAnomaly, "snapshot", "snapshot has no recognizable nodes")
	}
	return snap, nil
}

func (o *Orchestrator) publish(runID string, index int, job *Job, final bool) {
	ev := progress.Event{
		RunID:   runID,
		Index:   index,
		Name:    job.Dashboard.Name,
		State:   string(job.State),
		Attempt: job.Attempts[job.State],
		Path:    job.ResultPath,
		Final:   final,
	}
	if final && job.State != Completed {
		ev.State = string(Failed)
		if job.Err != nil {
			ev.Error = job.Err.Error()
			ev.Kind = string(failure.KindOf(job.Err))
		} else {
			ev.Error = "failed"
		}
	}
	o.opts.Progress.Publish(ev)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
