// Package reconcile matches a file appearing in a download directory to the
// export request that caused it. Files are identified by the id their
// content declares, never by name or arrival order.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/adityalohuni/dashport/internal/dashboard"
	"github.com/adityalohuni/dashport/internal/failure"
)

type State int

const (
	Watching State = iota
	Scanning
	Verifying
	Matched
	Unmatched
)

func (s State) String() string {
	switch s {
	case Watching:
		return "watching"
	case Scanning:
		return "scanning"
	case Verifying:
		return "verifying"
	case Matched:
		return "matched"
	case Unmatched:
		return "unmatched"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// TimestampLayout is the ISO 8601 basic form used in output file names.
const TimestampLayout = "20060102T150405Z"

// Request identifies the download being waited for.
type Request struct {
	DashboardID string
	Name        string
	// WindowStart is when the triggering click was issued. Zero means now.
	WindowStart time.Time
	OutputDir   string
}

type Options struct {
	// PollInterval bounds how long a new file can go unnoticed. Default: 500ms.
	PollInterval time.Duration
	// Timeout bounds one reconciliation. Default: 60s.
	Timeout time.Duration
	// Skew widens the window backwards to absorb coarse file timestamps.
	// Default: 2s. Negative disables it.
	Skew    time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
	OnState func(State)
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.Skew < 0 {
		o.Skew = 0
	} else if o.Skew == 0 {
		o.Skew = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Reconciler struct {
	opts Options
}

func New(opts Options) *Reconciler {
	opts.defaults()
	return &Reconciler{opts: opts}
}

// Reconcile waits for the file matching req in dir and moves it into
// req.OutputDir. It returns the final path.
func (r *Reconciler) Reconcile(ctx context.Context, req Request, dir string) (string, error) {
	c, err := r.Await(ctx, req, dir)
	if err != nil {
		return "", err
	}
	return r.Persist(c, req)
}

// Await watches dir until a file declaring req.DashboardID appears inside
// the window. Files declaring another id are skipped and left in place.
func (r *Reconciler) Await(ctx context.Context, req Request, dir string) (Candidate, error) {
	log := r.opts.Logger.With("dashboard_id", req.DashboardID, "dir", dir)
	start := req.WindowStart
	if start.IsZero() {
		start = r.opts.Now()
	}
	threshold := start.Add(-r.opts.Skew)

	wctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	r.setState(Watching)
	events := r.watch(dir, log)
	if events != nil {
		defer events.Close()
	}

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	rejected := map[fileKey]bool{}
	mismatches := 0
	for {
		r.setState(Scanning)
		found, err := scan(dir, threshold, rejected)
		if err != nil {
			log.Warn("reconcile: scan failed", "error", err)
		}
		if len(found) > 0 {
			r.setState(Verifying)
		}
		for _, c := range found {
			id, err := DeclaredID(c.Path)
			switch {
			case errors.Is(err, ErrNoDeclaredID):
				rejected[c.key()] = true
				mismatches++
				log.Info("reconcile: candidate declares no id", "path", c.Path)
			case err != nil:
				log.Debug("reconcile: candidate not readable yet", "path", c.Path, "error", err)
			case id == req.DashboardID:
				c.DeclaredID = id
				r.setState(Matched)
				log.Info("reconcile: matched", "path", c.Path)
				return c, nil
			default:
				rejected[c.key()] = true
				mismatches++
				log.Info("reconcile: candidate belongs to another dashboard", "path", c.Path, "declared_id", id)
			}
		}

		r.setState(Watching)
		if err := r.wait(wctx, ticker, events); err != nil {
			r.setState(Unmatched)
			if ctx.Err() != nil {
				return Candidate{}, failure.New(failure.KindTimeout, "reconcile", ctx.Err())
			}
			if mismatches > 0 {
				return Candidate{}, failure.Errorf(failure.KindReconciliationMismatch, "reconcile",
					"no file declaring %q within %s (%d other candidate(s) skipped)", req.DashboardID, r.opts.Timeout, mismatches)
			}
			return Candidate{}, failure.Errorf(failure.KindReconciliationTimeout, "reconcile",
				"no file declaring %q within %s", req.DashboardID, r.opts.Timeout)
		}
	}
}

func (r *Reconciler) setState(s State) {
	if r.opts.OnState != nil {
		r.opts.OnState(s)
	}
}

// watch returns an fsnotify watcher on dir, or nil when one cannot be set
// up; polling still covers that case.
func (r *Reconciler) watch(dir string, log *slog.Logger) *fsnotify.Watcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debug("reconcile: fsnotify unavailable, polling only", "error", err)
		return nil
	}
	if err := w.Add(dir); err != nil {
		log.Debug("reconcile: cannot watch dir, polling only", "error", err)
		_ = w.Close()
		return nil
	}
	return w
}

func (r *Reconciler) wait(ctx context.Context, ticker *time.Ticker, w *fsnotify.Watcher) error {
	var (
		evs  <-chan fsnotify.Event
		errs <-chan error
	)
	if w != nil {
		evs, errs = w.Events, w.Errors
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			return nil
		case ev, ok := <-evs:
			if !ok {
				evs = nil
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) {
				return nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.opts.Logger.Debug("reconcile: watcher error", "error", err)
		}
	}
}

// scan lists complete files in dir modified at or after threshold and not
// already rejected, oldest first.
func scan(dir string, threshold time.Time, rejected map[fileKey]bool) ([]Candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, e := range entries {
		if e.IsDir() || isPartial(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		c := Candidate{
			Path:       filepath.Join(dir, e.Name()),
			ModifiedAt: info.ModTime(),
			Size:       info.Size(),
		}
		if c.ModifiedAt.Before(threshold) || rejected[c.key()] {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].Path < out[j].Path
		}
		return out[i].ModifiedAt.Before(out[j].ModifiedAt)
	})
	return out, nil
}

// Persist moves c into req.OutputDir under a collision-free name derived
// from the dashboard name.
func (r *Reconciler) Persist(c Candidate, req Request) (string, error) {
	dest, err := r.destination(req)
	if err != nil {
		return "", err
	}
	if err := moveFile(c.Path, dest); err != nil {
		return "", fmt.Errorf("move %s: %w", c.Path, err)
	}
	r.opts.Logger.Info("reconcile: persisted", "dashboard_id", req.DashboardID, "path", dest)
	return dest, nil
}

// PersistBytes writes data into req.OutputDir with the same naming rules as
// Persist. It serves exports that never touch the download directory.
func (r *Reconciler) PersistBytes(data []byte, req Request) (string, error) {
	dest, err := r.destination(req)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	r.opts.Logger.Info("reconcile: persisted", "dashboard_id", req.DashboardID, "path", dest)
	return dest, nil
}

func (r *Reconciler) destination(req Request) (string, error) {
	dir := req.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	base := dashboard.SanitizeName(req.Name) + "-" + r.opts.Now().UTC().Format(TimestampLayout)
	return uniquePath(dir, base, ".json"), nil
}

func uniquePath(dir, base, ext string) string {
	p := filepath.Join(dir, base+ext)
	for n := 2; exists(p); n++ {
		p = filepath.Join(dir, base+"-"+strconv.Itoa(n)+ext)
	}
	return p
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

// moveFile renames src to dst, copying when the rename crosses devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	_ = in.Close()
	return os.Remove(src)
}
