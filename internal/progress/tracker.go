// Package progress keeps the live view of export runs: which job is in
// which state. The TUI, the admin status endpoint and the MCP server read it.
package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one job state transition.
type Event struct {
	RunID   string    `json:"run_id"`
	Index   int       `json:"index"`
	Name    string    `json:"name"`
	State   string    `json:"state"`
	Attempt int       `json:"attempt"`
	Path    string    `json:"path,omitempty"`
	Error   string    `json:"error,omitempty"`
	Kind    string    `json:"kind,omitempty"`
	Final   bool      `json:"final,omitempty"`
	At      time.Time `json:"at"`
}

type JobInfo struct {
	Index     int       `json:"index"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Attempt   int       `json:"attempt"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Final     bool      `json:"final"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RunInfo struct {
	ID         string     `json:"id"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Jobs       []JobInfo  `json:"jobs"`
}

func (r RunInfo) Active() bool { return r.FinishedAt == nil }

type Tracker struct {
	mu     sync.RWMutex
	runs   map[string]*RunInfo
	latest string
	subs   map[int]chan Event
	nextID int
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		runs: make(map[string]*RunInfo),
		subs: make(map[int]chan Event),
		now:  time.Now,
	}
}

// Begin registers a run with its job names and returns its id. An empty id
// gets a fresh one.
func (t *Tracker) Begin(id string, names []string) string {
	if t == nil {
		return id
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	now := t.now()
	run := &RunInfo{ID: id, Total: len(names), StartedAt: now, Jobs: make([]JobInfo, len(names))}
	for i, n := range names {
		run.Jobs[i] = JobInfo{Index: i, Name: n, State: "pending", UpdatedAt: now}
	}
	t.runs[id] = run
	t.latest = id
	return id
}

// Publish records ev on its run and fans it out to subscribers. Slow
// subscribers miss events rather than block the run.
func (t *Tracker) Publish(ev Event) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if ev.At.IsZero() {
		ev.At = t.now()
	}
	if run, ok := t.runs[ev.RunID]; ok && ev.Index >= 0 && ev.Index < len(run.Jobs) {
		job := &run.Jobs[ev.Index]
		wasFinal := job.Final
		job.State = ev.State
		job.Attempt = ev.Attempt
		job.Path = ev.Path
		job.Error = ev.Error
		job.Kind = ev.Kind
		job.Final = ev.Final
		job.UpdatedAt = ev.At
		if ev.Final && !wasFinal {
			if ev.Error == "" {
				run.Completed++
			} else {
				run.Failed++
			}
		}
	}
	// Sends stay under the lock so a cancel cannot close a channel
	// mid-send. They never block.
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	t.mu.Unlock()
}

func (t *Tracker) Finish(id string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if run, ok := t.runs[id]; ok && run.FinishedAt == nil {
		now := t.now()
		run.FinishedAt = &now
	}
}

// Subscribe returns a channel of events and a func that cancels it.
func (t *Tracker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			close(ch)
			t.mu.Unlock()
		})
	}
}

func (t *Tracker) Get(id string) (RunInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[id]
	if !ok {
		return RunInfo{}, false
	}
	return clone(run), true
}

// Latest returns the most recently begun run.
func (t *Tracker) Latest() (RunInfo, bool) {
	t.mu.RLock()
	id := t.latest
	t.mu.RUnlock()
	if id == "" {
		return RunInfo{}, false
	}
	return t.Get(id)
}

// List returns all known runs, newest first.
func (t *Tracker) List() []RunInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RunInfo, 0, len(t.runs))
	for _, r := range t.runs {
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Prune forgets finished runs older than maxIdle.
func (t *Tracker) Prune(maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	cutoff := t.now().Add(-maxIdle)
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, r := range t.runs {
		if r.FinishedAt != nil && r.FinishedAt.Before(cutoff) {
			delete(t.runs, id)
			if t.latest == id {
				t.latest = ""
			}
		}
	}
}

func clone(r *RunInfo) RunInfo {
	out := *r
	out.Jobs = append([]JobInfo(nil), r.Jobs...)
	if r.FinishedAt != nil {
		f := *r.FinishedAt
		out.FinishedAt = &f
	}
	return out
}
