// Package runlog keeps the history of export runs in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("run not found")

type JobResult struct {
	Name        string         `json:"name"`
	URL         string         `json:"url"`
	DashboardID string         `json:"dashboard_id,omitempty"`
	Status      string         `json:"status"`
	Path        string         `json:"path,omitempty"`
	Error       string         `json:"error,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	Attempts    map[string]int `json:"attempts,omitempty"`
}

type Run struct {
	ID         string      `json:"id"`
	Creator    string      `json:"creator,omitempty"`
	OutputDir  string      `json:"output_dir"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Completed  int         `json:"completed"`
	Failed     int         `json:"failed"`
	Aborted    bool        `json:"aborted"`
	Results    []JobResult `json:"results"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	creator     TEXT NOT NULL DEFAULT '',
	output_dir  TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	completed   INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	aborted     INTEGER NOT NULL DEFAULT 0,
	results     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started ON runs(started_at);
`

type Store struct {
	db *sql.DB
}

// Open opens (creating when needed) the run log at path. ":memory:" gives a
// private in-memory store.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create runlog dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open runlog %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init runlog schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Add stores r, assigning an id and start time when missing.
func (s *Store) Add(ctx context.Context, r Run) (Run, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	results, err := json.Marshal(r.Results)
	if err != nil {
		return Run{}, fmt.Errorf("encode results: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, creator, output_dir, started_at, finished_at, completed, failed, aborted, results)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			completed = excluded.completed,
			failed = excluded.failed,
			aborted = excluded.aborted,
			results = excluded.results`,
		r.ID, r.Creator, r.OutputDir,
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
		r.Completed, r.Failed, boolInt(r.Aborted), string(results))
	if err != nil {
		return Run{}, fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return r, nil
}

func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// List returns up to limit runs, newest first. limit <= 0 means 50.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Latest(ctx context.Context) (Run, error) {
	runs, err := s.List(ctx, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNotFound
	}
	return runs[0], nil
}

// Compact keeps the newest limit runs and deletes the rest. limit <= 0
// means 1000.
func (s *Store) Compact(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?
		)`, limit)
	if err != nil {
		return 0, fmt.Errorf("compact runs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const selectRuns = `SELECT id, creator, output_dir, started_at, finished_at, completed, failed, aborted, results FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                 Run
		started, finished int64
		aborted           int
		results           string
	)
	if err := sc.Scan(&r.ID, &r.Creator, &r.OutputDir, &started, &finished, &r.Completed, &r.Failed, &aborted, &results); err != nil {
		return Run{}, err
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	r.FinishedAt = time.UnixMilli(finished).UTC()
	r.Aborted = aborted != 0
	if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
		return Run{}, fmt.Errorf("decode results of run %s: %w", r.ID, err)
	}
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
