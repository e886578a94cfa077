// Package admin serves the daemon's read-mostly admin API: uptime, live
// export progress, stored runs and connected browser extensions.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/adityalohuni/dashport/internal/config"
	"github.com/adityalohuni/dashport/internal/progress"
	"github.com/adityalohuni/dashport/internal/runlog"
	"github.com/adityalohuni/dashport/internal/wsbridge"
)

type Status struct {
	Uptime          string            `json:"uptime"`
	Backend         string            `json:"backend,omitempty"`
	BrowserSessions int               `json:"browser_sessions"`
	ActiveRun       *progress.RunInfo `json:"active_run,omitempty"`
	LastRun         *runlog.Run       `json:"last_run,omitempty"`
}

// Sessions is the bridge view the handlers need. *wsbridge.Bridge implements it.
type Sessions interface {
	Count() int
	ListSessions() []wsbridge.SessionInfo
	DisconnectSession(id string) bool
}

// Runs reads stored runs. *runlog.Store implements it.
type Runs interface {
	List(ctx context.Context, limit int) ([]runlog.Run, error)
	Get(ctx context.Context, id string) (runlog.Run, error)
	Latest(ctx context.Context) (runlog.Run, error)
}

type Handlers struct {
	StartedAt time.Time
	Settings  config.Settings
	Bridge    Sessions
	Progress  *progress.Tracker
	Runs      Runs
	// MaxIdle drops finished progress entries older than this on each
	// status read. Zero keeps them.
	MaxIdle time.Duration
}

// Routes mounts the admin endpoints on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/status", h.Status)
	r.Get("/progress", h.ProgressList)
	r.Get("/runs", h.RunsList)
	r.Get("/runs/{id}", h.RunGet)
	r.Get("/browsers", h.BrowsersList)
	r.Post("/browsers/{id}/disconnect", h.DisconnectBrowser)
	r.Get("/config", h.ConfigGet)
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	h.prune()
	resp := Status{
		Uptime:  time.Since(h.StartedAt).Round(time.Second).String(),
		Backend: h.Settings.Browser.Backend,
	}
	if h.Bridge != nil {
		resp.BrowserSessions = h.Bridge.Count()
	}
	if h.Progress != nil {
		if run, ok := h.Progress.Latest(); ok && run.Active() {
			resp.ActiveRun = &run
		}
	}
	if h.Runs != nil {
		if run, err := h.Runs.Latest(r.Context()); err == nil {
			resp.LastRun = &run
		} else if !errors.Is(err, runlog.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) ProgressList(w http.ResponseWriter, _ *http.Request) {
	if h.Progress == nil {
		writeJSON(w, http.StatusOK, []progress.RunInfo{})
		return
	}
	writeJSON(w, http.StatusOK, h.Progress.List())
}

func (h *Handlers) RunsList(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		http.Error(w, "run log not configured", http.StatusServiceUnavailable)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := h.Runs.List(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []runlog.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handlers) RunGet(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		http.Error(w, "run log not configured", http.StatusServiceUnavailable)
		return
	}
	run, err := h.Runs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, runlog.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handlers) BrowsersList(w http.ResponseWriter, _ *http.Request) {
	if h.Bridge == nil {
		writeJSON(w, http.StatusOK, []wsbridge.SessionInfo{})
		return
	}
	sessions := h.Bridge.ListSessions()
	if sessions == nil {
		sessions = []wsbridge.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) DisconnectBrowser(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	if h.Bridge == nil || !h.Bridge.DisconnectSession(id) {
		http.Error(w, "browser session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

// ConfigGet returns the effective settings with both tokens masked.
func (h *Handlers) ConfigGet(w http.ResponseWriter, _ *http.Request) {
	s := h.Settings
	s.Daemon.MCPToken = mask(s.Daemon.MCPToken)
	s.Daemon.AdminToken = mask(s.Daemon.AdminToken)
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) prune() {
	if h.MaxIdle > 0 && h.Progress != nil {
		h.Progress.Prune(h.MaxIdle)
	}
}

func mask(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-4)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(value)
}
