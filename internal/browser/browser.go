// Package browser exposes the four automation operations the export
// pipeline needs on top of a retrying tool client. Backends live in the
// subpackages and all speak the Playwright MCP tool names.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adityalohuni/dashport/internal/snapshot"
	"github.com/adityalohuni/dashport/internal/toolcall"
)

const (
	ToolNavigate = "browser_navigate"
	ToolSnapshot = "browser_snapshot"
	ToolClick    = "browser_click"
	ToolEvaluate = "browser_evaluate"
)

// Backend is an automation capability that can be shut down.
type Backend interface {
	toolcall.Caller
	Close() error
}

// Snapshot is one accessibility snapshot with its parsed nodes.
type Snapshot struct {
	snapshot.Capture
	Nodes     []snapshot.Node
	Anomalies []snapshot.Anomaly
}

type NavigateResult struct {
	URL string `json:"url"`
}

type Options struct {
	Store  *snapshot.Store
	Logger *slog.Logger
}

// Automation is the navigate/snapshot/click/evaluate surface. It is not safe
// for concurrent use: the backend has a single current page.
type Automation struct {
	client *toolcall.Client
	store  *snapshot.Store
	log    *slog.Logger
}

func NewAutomation(client *toolcall.Client, opts Options) *Automation {
	if opts.Store == nil {
		opts.Store = snapshot.NewStore(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Automation{client: client, store: opts.Store, log: opts.Logger}
}

func (a *Automation) Store() *snapshot.Store { return a.store }

func (a *Automation) Navigate(ctx context.Context, url string) (NavigateResult, error) {
	res, err := a.client.Call(ctx, ToolNavigate, map[string]any{"url": url})
	if err != nil {
		return NavigateResult{}, err
	}
	out := NavigateResult{URL: PageURL(res.Payload)}
	if out.URL == "" {
		out.URL = url
	}
	return out, nil
}

// Snapshot takes a fresh snapshot. Parse anomalies are logged, never fatal.
func (a *Automation) Snapshot(ctx context.Context) (Snapshot, error) {
	res, err := a.client.Call(ctx, ToolSnapshot, map[string]any{})
	if err != nil {
		return Snapshot{}, err
	}
	nodes, anomalies := snapshot.ParseReport(res.Payload)
	snap := Snapshot{
		Capture: snapshot.Capture{
			URL:     PageURL(res.Payload),
			Raw:     res.Payload,
			TakenAt: time.Now().UTC(),
		},
		Nodes:     nodes,
		Anomalies: anomalies,
	}
	snap.ID = a.store.Put(snap.Capture)
	if len(anomalies) > 0 {
		a.log.Debug("snapshot has unrecognized lines", "snapshot", snap.ID, "count", len(anomalies), "first", anomalies[0].Text)
	}
	return snap, nil
}

// Click clicks the element ref from the latest snapshot. hint is its
// accessible name.
func (a *Automation) Click(ctx context.Context, ref, hint string) error {
	_, err := a.client.Call(ctx, ToolClick, map[string]any{"element": hint, "ref": ref})
	return err
}

// Evaluate runs a JavaScript function expression in the page and returns
// its result text.
func (a *Automation) Evaluate(ctx context.Context, function string) (string, error) {
	res, err := a.client.Call(ctx, ToolEvaluate, map[string]any{"function": function})
	if err != nil {
		return "", err
	}
	return ResultSection(res.Payload), nil
}

// EvaluateJSON is Evaluate decoding the result into out. A result that is
// itself a JSON string holding a document is unwrapped once.
func (a *Automation) EvaluateJSON(ctx context.Context, function string, out any) error {
	text, err := a.Evaluate(ctx, function)
	if err != nil {
		return err
	}
	data := []byte(strings.TrimSpace(text))
	var inner string
	if json.Unmarshal(data, &inner) == nil && strings.HasPrefix(strings.TrimSpace(inner), "{") {
		data = []byte(inner)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}
