package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adityalohuni/dashport/internal/failure"
	"github.com/adityalohuni/dashport/internal/reconcile"
)

// ExporterVersion is stamped into the _metadata block of fetched documents.
const ExporterVersion = "1.0.0"

// Metadata is prepended to documents exported with the fetch strategy.
type Metadata struct {
	ExportedAt      string `json:"exportedAt"`
	SourceURL       string `json:"sourceUrl"`
	DashboardID     string `json:"dashboardId"`
	ExporterVersion string `json:"exporterVersion"`
}

// fetchStep exports through the dashboard API from inside the authenticated
// page: Navigating opens the dashboard, Invoking fetches its document and
// Reconciling verifies and writes it.
func (o *Orchestrator) fetchStep(ctx context.Context, job *Job, st *jobScratch, req *reconcile.Request) (State, error) {
	rec := job.Dashboard
	switch job.State {
	case Navigating:
		if _, err := o.browser.Navigate(ctx, rec.URL); err != nil {
			return "", err
		}
		return Invoking, nil

	case Invoking:
		apiURL, err := o.apiURL(rec.URL, rec.ID)
		if err != nil {
			return "", err
		}
		job.DownloadWindowStart = o.opts.Now()
		var raw json.RawMessage
		if err := o.browser.EvaluateJSON(ctx, fetchScript(apiURL), &raw); err != nil {
			return "", err
		}
		job.DownloadWindowEnd = o.opts.Now()
		st.document = raw
		return Reconciling, nil

	case Reconciling:
		data, err := enrich(st.document, rec.URL, rec.ID, o.opts.Now())
		if err != nil {
			return "", err
		}
		path, err := o.opts.Reconciler.PersistBytes(data, *req)
		if err != nil {
			return "", failure.New(failure.KindToolPermanent, "persist", err)
		}
		job.ResultPath = path
		return Completed, nil
	}
	return "", fmt.Errorf("export: no fetch transition from %s", job.State)
}

func (o *Orchestrator) apiURL(dashboardURL, id string) (string, error) {
	base := strings.TrimRight(o.opts.APIBase, "/")
	if base == "" {
		return "", failure.Errorf(failure.KindToolPermanent, "fetch", "no API base configured for %s", dashboardURL)
	}
	if id == "" {
		return "", failure.Errorf(failure.KindToolPermanent, "fetch", "dashboard URL %s has no id", dashboardURL)
	}
	return base + "/dashboards/" + id, nil
}

// fetchScript returns a function expression for browser_evaluate. The
// document comes back as a JSON string so no tool reformats it.
func fetchScript(apiURL string) string {
	quoted, _ := json.Marshal(apiURL)
	return `async () => {
  const response = await fetch(` + string(quoted) + `, { credentials: "include" });
  if (!response.ok) {
    throw new Error("API request failed: " + response.status + " " + response.statusText);
  }
  return JSON.stringify(await response.json());
}`
}

// enrich verifies the document's declared id against id and adds the
// _metadata block. A document declaring another dashboard is a mismatch.
func enrich(doc []byte, sourceURL, id string, now time.Time) ([]byte, error) {
	declared, err := reconcile.DeclaredIDFromBytes(doc)
	switch {
	case errors.Is(err, reconcile.ErrNoDeclaredID):
	case err != nil:
		return nil, failure.New(failure.KindParseAnomaly, "fetch", fmt.Errorf("document is not a JSON object: %w", err))
	case declared != id:
		return nil, failure.Errorf(failure.KindReconciliationMismatch, "fetch", "document declares %q, expected %q", declared, id)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, failure.New(failure.KindParseAnomaly, "fetch", err)
	}
	if _, hasName := fields["name"]; !hasName {
		if _, hasTiles := fields["tiles"]; !hasTiles {
			return nil, failure.Errorf(failure.KindToolPermanent, "fetch", "document has neither name nor tiles")
		}
	}
	meta, err := json.Marshal(Metadata{
		ExportedAt:      now.UTC().Format(time.RFC3339),
		SourceURL:       sourceURL,
		DashboardID:     id,
		ExporterVersion: ExporterVersion,
	})
	if err != nil {
		return nil, err
	}
	fields["_metadata"] = meta
	return json.MarshalIndent(fields, "", "  ")
}
