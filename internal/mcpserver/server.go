// Package mcpserver exposes discovery and export as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adityalohuni/dashport/internal/dashboard"
	"github.com/adityalohuni/dashport/internal/export"
	"github.com/adityalohuni/dashport/internal/reconcile"
	"github.com/adityalohuni/dashport/internal/runlog"
	"github.com/adityalohuni/dashport/internal/snapshot"
)

const (
	latestSnapshotURI = "dashport://snapshot/latest"
	latestRunURI      = "dashport://runs/latest"
)

// Exporter is the slice of *export.Orchestrator the tools call.
type Exporter interface {
	Discover(snapshotText, creatorFilter string) []dashboard.Record
	DiscoverLive(ctx context.Context, listURL, creatorFilter string) ([]dashboard.Record, error)
	ExportAll(ctx context.Context, records []dashboard.Record, outputDir string) ([]export.Result, error)
}

// RunSource reads stored runs. *runlog.Store implements it.
type RunSource interface {
	Latest(ctx context.Context) (runlog.Run, error)
}

type Options struct {
	Implementation *mcp.Implementation
	Instructions   string
	// Creator is used when a call names no creator filter.
	Creator string
	// OutputDir is used when export_all names no output directory.
	OutputDir string
	Logger    *slog.Logger
}

type Server struct {
	mcpServer *mcp.Server
	exporter  Exporter
	snapshots *snapshot.Store
	runs      RunSource
	opts      Options
}

// New registers the dashboard tools and resources. snapshots and runs may be
// nil; their resources then report not found.
func New(exporter Exporter, snapshots *snapshot.Store, runs RunSource, opts Options) *Server {
	impl := opts.Implementation
	if impl == nil {
		impl = &mcp.Implementation{Name: "dashport", Version: "v0.1.0"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "exports"
	}
	server := mcp.NewServer(impl, &mcp.ServerOptions{Instructions: opts.Instructions})
	s := &Server{mcpServer: server, exporter: exporter, snapshots: snapshots, runs: runs, opts: opts}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dashboards.discover",
		Description: "List dashboards from an accessibility snapshot, or from the live dashboard list page when no snapshot is given.",
	}, s.discover)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dashboards.export_all",
		Description: "Export dashboards one at a time into a directory and report a result per dashboard.",
	}, s.exportAll)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dashboards.inspect",
		Description: "Read the dashboard id declared by an exported file.",
	}, s.inspect)

	server.AddResource(&mcp.Resource{
		Name:        "snapshot_latest",
		Description: "The most recent raw accessibility snapshot.",
		URI:         latestSnapshotURI,
		MIMEType:    "text/plain",
	}, s.readLatestSnapshot)

	server.AddResource(&mcp.Resource{
		Name:        "runs_latest",
		Description: "The most recent export run with per-dashboard results.",
		URI:         latestRunURI,
		MIMEType:    "application/json",
	}, s.readLatestRun)

	return s
}

func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

type DiscoverInput struct {
	Snapshot string `json:"snapshot,omitempty" jsonschema:"accessibility snapshot text of the dashboard list; omit to read the live page"`
	ListURL  string `json:"listUrl,omitempty" jsonschema:"dashboard list page to open when no snapshot is given"`
	Creator  string `json:"creator,omitempty" jsonschema:"creator filter; empty keeps every dashboard"`
}

type DiscoverOutput struct {
	Count      int                `json:"count"`
	Dashboards []dashboard.Record `json:"dashboards"`
}

func (s *Server) discover(ctx context.Context, _ *mcp.CallToolRequest, input DiscoverInput) (*mcp.CallToolResult, DiscoverOutput, error) {
	creator := firstNonEmpty(input.Creator, s.opts.Creator)
	var records []dashboard.Record
	if strings.TrimSpace(input.Snapshot) != "" {
		records = s.exporter.Discover(input.Snapshot, creator)
	} else {
		var err error
		records, err = s.exporter.DiscoverLive(ctx, input.ListURL, creator)
		if err != nil {
			return nil, DiscoverOutput{}, err
		}
	}
	if records == nil {
		records = []dashboard.Record{}
	}
	return nil, DiscoverOutput{Count: len(records), Dashboards: records}, nil
}

type ExportInput struct {
	Dashboards []dashboard.Record `json:"dashboards,omitempty" jsonschema:"dashboards to export; omit to discover them from the live list page"`
	Creator    string             `json:"creator,omitempty" jsonschema:"creator filter used when discovering"`
	OutputDir  string             `json:"outputDir,omitempty" jsonschema:"directory receiving the exported files"`
}

type ExportOutput struct {
	Results []export.Result `json:"results"`
	Summary export.Summary  `json:"summary"`
}

func (s *Server) exportAll(ctx context.Context, _ *mcp.CallToolRequest, input ExportInput) (*mcp.CallToolResult, ExportOutput, error) {
	records := input.Dashboards
	if len(records) == 0 {
		var err error
		records, err = s.exporter.DiscoverLive(ctx, "", firstNonEmpty(input.Creator, s.opts.Creator))
		if err != nil {
			return nil, ExportOutput{}, fmt.Errorf("discover: %w", err)
		}
	}
	outputDir := firstNonEmpty(input.OutputDir, s.opts.OutputDir)
	results, err := s.exporter.ExportAll(ctx, records, outputDir)
	if results == nil {
		results = []export.Result{}
	}
	summary := export.Summarize("", results)
	if err != nil {
		// Per-dashboard results still describe what happened before the abort.
		s.opts.Logger.Warn("export run aborted", "error", err, "completed", summary.Completed)
	}
	return nil, ExportOutput{Results: results, Summary: summary}, nil
}

type InspectInput struct {
	Path string `json:"path" jsonschema:"path of an exported dashboard file"`
}

type InspectOutput struct {
	Path        string `json:"path"`
	DashboardID string `json:"dashboardId"`
}

func (s *Server) inspect(_ context.Context, _ *mcp.CallToolRequest, input InspectInput) (*mcp.CallToolResult, InspectOutput, error) {
	if input.Path == "" {
		return nil, InspectOutput{}, errors.New("path is required")
	}
	id, err := reconcile.DeclaredID(input.Path)
	if err != nil {
		return nil, InspectOutput{}, err
	}
	return nil, InspectOutput{Path: input.Path, DashboardID: id}, nil
}

func (s *Server) readLatestSnapshot(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if req == nil || req.Params == nil {
		return nil, errors.New("missing resource params")
	}
	if s.snapshots == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	c, ok := s.snapshots.Latest()
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: req.Params.URI, MIMEType: "text/plain", Text: c.Raw}},
	}, nil
}

func (s *Server) readLatestRun(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if req == nil || req.Params == nil {
		return nil, errors.New("missing resource params")
	}
	if s.runs == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	run, err := s.runs.Latest(ctx)
	if errors.Is(err, runlog.ErrNotFound) {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)}},
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
