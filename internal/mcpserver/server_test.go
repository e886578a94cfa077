package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/dashport/internal/dashboard"
	"github.com/adityalohuni/dashport/internal/export"
	"github.com/adityalohuni/dashport/internal/failure"
	"github.com/adityalohuni/dashport/internal/runlog"
	"github.com/adityalohuni/dashport/internal/snapshot"
)

const listSnapshot = "```yaml\n" + `- grid "Dashboards" [ref=e10]:
  - rowgroup [ref=e15]:
    - row "Sales Dashboard 1/2/2024 Alice" [ref=e20]:
      - rowheader "Sales Dashboard" [ref=e21]:
        - link "Sales Dashboard" [ref=e22]:
          - /url: /dashboards/d-sales
      - gridcell "1/2/2024" [ref=e24]
      - gridcell "Alice" [ref=e25]
      - gridcell [ref=e26]:
        - button "Show options" [ref=e28]
    - row "Ops Dashboard 3/9/2024 Bob" [ref=e30]:
      - rowheader "Ops Dashboard" [ref=e31]:
        - link "Ops Dashboard" [ref=e32]:
          - /url: /dashboards/d-ops
      - gridcell "3/9/2024" [ref=e34]
      - gridcell "Bob" [ref=e35]
      - gridcell [ref=e36]:
        - button "Show options" [ref=e37]
` + "```\n"

var testImpl = &mcp.Implementation{Name: "dashport-test", Version: "0.0.1"}

type fakeExporter struct {
	live      []dashboard.Record
	liveErr   error
	liveCalls []string
	exported  []dashboard.Record
	outputDir string
	exportErr error
}

func (f *fakeExporter) Discover(text, creator string) []dashboard.Record {
	return dashboard.Discover(text, creator)
}

func (f *fakeExporter) DiscoverLive(_ context.Context, listURL, creator string) ([]dashboard.Record, error) {
	f.liveCalls = append(f.liveCalls, listURL+"|"+creator)
	return f.live, f.liveErr
}

func (f *fakeExporter) ExportAll(_ context.Context, records []dashboard.Record, outputDir string) ([]export.Result, error) {
	f.exported = records
	f.outputDir = outputDir
	out := make([]export.Result, 0, len(records))
	for i, r := range records {
		res := export.Result{Name: r.Name, URL: r.URL, ID: r.ID, Status: export.StatusSuccess, Path: filepath.Join(outputDir, dashboard.Filename(r.Name))}
		if f.exportErr != nil && i > 0 {
			res = export.Result{Name: r.Name, Status: export.StatusFailed, Kind: failure.KindAborted, Error: "aborted"}
		}
		out = append(out, res)
	}
	return out, f.exportErr
}

type fakeRuns struct {
	run runlog.Run
	err error
}

func (f fakeRuns) Latest(context.Context) (runlog.Run, error) { return f.run, f.err }

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	serverT, clientT := mcp.NewInMemoryTransports()
	go func() { _ = s.Run(ctx, serverT) }()

	session, err := mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	if out != nil && !res.IsError {
		tc, ok := res.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		require.NoError(t, json.Unmarshal([]byte(tc.Text), out))
	}
	return res
}

func TestDiscoverFromSnapshotText(t *testing.T) {
	fake := &fakeExporter{}
	session := connect(t, New(fake, nil, nil, Options{Implementation: testImpl}))

	var out DiscoverOutput
	res := callTool(t, session, "dashboards.discover", map[string]any{"snapshot": listSnapshot, "creator": "Bob"}, &out)
	require.False(t, res.IsError)
	assert.Equal(t, 1, out.Count)
	require.Len(t, out.Dashboards, 1)
	assert.Equal(t, "Ops Dashboard", out.Dashboards[0].Name)
	assert.Equal(t, "d-ops", out.Dashboards[0].ID)
	assert.Empty(t, fake.liveCalls)
}

func TestDiscoverLiveUsesDefaultCreator(t *testing.T) {
	fake := &fakeExporter{live: []dashboard.Record{{Name: "Sales", ID: "d-sales"}}}
	session := connect(t, New(fake, nil, nil, Options{Implementation: testImpl, Creator: "Alice"}))

	var out DiscoverOutput
	callTool(t, session, "dashboards.discover", map[string]any{"listUrl": "https://bi.example.com/list"}, &out)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, []string{"https://bi.example.com/list|Alice"}, fake.liveCalls)
}

func TestDiscoverLiveErrorIsToolError(t *testing.T) {
	fake := &fakeExporter{liveErr: errors.New("no dashboard list URL configured")}
	session := connect(t, New(fake, nil, nil, Options{Implementation: testImpl}))

	res := callTool(t, session, "dashboards.discover", map[string]any{}, nil)
	assert.True(t, res.IsError)
}

func TestExportAllGivenRecords(t *testing.T) {
	fake := &fakeExporter{}
	session := connect(t, New(fake, nil, nil, Options{Implementation: testImpl, OutputDir: "/srv/out"}))

	var out ExportOutput
	callTool(t, session, "dashboards.export_all", map[string]any{
		"dashboards": []map[string]any{{"name": "Sales", "url": "https://bi/d/d-sales", "id": "d-sales", "creator": "Alice", "ordinal": 1}},
	}, &out)
	require.Len(t, out.Results, 1)
	assert.Equal(t, export.StatusSuccess, out.Results[0].Status)
	assert.Equal(t, "/srv/out", fake.outputDir)
	assert.Equal(t, 1, out.Summary.Completed)
	assert.Empty(t, fake.liveCalls)
}

func TestExportAllDiscoversWhenNoRecords(t *testing.T) {
	fake := &fakeExporter{
		live:      []dashboard.Record{{Name: "A", ID: "a"}, {Name: "B", ID: "b"}},
		exportErr: failure.Errorf(failure.KindAborted, "export", "browser gone"),
	}
	session := connect(t, New(fake, nil, nil, Options{Implementation: testImpl}))

	var out ExportOutput
	res := callTool(t, session, "dashboards.export_all", map[string]any{"creator": "Alice", "outputDir": "out"}, &out)
	require.False(t, res.IsError)
	assert.Equal(t, []string{"|Alice"}, fake.liveCalls)
	assert.Equal(t, 2, out.Summary.Total)
	assert.Equal(t, 1, out.Summary.Failed)
	assert.True(t, out.Summary.Aborted)
}

func TestInspectDeclaredID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Sales.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"d-sales","name":"Sales"}`), 0o644))
	session := connect(t, New(&fakeExporter{}, nil, nil, Options{Implementation: testImpl}))

	var out InspectOutput
	callTool(t, session, "dashboards.inspect", map[string]any{"path": path}, &out)
	assert.Equal(t, "d-sales", out.DashboardID)

	res := callTool(t, session, "dashboards.inspect", map[string]any{"path": filepath.Join(t.TempDir(), "missing.json")}, nil)
	assert.True(t, res.IsError)
}

func TestResources(t *testing.T) {
	store := snapshot.NewStore(4)
	store.Put(snapshot.Capture{Raw: listSnapshot})
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	runs := fakeRuns{run: runlog.Run{ID: "run-1", StartedAt: started, Completed: 2}}
	session := connect(t, New(&fakeExporter{}, store, runs, Options{Implementation: testImpl}))
	ctx := context.Background()

	snap, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: latestSnapshotURI})
	require.NoError(t, err)
	require.Len(t, snap.Contents, 1)
	assert.Equal(t, listSnapshot, snap.Contents[0].Text)

	run, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: latestRunURI})
	require.NoError(t, err)
	var got runlog.Run
	require.NoError(t, json.Unmarshal([]byte(run.Contents[0].Text), &got))
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, 2, got.Completed)
}

func TestResourcesMissing(t *testing.T) {
	session := connect(t, New(&fakeExporter{}, snapshot.NewStore(1), fakeRuns{err: runlog.ErrNotFound}, Options{Implementation: testImpl}))
	ctx := context.Background()

	_, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: latestSnapshotURI})
	assert.Error(t, err)
	_, err = session.ReadResource(ctx, &mcp.ReadResourceParams{URI: latestRunURI})
	assert.Error(t, err)
}
