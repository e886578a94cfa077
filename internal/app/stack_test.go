package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/dashport/internal/config"
	"github.com/adityalohuni/dashport/internal/toolcall"
	"github.com/adityalohuni/dashport/internal/wsbridge"
)

type fakeBackend struct {
	calls  []string
	closed bool
}

func (f *fakeBackend) CallTool(_ context.Context, name string, _ map[string]any) (string, error) {
	f.calls = append(f.calls, name)
	return "- generic [ref=e1]: ok", nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func testSettings() config.Settings {
	return config.Settings{
		Browser: config.BrowserSettings{Backend: config.BackendMCP},
		Retry:   toolcall.DefaultRetryPolicy(),
		Store:   config.StoreSettings{Path: ":memory:"},
	}
}

func TestBuildWiresOverrideBackend(t *testing.T) {
	backend := &fakeBackend{}
	st, err := Build(testSettings(), Options{Backend: backend})
	require.NoError(t, err)

	snap, err := st.Automation.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Nodes)
	assert.Equal(t, []string{"browser_snapshot"}, backend.calls)
	assert.Equal(t, 1, st.Automation.Store().Len())
	assert.NotNil(t, st.Tracker)

	_, err = st.Runs.List(context.Background(), 10)
	require.NoError(t, err)

	require.NoError(t, st.Close())
	assert.True(t, backend.closed)
}

func TestNewBackendSelectsTransport(t *testing.T) {
	s := testSettings()

	b, err := NewBackend(s, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, b)

	s.Browser.Backend = config.BackendWS
	_, err = NewBackend(s, nil, nil)
	require.Error(t, err)

	b, err = NewBackend(s, wsbridge.NewBridge(wsbridge.Options{}), nil)
	require.NoError(t, err)
	assert.NotNil(t, b)

	s.Browser.Backend = "carrier-pigeon"
	_, err = NewBackend(s, nil, nil)
	require.ErrorContains(t, err, `unknown browser backend "carrier-pigeon"`)
}
