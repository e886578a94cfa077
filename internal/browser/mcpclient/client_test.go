package mcpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/dashport/internal/browser"
	"github.com/adityalohuni/dashport/internal/toolcall"
)

type clickInput struct {
	Element string `json:"element"`
	Ref     string `json:"ref"`
}

func fakePlaywright(t *testing.T) mcp.Transport {
	t.Helper()
	srv := mcp.NewServer(&mcp.Implementation{Name: "fake-playwright", Version: "0.0.1"}, nil)

	mcp.AddTool(srv, &mcp.Tool{Name: browser.ToolSnapshot, Description: "snapshot"},
		func(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{
				&mcp.TextContent{Text: "### Page state\n- Page URL: https://dash.example/list"},
				&mcp.TextContent{Text: "```yaml\n- link \"Sales\" [ref=e2]\n```"},
			}}, nil, nil
		})
	mcp.AddTool(srv, &mcp.Tool{Name: browser.ToolClick, Description: "click"},
		func(ctx context.Context, req *mcp.CallToolRequest, in clickInput) (*mcp.CallToolResult, any, error) {
			if in.Ref != "e2" {
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: "Ref " + in.Ref + " not found in the current page snapshot"}},
				}, nil, nil
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "### Result\nclicked"}}}, nil, nil
		})

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Run(ctx, serverT) }()
	return clientT
}

func TestCallToolJoinsTextContent(t *testing.T) {
	c := New(Options{Transport: fakePlaywright(t)})
	t.Cleanup(func() { _ = c.Close() })

	out, err := c.CallTool(context.Background(), browser.ToolSnapshot, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://dash.example/list", browser.PageURL(out))
	assert.Contains(t, out, "[ref=e2]")
}

func TestCallToolErrorResult(t *testing.T) {
	c := New(Options{Transport: fakePlaywright(t)})
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.CallTool(context.Background(), browser.ToolClick, map[string]any{"element": "Sales", "ref": "e99"})
	var te *toolcall.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, browser.ToolClick, te.Tool)
	assert.Contains(t, te.Message, "e99")

	out, err := c.CallTool(context.Background(), browser.ToolClick, map[string]any{"element": "Sales", "ref": "e2"})
	require.NoError(t, err)
	assert.Equal(t, "clicked", browser.ResultSection(out))
}

func TestListTools(t *testing.T) {
	c := New(Options{Transport: fakePlaywright(t)})
	t.Cleanup(func() { _ = c.Close() })

	names, err := c.ListTools(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{browser.ToolSnapshot, browser.ToolClick}, names)
}

func TestConnectFailureIsUnavailable(t *testing.T) {
	c := New(Options{Command: "/nonexistent/dashport-playwright", ConnectTimeout: 2 * time.Second})
	_, err := c.CallTool(context.Background(), browser.ToolSnapshot, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, toolcall.ErrUnavailable)
}
