// Package mcpclient talks to a Playwright MCP server started as a stdio
// subprocess (npx @playwright/mcp) or reached over any other MCP transport.
package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adityalohuni/dashport/internal/browser"
	"github.com/adityalohuni/dashport/internal/toolcall"
)

const Version = "v0.1.0"

type Options struct {
	// Command and Args start the server. Default: npx @playwright/mcp@latest.
	Command string
	Args    []string
	Env     []string
	// ConnectTimeout bounds the initialize handshake. Default: 60s, the first
	// npx run downloads the package.
	ConnectTimeout time.Duration
	// Transport overrides the subprocess, mainly for tests.
	Transport mcp.Transport
	Logger    *slog.Logger
}

func (o *Options) defaults() {
	if o.Command == "" {
		o.Command = "npx"
		if len(o.Args) == 0 {
			o.Args = []string{"@playwright/mcp@latest"}
		}
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 60 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client connects lazily on the first call and reconnects after Close.
type Client struct {
	opts Options

	mu      sync.Mutex
	session *mcp.ClientSession
}

var _ browser.Backend = (*Client)(nil)

func New(opts Options) *Client {
	opts.defaults()
	return &Client{opts: opts}
}

func (c *Client) connect(ctx context.Context) (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}

	transport := c.opts.Transport
	if transport == nil {
		cmd := exec.Command(c.opts.Command, c.opts.Args...)
		cmd.Env = append(os.Environ(), c.opts.Env...)
		cmd.Stderr = os.Stderr
		transport = &mcp.CommandTransport{Command: cmd}
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "dashport", Version: Version}, nil)
	connectCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: mcp connect %s: %v", toolcall.ErrUnavailable, c.describe(), err)
	}
	c.opts.Logger.Info("automation server connected", "server", c.describe())
	c.session = session
	return session, nil
}

func (c *Client) describe() string {
	if c.opts.Transport != nil {
		return fmt.Sprintf("%T", c.opts.Transport)
	}
	return strings.TrimSpace(c.opts.Command + " " + strings.Join(c.opts.Args, " "))
}

// CallTool invokes a tool and returns its text content. A result flagged as
// an error becomes a *toolcall.ToolError carrying the server's message.
func (c *Client) CallTool(ctx context.Context, name string, params map[string]any) (string, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	if params == nil {
		params = map[string]any{}
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: params})
	if err != nil {
		if ctx.Err() == nil && isClosed(err) {
			c.reset(session)
		}
		return "", fmt.Errorf("call %s: %w", name, err)
	}
	text := textOf(res.Content)
	if res.IsError {
		return "", &toolcall.ToolError{Tool: name, Message: text}
	}
	return text, nil
}

// ListTools reports the server's tool names; used by the status command.
func (c *Client) ListTools(ctx context.Context) ([]string, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	res, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Tools))
	for _, t := range res.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

func (c *Client) reset(session *mcp.ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == session {
		_ = session.Close()
		c.session = nil
	}
}

func isClosed(err error) bool {
	if errors.Is(err, os.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "closed") || strings.Contains(msg, "eof") || strings.Contains(msg, "broken pipe")
}

func textOf(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
