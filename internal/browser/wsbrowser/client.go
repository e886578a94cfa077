// Package wsbrowser drives the user's own browser through the extension
// connected to the daemon's websocket bridge.
package wsbrowser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adityalohuni/dashport/internal/browser"
	"github.com/adityalohuni/dashport/internal/protocol"
	"github.com/adityalohuni/dashport/internal/toolcall"
	"github.com/adityalohuni/dashport/internal/wsbridge"
)

type Options struct {
	// Timeout bounds each command round trip. Default: 15s.
	Timeout time.Duration
	// SessionID pins commands to one extension session; empty follows the
	// active one.
	SessionID string
}

type Client struct {
	bridge  *wsbridge.Bridge
	timeout time.Duration
	session string
}

var _ browser.Backend = (*Client)(nil)

func NewClient(bridge *wsbridge.Bridge, opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{bridge: bridge, timeout: timeout, session: opts.SessionID}
}

// CallTool maps the Playwright tool names onto extension commands.
func (c *Client) CallTool(ctx context.Context, name string, params map[string]any) (string, error) {
	switch name {
	case browser.ToolNavigate:
		url := stringParam(params, "url")
		if url == "" {
			return "", errors.New("url is required")
		}
		var out protocol.NavigateData
		if err := c.send(ctx, protocol.CommandNavigate, protocol.NavigatePayload{URL: url}, &out); err != nil {
			return "", err
		}
		return fmt.Sprintf("### Page state\n- Page URL: %s\n- Page Title: %s\n", out.URL, out.Title), nil

	case browser.ToolSnapshot:
		var out protocol.SnapshotData
		if err := c.send(ctx, protocol.CommandSnapshot, protocol.SnapshotPayload{}, &out); err != nil {
			return "", err
		}
		return fmt.Sprintf("### Page state\n- Page URL: %s\n- Page Title: %s\n- Page Snapshot:\n```yaml\n%s\n```\n",
			out.URL, out.Title, strings.TrimRight(out.Tree, "\n")), nil

	case browser.ToolClick:
		ref := stringParam(params, "ref")
		if ref == "" {
			return "", errors.New("ref is required")
		}
		payload := protocol.ClickPayload{Ref: ref, Element: stringParam(params, "element")}
		if err := c.send(ctx, protocol.CommandClick, payload, nil); err != nil {
			return "", err
		}
		return "### Result\nclicked " + ref, nil

	case browser.ToolEvaluate:
		fn := stringParam(params, "function")
		if fn == "" {
			return "", errors.New("function is required")
		}
		var out protocol.EvaluateData
		if err := c.send(ctx, protocol.CommandEvaluate, protocol.EvaluatePayload{Function: fn}, &out); err != nil {
			return "", err
		}
		return "### Result\n" + string(out.Result), nil

	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// SetDownloadDir asks the extension to save downloads into dir.
func (c *Client) SetDownloadDir(ctx context.Context, dir string) error {
	return c.send(ctx, protocol.CommandDownload, protocol.DownloadPayload{Dir: dir}, nil)
}

func (c *Client) Close() error { return nil }

func (c *Client) send(ctx context.Context, cmdType protocol.CommandType, payload any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := c.bridge.SendCommand(ctx, protocol.Command{
		ID:        uuid.NewString(),
		Type:      cmdType,
		SessionID: c.session,
		Payload:   raw,
	})
	if errors.Is(err, wsbridge.ErrNoActiveSession) {
		return fmt.Errorf("%w: %v", toolcall.ErrUnavailable, err)
	}
	if err != nil {
		return err
	}
	if !resp.OK {
		switch {
		case resp.Error == "" && resp.ErrorCode == "":
			return errors.New("browser action failed")
		case resp.Error == "":
			return fmt.Errorf("browser action failed (%s)", resp.ErrorCode)
		case resp.ErrorCode != "":
			return fmt.Errorf("%s (%s)", resp.Error, resp.ErrorCode)
		default:
			return errors.New(resp.Error)
		}
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Data, out)
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return strings.TrimSpace(v)
}
