// Package rodbrowser drives a local or remote Chrome through the DevTools
// protocol and answers the Playwright tool names from the accessibility tree.
package rodbrowser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/adityalohuni/dashport/internal/browser"
	"github.com/adityalohuni/dashport/internal/snapshot"
	"github.com/adityalohuni/dashport/internal/toolcall"
)

type Options struct {
	// ControlURL attaches to a running Chrome; empty launches one.
	ControlURL string
	Headless   bool
	// Stealth applies the go-rod/stealth evasions to new pages.
	Stealth bool
	// DownloadDir receives files the page downloads.
	DownloadDir string
	// NavigationTimeout bounds each navigation. Default: 30s.
	NavigationTimeout time.Duration
	Logger            *slog.Logger
}

func (o *Options) defaults() {
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client owns one browser and one page. It starts Chrome on first use.
type Client struct {
	opts Options

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
}

var _ browser.Backend = (*Client)(nil)

func New(opts Options) *Client {
	opts.defaults()
	return &Client{opts: opts}
}

func (c *Client) ensure(ctx context.Context) (*rod.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page != nil {
		return c.page, nil
	}

	controlURL := c.opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(c.opts.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("%w: launch chrome: %v", toolcall.ErrUnavailable, err)
		}
		c.lnch = l
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		c.cleanupLocked()
		return nil, fmt.Errorf("%w: connect chrome: %v", toolcall.ErrUnavailable, err)
	}
	b = b.Context(context.Background())
	c.browser = b

	var (
		page *rod.Page
		err  error
	)
	if c.opts.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		c.cleanupLocked()
		return nil, fmt.Errorf("%w: open page: %v", toolcall.ErrUnavailable, err)
	}
	c.page = page

	if c.opts.DownloadDir != "" {
		if err := c.setDownloadDirLocked(c.opts.DownloadDir); err != nil {
			c.opts.Logger.Warn("download dir not applied", "dir", c.opts.DownloadDir, "error", err)
		}
	}
	c.opts.Logger.Info("chrome ready", "control_url", controlURL, "stealth", c.opts.Stealth)
	return page, nil
}

// CallTool answers the Playwright tool names.
func (c *Client) CallTool(ctx context.Context, name string, params map[string]any) (string, error) {
	page, err := c.ensure(ctx)
	if err != nil {
		return "", err
	}
	p := page.Context(ctx)

	switch name {
	case browser.ToolNavigate:
		url := stringParam(params, "url")
		if url == "" {
			return "", errors.New("url is required")
		}
		nav := p.Timeout(c.opts.NavigationTimeout)
		if err := nav.Navigate(url); err != nil {
			return "", fmt.Errorf("navigate %s: %w", url, err)
		}
		if err := nav.WaitLoad(); err != nil {
			return "", fmt.Errorf("wait load %s: %w", url, err)
		}
		return c.pageState(p, ""), nil

	case browser.ToolSnapshot:
		res, err := proto.AccessibilityGetFullAXTree{}.Call(p)
		if err != nil {
			return "", fmt.Errorf("accessibility tree: %w", err)
		}
		tree := snapshot.Serialize(render(fromProto(res.Nodes)))
		return c.pageState(p, tree), nil

	case browser.ToolClick:
		id, err := parseRef(stringParam(params, "ref"))
		if err != nil {
			return "", err
		}
		resolved, err := proto.DOMResolveNode{BackendNodeID: id}.Call(p)
		if err != nil {
			return "", fmt.Errorf("ref %s not found in the current page snapshot: %w", stringParam(params, "ref"), err)
		}
		el, err := p.ElementFromObject(resolved.Object)
		if err != nil {
			return "", err
		}
		if err := el.ScrollIntoView(); err != nil {
			return "", err
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return "", fmt.Errorf("click %s: %w", stringParam(params, "element"), err)
		}
		return "### Result\nclicked " + stringParam(params, "element"), nil

	case browser.ToolEvaluate:
		fn := stringParam(params, "function")
		if fn == "" {
			return "", errors.New("function is required")
		}
		obj, err := p.Evaluate(rod.Eval(fn).ByPromise())
		if err != nil {
			return "", fmt.Errorf("evaluate: %w", err)
		}
		return "### Result\n" + obj.Value.JSON("", ""), nil

	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (c *Client) pageState(p *rod.Page, tree string) string {
	var b strings.Builder
	b.WriteString("### Page state\n")
	if info, err := p.Info(); err == nil {
		fmt.Fprintf(&b, "- Page URL: %s\n- Page Title: %s\n", info.URL, info.Title)
	}
	if tree != "" {
		b.WriteString("- Page Snapshot:\n```yaml\n")
		b.WriteString(strings.TrimRight(tree, "\n"))
		b.WriteString("\n```\n")
	}
	return b.String()
}

// SetDownloadDir redirects downloads for the whole browser.
func (c *Client) SetDownloadDir(ctx context.Context, dir string) error {
	if _, err := c.ensure(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.DownloadDir = dir
	return c.setDownloadDirLocked(dir)
}

func (c *Client) setDownloadDirLocked(dir string) error {
	return proto.BrowserSetDownloadBehavior{
		Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath: dir,
	}.Call(c.browser)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupLocked()
}

func (c *Client) cleanupLocked() error {
	var err error
	switch {
	case c.browser != nil && c.lnch == nil:
		// attached to someone else's Chrome: leave it running
		if c.page != nil {
			err = c.page.Close()
		}
		c.browser = nil
	case c.browser != nil:
		err = c.browser.Close()
		c.browser = nil
	}
	if c.lnch != nil {
		c.lnch.Cleanup()
		c.lnch = nil
	}
	c.page = nil
	return err
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return strings.TrimSpace(v)
}
