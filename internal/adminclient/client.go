// Package adminclient talks to a running dashportd admin API.
package adminclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/adityalohuni/dashport/internal/admin"
	"github.com/adityalohuni/dashport/internal/progress"
	"github.com/adityalohuni/dashport/internal/runlog"
	"github.com/adityalohuni/dashport/internal/wsbridge"
)

// StatusError is a non-2xx admin response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("admin request failed: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("admin request failed: %d %s", e.Code, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

func (c *Client) Status(ctx context.Context) (admin.Status, error) {
	var out admin.Status
	err := c.getJSON(ctx, "/admin/status", &out)
	return out, err
}

func (c *Client) Progress(ctx context.Context) ([]progress.RunInfo, error) {
	var out []progress.RunInfo
	err := c.getJSON(ctx, "/admin/progress", &out)
	return out, err
}

// Runs lists stored runs, newest first. limit <= 0 uses the server default.
func (c *Client) Runs(ctx context.Context, limit int) ([]runlog.Run, error) {
	path := "/admin/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []runlog.Run
	err := c.getJSON(ctx, path, &out)
	return out, err
}

func (c *Client) Run(ctx context.Context, id string) (runlog.Run, error) {
	var out runlog.Run
	err := c.getJSON(ctx, "/admin/runs/"+url.PathEscape(id), &out)
	return out, err
}

func (c *Client) Browsers(ctx context.Context) ([]wsbridge.SessionInfo, error) {
	var out []wsbridge.SessionInfo
	err := c.getJSON(ctx, "/admin/browsers", &out)
	return out, err
}

func (c *Client) DisconnectBrowser(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/admin/browsers/"+url.PathEscape(id)+"/disconnect")
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
