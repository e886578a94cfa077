package wsbrowser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/dashport/internal/browser"
	"github.com/adityalohuni/dashport/internal/protocol"
	"github.com/adityalohuni/dashport/internal/snapshot"
	"github.com/adityalohuni/dashport/internal/toolcall"
	"github.com/adityalohuni/dashport/internal/wsbridge"
)

func fakeExtension(t *testing.T, b *wsbridge.Bridge, handle func(protocol.Command) protocol.Response) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(b.HandleWS))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd protocol.Command
			_ = json.Unmarshal(msg, &cmd)
			resp := handle(cmd)
			resp.ID = cmd.ID
			out, _ := json.Marshal(resp)
			_ = conn.WriteMessage(websocket.TextMessage, out)
		}
	}()
	require.Eventually(t, func() bool { return b.Count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSnapshotIsWrappedInFence(t *testing.T) {
	b := wsbridge.NewBridge(wsbridge.Options{})
	fakeExtension(t, b, func(cmd protocol.Command) protocol.Response {
		if cmd.Type != protocol.CommandSnapshot {
			return protocol.Response{Error: "unexpected " + string(cmd.Type)}
		}
		data, _ := json.Marshal(protocol.SnapshotData{URL: "https://x/d", Tree: "- button \"Go\" [ref=e3]\n"})
		return protocol.Response{OK: true, Data: data}
	})

	out, err := NewClient(b, Options{}).CallTool(context.Background(), browser.ToolSnapshot, nil)
	require.NoError(t, err)
	nodes := snapshot.Parse(out)
	require.Len(t, nodes, 1)
	assert.Equal(t, "e3", nodes[0].Ref)
	assert.Equal(t, "https://x/d", browser.PageURL(out))
}

func TestClickPassesRef(t *testing.T) {
	b := wsbridge.NewBridge(wsbridge.Options{})
	got := make(chan protocol.ClickPayload, 1)
	fakeExtension(t, b, func(cmd protocol.Command) protocol.Response {
		var p protocol.ClickPayload
		_ = json.Unmarshal(cmd.Payload, &p)
		got <- p
		return protocol.Response{OK: true}
	})

	_, err := NewClient(b, Options{}).CallTool(context.Background(), browser.ToolClick, map[string]any{"ref": "e9", "element": "Show options"})
	require.NoError(t, err)
	assert.Equal(t, protocol.ClickPayload{Ref: "e9", Element: "Show options"}, <-got)
}

func TestExtensionErrorSurfaces(t *testing.T) {
	b := wsbridge.NewBridge(wsbridge.Options{})
	fakeExtension(t, b, func(protocol.Command) protocol.Response {
		return protocol.Response{OK: false, Error: "Invalid ref", ErrorCode: "bad_ref"}
	})

	_, err := NewClient(b, Options{}).CallTool(context.Background(), browser.ToolClick, map[string]any{"ref": "e1"})
	require.EqualError(t, err, "Invalid ref (bad_ref)")
	assert.Equal(t, toolcall.Permanent, toolcall.Classify(err))
}

func TestNoSessionIsUnavailable(t *testing.T) {
	c := NewClient(wsbridge.NewBridge(wsbridge.Options{}), Options{})
	_, err := c.CallTool(context.Background(), browser.ToolNavigate, map[string]any{"url": "https://x"})
	assert.ErrorIs(t, err, toolcall.ErrUnavailable)

	_, err = c.CallTool(context.Background(), "browser_fly", nil)
	assert.Equal(t, toolcall.Permanent, toolcall.Classify(err))
}
