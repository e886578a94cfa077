// Package protocol is the JSON wire format between the daemon and the
// browser extension that drives the user's own browser.
package protocol

import "encoding/json"

type CommandType string

const (
	CommandNavigate CommandType = "navigate"
	CommandSnapshot CommandType = "snapshot"
	CommandClick    CommandType = "click"
	CommandEvaluate CommandType = "evaluate"
	CommandDownload CommandType = "set_download_dir"
)

type Command struct {
	ID        string          `json:"id"`
	Type      CommandType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type Response struct {
	ID        string          `json:"id"`
	OK        bool            `json:"ok"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type NavigatePayload struct {
	URL string `json:"url"`
}

type NavigateData struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// SnapshotPayload asks for the accessibility tree of the active tab.
type SnapshotPayload struct {
	IncludeHidden bool `json:"includeHidden,omitempty"`
}

// SnapshotData carries the tree in the indented "- role \"name\" [ref=..]"
// text form.
type SnapshotData struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Tree  string `json:"tree"`
}

// ClickPayload targets an element by the ref of the latest snapshot. Element
// is the accessible name, used by the extension for a sanity check.
type ClickPayload struct {
	Ref     string `json:"ref"`
	Element string `json:"element,omitempty"`
}

type EvaluatePayload struct {
	Function string `json:"function"`
}

type EvaluateData struct {
	Result json.RawMessage `json:"result,omitempty"`
}

type DownloadPayload struct {
	Dir string `json:"dir"`
}
