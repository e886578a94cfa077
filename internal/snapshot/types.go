package snapshot

import "time"

type Kind int

const (
	KindElement Kind = iota
	// KindUnrecognized holds a line that matched no known shape and had no
	// open node above it to attach to.
	KindUnrecognized
)

func (k Kind) String() string {
	if k == KindUnrecognized {
		return "unrecognized"
	}
	return "element"
}

// Attr is one key/value pair on a node. Inline attributes come from the
// bracket list on the role line ([cursor=pointer]); the rest come from
// indented "- key: value" lines below it.
type Attr struct {
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	Inline bool   `json:"inline,omitempty"`
}

// Node is one role line of an accessibility snapshot. Ref is only valid
// against the snapshot it was parsed from.
type Node struct {
	Depth  int      `json:"depth"`
	Kind   Kind     `json:"kind"`
	Role   string   `json:"role,omitempty"`
	Name   string   `json:"name,omitempty"`
	Ref    string   `json:"ref,omitempty"`
	Attrs  []Attr   `json:"attrs,omitempty"`
	Text   string   `json:"text,omitempty"`
	Opaque []string `json:"opaque,omitempty"`
}

// Attr returns the first attribute named key.
func (n Node) Attr(key string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func (n Node) Interactive() bool { return n.Ref != "" }

// Label is the best human-readable text for the node: its accessible name,
// falling back to inline text.
func (n Node) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.Text
}

// Anomaly records a line that did not match any known shape.
type Anomaly struct {
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Capture is a raw snapshot kept for debugging and for the latest-snapshot
// resource.
type Capture struct {
	ID      string    `json:"id"`
	URL     string    `json:"url,omitempty"`
	Raw     string    `json:"raw"`
	TakenAt time.Time `json:"takenAt"`
}
