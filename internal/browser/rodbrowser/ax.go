package rodbrowser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/adityalohuni/dashport/internal/snapshot"
)

// axNode is the part of a CDP accessibility node the renderer reads.
type axNode struct {
	ID       string
	Children []string
	Ignored  bool
	Role     string
	Name     string
	Value    string
	Backend  int
	Props    map[string]string
}

// Roles that carry no meaning of their own; their children are lifted.
var transparentRoles = map[string]bool{
	"":               true,
	"none":           true,
	"generic":        true,
	"presentation":   true,
	"InlineTextBox":  true,
	"LineBreak":      true,
	"RootWebArea":    true,
	"WebArea":        true,
	"LayoutTable":    true,
	"LayoutTableRow": true,
}

// Properties rendered inline after the ref, in this order.
var inlineProps = []string{"level", "checked", "pressed", "selected", "expanded", "disabled"}

func fromProto(nodes []*proto.AccessibilityAXNode) []axNode {
	out := make([]axNode, 0, len(nodes))
	for _, n := range nodes {
		a := axNode{
			ID:      string(n.NodeID),
			Ignored: n.Ignored,
			Role:    axString(n.Role),
			Name:    axString(n.Name),
			Value:   axString(n.Value),
			Backend: int(n.BackendDOMNodeID),
		}
		for _, c := range n.ChildIDs {
			a.Children = append(a.Children, string(c))
		}
		for _, p := range n.Properties {
			if p == nil || p.Value == nil {
				continue
			}
			if a.Props == nil {
				a.Props = map[string]string{}
			}
			a.Props[string(p.Name)] = axString(p.Value)
		}
		out = append(out, a)
	}
	return out
}

func axString(v *proto.AccessibilityAXValue) string {
	if v == nil || v.Value.Nil() {
		return ""
	}
	if s, ok := v.Value.Val().(string); ok {
		return s
	}
	return strings.Trim(v.Value.JSON("", ""), `"`)
}

// render turns a flat CDP node list into snapshot nodes in document order.
// Refs are "e" plus the backend DOM node id so a click can resolve them.
func render(nodes []axNode) []snapshot.Node {
	if len(nodes) == 0 {
		return nil
	}
	byID := make(map[string]*axNode, len(nodes))
	isChild := make(map[string]bool, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
		for _, c := range nodes[i].Children {
			isChild[c] = true
		}
	}

	var out []snapshot.Node
	var walk func(n *axNode, depth int)
	walk = func(n *axNode, depth int) {
		childDepth := depth
		if emit(n) {
			out = append(out, toSnapshotNode(n, depth))
			childDepth = depth + 1
		}
		for _, id := range n.Children {
			if c, ok := byID[id]; ok {
				walk(c, childDepth)
			}
		}
	}
	for i := range nodes {
		if !isChild[nodes[i].ID] {
			walk(&nodes[i], 0)
		}
	}
	return collapseText(out)
}

func emit(n *axNode) bool {
	if n.Ignored {
		return false
	}
	if n.Role == "StaticText" {
		return strings.TrimSpace(n.Name) != ""
	}
	return !transparentRoles[n.Role] || (n.Role == "generic" && n.Name != "")
}

func toSnapshotNode(n *axNode, depth int) snapshot.Node {
	if n.Role == "StaticText" {
		return snapshot.Node{Depth: depth, Kind: snapshot.KindElement, Role: "text", Text: strings.TrimSpace(n.Name)}
	}
	s := snapshot.Node{
		Depth: depth,
		Kind:  snapshot.KindElement,
		Role:  n.Role,
		Name:  strings.TrimSpace(n.Name),
	}
	if n.Backend > 0 {
		s.Ref = ref(n.Backend)
	}
	for _, key := range inlineProps {
		v, ok := n.Props[key]
		if !ok || v == "false" || v == "" {
			continue
		}
		if v == "true" {
			v = ""
		}
		s.Attrs = append(s.Attrs, snapshot.Attr{Key: key, Value: v, Inline: true})
	}
	if n.Role == "link" {
		if u := firstNonEmpty(n.Props["url"], n.Value); u != "" {
			s.Attrs = append(s.Attrs, snapshot.Attr{Key: "/url", Value: u})
		}
	}
	return s
}

// collapseText folds a lone text child whose content equals its parent's
// name, the way Chrome repeats cell and link labels.
func collapseText(nodes []snapshot.Node) []snapshot.Node {
	out := nodes[:0]
	for i, n := range nodes {
		if n.Role == "text" && i > 0 {
			parent := lastAt(out, n.Depth-1)
			if parent >= 0 && out[parent].Name == n.Text {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

func lastAt(nodes []snapshot.Node, depth int) int {
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].Depth == depth {
			return i
		}
		if nodes[i].Depth < depth {
			return -1
		}
	}
	return -1
}

func ref(backend int) string { return fmt.Sprintf("e%d", backend) }

func parseRef(r string) (proto.DOMBackendNodeID, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(r), "e"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid ref %q", r)
	}
	return proto.DOMBackendNodeID(n), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
