// Package snapshot parses the indented accessibility snapshots returned by
// the browser automation capability. The format is owned upstream and
// changes without notice, so parsing never fails: unknown shapes are kept
// as opaque text on the nearest open node.
package snapshot

import (
	"regexp"
	"strings"
)

const tabWidth = 2

var (
	roleRe   = regexp.MustCompile(`^([A-Za-z][\w-]*)`)
	nameRe   = regexp.MustCompile(`^"((?:[^"\\]|\\.)*)"`)
	attrRe   = regexp.MustCompile(`^\[([^\]=]+)(?:=([^\]]*))?\]`)
	propRe   = regexp.MustCompile(`^(/?[A-Za-z][\w.-]*):\s*(.*)$`)
	propKeys = map[string]bool{"href": true, "url": true}
)

// Parse returns the nodes of raw in document order.
func Parse(raw string) []Node {
	nodes, _ := ParseReport(raw)
	return nodes
}

// ParseReport is Parse plus the lines that matched no known shape.
func ParseReport(raw string) ([]Node, []Anomaly) {
	type frame struct {
		indent int
		index  int
	}

	var (
		nodes     []Node
		anomalies []Anomaly
		stack     []frame
	)

	for i, line := range strings.Split(treeBody(raw), "\n") {
		line = strings.TrimRight(line, " \t\r")
		content := strings.TrimSpace(line)
		if content == "" {
			continue
		}
		indent := indentWidth(line)
		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}
		owner := -1
		depth := 0
		if len(stack) > 0 {
			owner = stack[len(stack)-1].index
			depth = nodes[owner].Depth + 1
		}

		item, isItem := listItem(content)
		if isItem {
			if key, value, ok := property(item); ok && owner >= 0 {
				nodes[owner].Attrs = append(nodes[owner].Attrs, Attr{Key: key, Value: value})
				continue
			}
			if n, ok := parseRole(item); ok {
				n.Depth = depth
				nodes = append(nodes, n)
				stack = append(stack, frame{indent: indent, index: len(nodes) - 1})
				continue
			}
		}

		anomalies = append(anomalies, Anomaly{Line: i + 1, Text: content})
		if owner >= 0 {
			nodes[owner].Opaque = append(nodes[owner].Opaque, content)
			continue
		}
		nodes = append(nodes, Node{Depth: 0, Kind: KindUnrecognized, Text: content})
		stack = append(stack, frame{indent: indent, index: len(nodes) - 1})
	}
	return nodes, anomalies
}

// treeBody returns the content of ```yaml fences when raw embeds the tree
// in a tool response, or raw unchanged.
func treeBody(raw string) string {
	if !strings.Contains(raw, "```yaml") {
		return raw
	}
	var b strings.Builder
	inFence := false
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inFence && strings.HasPrefix(trimmed, "```yaml"):
			inFence = true
		case inFence && strings.HasPrefix(trimmed, "```"):
			inFence = false
		case inFence:
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func indentWidth(line string) int {
	width := 0
	for _, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += tabWidth
		default:
			return width
		}
	}
	return width
}

func listItem(content string) (string, bool) {
	if content == "-" {
		return "", true
	}
	item, ok := strings.CutPrefix(content, "- ")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(item), true
}

func property(item string) (string, string, bool) {
	m := propRe.FindStringSubmatch(item)
	if m == nil {
		return "", "", false
	}
	key := m[1]
	if !strings.HasPrefix(key, "/") && !propKeys[strings.ToLower(key)] {
		return "", "", false
	}
	return key, strings.TrimSpace(m[2]), true
}

func parseRole(item string) (Node, bool) {
	m := roleRe.FindStringSubmatch(item)
	if m == nil {
		return Node{}, false
	}
	n := Node{Kind: KindElement, Role: m[1]}
	rest := strings.TrimLeft(item[len(m[0]):], " ")

	if nm := nameRe.FindStringSubmatch(rest); nm != nil {
		n.Name = unescape(nm[1])
		rest = strings.TrimLeft(rest[len(nm[0]):], " ")
	}
	for {
		am := attrRe.FindStringSubmatch(rest)
		if am == nil {
			break
		}
		key := strings.TrimSpace(am[1])
		switch {
		case key == "":
		case key == "ref":
			n.Ref = strings.TrimSpace(am[2])
		default:
			n.Attrs = append(n.Attrs, Attr{Key: key, Value: am[2], Inline: true})
		}
		rest = strings.TrimLeft(rest[len(am[0]):], " ")
	}

	switch {
	case rest == "":
	case strings.HasPrefix(rest, ":"):
		n.Text = strings.TrimSpace(rest[1:])
	default:
		return Node{}, false
	}
	return n, true
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func escape(s string) string {
	if !strings.ContainsAny(s, `"\`) {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(s)
}
