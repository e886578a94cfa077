package snapshot

import "strings"

// Serialize renders nodes in the canonical snapshot form. Parsing the output
// yields nodes equal to the input whenever the input came from Parse.
func Serialize(nodes []Node) string {
	var b strings.Builder
	for i, n := range nodes {
		pad := strings.Repeat(" ", n.Depth*tabWidth)
		child := pad + strings.Repeat(" ", tabWidth)
		hasBody := hasBlockAttrs(n) || len(n.Opaque) > 0 || (i+1 < len(nodes) && nodes[i+1].Depth > n.Depth)

		b.WriteString(pad)
		if n.Kind == KindUnrecognized {
			b.WriteString(n.Text)
		} else {
			line := roleLine(n)
			b.WriteString(line)
			// "- url:" would read back as a property of the parent.
			if line == "- "+n.Role && propKeys[strings.ToLower(n.Role)] && (n.Text != "" || hasBody) {
				b.WriteByte(' ')
			}
			switch {
			case n.Text != "":
				b.WriteString(": ")
				b.WriteString(n.Text)
			case hasBody:
				b.WriteByte(':')
			}
		}
		b.WriteByte('\n')

		for _, a := range n.Attrs {
			if a.Inline {
				continue
			}
			b.WriteString(child)
			b.WriteString("- ")
			b.WriteString(a.Key)
			b.WriteByte(':')
			if a.Value != "" {
				b.WriteByte(' ')
				b.WriteString(a.Value)
			}
			b.WriteByte('\n')
		}
		for _, line := range n.Opaque {
			b.WriteString(child)
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func roleLine(n Node) string {
	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(n.Role)
	if n.Name != "" {
		b.WriteString(` "`)
		b.WriteString(escape(n.Name))
		b.WriteByte('"')
	}
	if n.Ref != "" {
		b.WriteString(" [ref=")
		b.WriteString(n.Ref)
		b.WriteByte(']')
	}
	for _, a := range n.Attrs {
		if !a.Inline {
			continue
		}
		b.WriteString(" [")
		b.WriteString(a.Key)
		if a.Value != "" {
			b.WriteByte('=')
			b.WriteString(a.Value)
		}
		b.WriteByte(']')
	}
	return b.String()
}

func hasBlockAttrs(n Node) bool {
	for _, a := range n.Attrs {
		if !a.Inline {
			return true
		}
	}
	return false
}

// End returns the index one past the subtree rooted at nodes[i]: the first
// later node whose depth is not greater than nodes[i].Depth.
func End(nodes []Node, i int) int {
	if i < 0 || i >= len(nodes) {
		return len(nodes)
	}
	depth := nodes[i].Depth
	for j := i + 1; j < len(nodes); j++ {
		if nodes[j].Depth <= depth {
			return j
		}
	}
	return len(nodes)
}

// Subtree returns nodes[i] and all of its descendants.
func Subtree(nodes []Node, i int) []Node {
	if i < 0 || i >= len(nodes) {
		return nil
	}
	return nodes[i:End(nodes, i)]
}

// Find returns the index of the first node at or after from for which match
// is true, or -1.
func Find(nodes []Node, from int, match func(Node) bool) int {
	for j := from; j < len(nodes); j++ {
		if match(nodes[j]) {
			return j
		}
	}
	return -1
}
