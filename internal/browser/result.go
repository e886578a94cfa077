package browser

import (
	"strings"
)

// ResultSection returns the body of the "### Result" section of a tool
// response, or the whole text trimmed when it has no sections.
func ResultSection(text string) string {
	if body, ok := section(text, "Result"); ok {
		return body
	}
	return strings.TrimSpace(text)
}

// PageURL returns the "Page URL" line of a tool response, if any.
func PageURL(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if v, ok := strings.CutPrefix(line, "Page URL:"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func section(text, heading string) (string, bool) {
	lines := strings.Split(text, "\n")
	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "### "+heading {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return "", false
	}
	end := len(lines)
	for i := start; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "### ") {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[start:end], "\n")), true
}
