package dashboard

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/adityalohuni/dashport/internal/snapshot"
)

var (
	dateRe    = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)
	byRe      = regexp.MustCompile(`(?i)^(?:created\s+)?by[:\s]\s*(.+)$`)
	actionRe  = regexp.MustCompile(`(?i)favorites|edit|options|more actions`)
	linkAttrs = []string{"/url", "href", "url"}
	textRoles = map[string]bool{"text": true, "gridcell": true, "cell": true, "generic": true, "StaticText": true, "paragraph": true}
)

// Issue describes a row that could not become a record.
type Issue struct {
	Index  int    `json:"index"`
	Ref    string `json:"ref,omitempty"`
	Label  string `json:"label,omitempty"`
	Reason string `json:"reason"`
}

type Options struct {
	// BaseURL resolves relative link targets.
	BaseURL string
	// UnknownCreator replaces missing or placeholder creators. Defaults to
	// DefaultUnknownCreator.
	UnknownCreator string
	// Placeholders are cell values that mean "no creator".
	Placeholders []string
	Logger       *slog.Logger
}

type Extractor struct {
	opts         Options
	placeholders map[string]bool
}

func NewExtractor(opts Options) *Extractor {
	if opts.UnknownCreator == "" {
		opts.UnknownCreator = DefaultUnknownCreator
	}
	if opts.Placeholders == nil {
		opts.Placeholders = []string{"--", "-", "—", "N/A"}
	}
	ph := map[string]bool{"": true}
	for _, p := range opts.Placeholders {
		ph[strings.ToLower(strings.TrimSpace(p))] = true
	}
	return &Extractor{opts: opts, placeholders: ph}
}

func (e *Extractor) logger() *slog.Logger {
	if e.opts.Logger != nil {
		return e.opts.Logger
	}
	return slog.Default()
}

// Unknown returns the sentinel used for dashboards without a creator.
func (e *Extractor) Unknown() string { return e.opts.UnknownCreator }

// Extract returns the dashboards in nodes, deduplicated by ID and filtered
// by creator. Skipped rows are logged.
func (e *Extractor) Extract(nodes []snapshot.Node, creatorFilter string) []Record {
	records, issues := e.ExtractReport(nodes, creatorFilter)
	for _, is := range issues {
		e.logger().Warn("dashboard row skipped", "index", is.Index, "ref", is.Ref, "label", is.Label, "reason", is.Reason)
	}
	return records
}

// ExtractReport is Extract without logging, returning skipped rows instead.
func (e *Extractor) ExtractReport(nodes []snapshot.Node, creatorFilter string) ([]Record, []Issue) {
	var (
		records []Record
		issues  []Issue
		seen    = map[string]bool{}
	)
	creatorFilter = strings.TrimSpace(creatorFilter)

	for i, n := range nodes {
		if !isRow(n) {
			continue
		}
		rec, reason := e.record(nodes, i)
		if reason != "" {
			if !isHeaderRow(nodes, i) {
				issues = append(issues, Issue{Index: i, Ref: n.Ref, Label: n.Name, Reason: reason})
			}
			continue
		}
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		if creatorFilter != "" && rec.Creator != creatorFilter && rec.Creator != e.opts.UnknownCreator {
			continue
		}
		records = append(records, rec)
	}
	return records, issues
}

func (e *Extractor) record(nodes []snapshot.Node, row int) (Record, string) {
	sub := snapshot.Subtree(nodes, row)
	link := snapshot.Find(sub, 1, func(n snapshot.Node) bool { return n.Role == "link" && n.Name != "" })
	if link < 0 {
		return Record{}, "no link"
	}
	href := linkTarget(sub[link])
	if href == "" {
		return Record{}, "link has no url"
	}
	abs := ResolveURL(e.opts.BaseURL, href)
	id := IDFromURL(abs)
	if id == "" {
		return Record{}, "url has no trailing segment"
	}

	rec := Record{
		Name:    strings.TrimSpace(sub[link].Name),
		URL:     abs,
		ID:      id,
		Ordinal: ordinal(nodes, row),
	}
	creator, created, accessed := e.creator(sub)
	rec.Creator = creator
	rec.CreatedDate = created
	rec.LastAccessed = accessed
	return rec, ""
}

// creator runs the detection chain: "by X" text, then the cell after the
// last date cell, then the words after a date in the row label.
func (e *Extractor) creator(sub []snapshot.Node) (creator, created, accessed string) {
	for _, n := range sub[1:] {
		if !textRoles[n.Role] {
			continue
		}
		if m := byRe.FindStringSubmatch(strings.TrimSpace(n.Label())); m != nil {
			return e.normalize(m[1]), "", ""
		}
	}

	cells := cellValues(sub)
	for i := len(cells) - 1; i >= 0; i-- {
		v := cells[i]
		if !dateRe.MatchString(v) {
			continue
		}
		created = v
		if i > 0 {
			accessed = cells[i-1]
		}
		if i+1 < len(cells) {
			return e.normalize(cells[i+1]), created, accessed
		}
		return e.opts.UnknownCreator, created, accessed
	}

	label := sub[0].Name
	if loc := dateRe.FindAllStringIndex(label, -1); len(loc) > 0 {
		last := loc[len(loc)-1]
		return e.normalize(label[last[1]:]), label[last[0]:last[1]], ""
	}
	return e.opts.UnknownCreator, "", ""
}

func (e *Extractor) normalize(creator string) string {
	creator = strings.Join(strings.Fields(creator), " ")
	if e.placeholders[strings.ToLower(creator)] {
		return e.opts.UnknownCreator
	}
	return creator
}

// cellValues returns the labels of the row's cells in order, skipping cells
// that only hold action controls.
func cellValues(sub []snapshot.Node) []string {
	var out []string
	for i := 1; i < len(sub); i++ {
		n := sub[i]
		if n.Role != "gridcell" && n.Role != "cell" {
			continue
		}
		v := strings.TrimSpace(n.Label())
		if v == "" {
			v = firstText(snapshot.Subtree(sub, i))
		}
		if v == "" && hasControl(snapshot.Subtree(sub, i)) {
			continue
		}
		if actionRe.MatchString(v) && hasControl(snapshot.Subtree(sub, i)) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func firstText(sub []snapshot.Node) string {
	for _, n := range sub[1:] {
		if textRoles[n.Role] {
			if v := strings.TrimSpace(n.Label()); v != "" {
				return v
			}
		}
	}
	return ""
}

func hasControl(sub []snapshot.Node) bool {
	for _, n := range sub {
		if n.Role == "button" || n.Role == "menuitem" {
			return true
		}
	}
	return false
}

func linkTarget(n snapshot.Node) string {
	for _, key := range linkAttrs {
		if v, ok := n.Attr(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func isRow(n snapshot.Node) bool {
	return n.Kind == snapshot.KindElement && n.Role == "row"
}

func isHeaderRow(nodes []snapshot.Node, row int) bool {
	for _, n := range snapshot.Subtree(nodes, row)[1:] {
		if n.Role == "columnheader" {
			return true
		}
	}
	return false
}

// Title is the accessible name a row is known by: its first link, else its
// rowheader, else the row label.
func Title(nodes []snapshot.Node, row int) string {
	sub := snapshot.Subtree(nodes, row)
	if len(sub) == 0 {
		return ""
	}
	for _, role := range []string{"link", "rowheader"} {
		if i := snapshot.Find(sub, 1, func(n snapshot.Node) bool { return n.Role == role && n.Name != "" }); i >= 0 {
			return strings.TrimSpace(sub[i].Name)
		}
	}
	return strings.TrimSpace(sub[0].Name)
}

// Matches reports whether the row at index row carries name as its title or
// as its full accessible label.
func Matches(nodes []snapshot.Node, row int, name string) bool {
	if row < 0 || row >= len(nodes) || !isRow(nodes[row]) {
		return false
	}
	name = strings.TrimSpace(name)
	return Title(nodes, row) == name || strings.TrimSpace(nodes[row].Name) == name
}

// Rows returns the indexes of the rows matching name, in document order.
func Rows(nodes []snapshot.Node, name string) []int {
	var out []int
	for i := range nodes {
		if Matches(nodes, i, name) {
			out = append(out, i)
		}
	}
	return out
}

func ordinal(nodes []snapshot.Node, row int) int {
	name := Title(nodes, row)
	count := 0
	for i := 0; i < row; i++ {
		if Matches(nodes, i, name) {
			count++
		}
	}
	return count
}

var defaultExtractor = NewExtractor(Options{})

// Extract runs the default extractor.
func Extract(nodes []snapshot.Node, creatorFilter string) []Record {
	return defaultExtractor.Extract(nodes, creatorFilter)
}

// Discover parses snapshotText and extracts its dashboards.
func Discover(snapshotText, creatorFilter string) []Record {
	return defaultExtractor.Extract(snapshot.Parse(snapshotText), creatorFilter)
}

// Discover parses snapshotText and extracts its dashboards.
func (e *Extractor) Discover(snapshotText, creatorFilter string) []Record {
	return e.Extract(snapshot.Parse(snapshotText), creatorFilter)
}
