// Package resolve finds element references for actions inside a freshly
// taken snapshot. References are never cached: every lookup runs against the
// nodes it is given.
package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adityalohuni/dashport/internal/dashboard"
	"github.com/adityalohuni/dashport/internal/failure"
	"github.com/adityalohuni/dashport/internal/snapshot"
)

var ErrNotFound = errors.New("reference not found")

// Target is a resolved reference and the accessible name to pass along as
// the click hint.
type Target struct {
	Ref  string
	Name string
	Role string
}

// ActionRef returns the ref of the first button named actionLabel inside
// the row belonging to record. Rows are matched by accessible name; among
// rows with the same name the one at record.Ordinal is preferred.
func ActionRef(nodes []snapshot.Node, record dashboard.Record, actionLabel string) (string, error) {
	t, err := Action(nodes, record, actionLabel)
	return t.Ref, err
}

// Action is ActionRef returning the full target.
func Action(nodes []snapshot.Node, record dashboard.Record, actionLabel string) (Target, error) {
	rows := dashboard.Rows(nodes, record.Name)
	if len(rows) == 0 {
		return Target{}, notFound("row %q", record.Name)
	}
	row := rows[0]
	if record.Ordinal >= 0 && record.Ordinal < len(rows) {
		row = rows[record.Ordinal]
	}

	label := strings.TrimSpace(actionLabel)
	end := snapshot.End(nodes, row)
	for i := row + 1; i < end; i++ {
		n := nodes[i]
		if n.Role == "button" && strings.TrimSpace(n.Name) == label && n.Ref != "" {
			return Target{Ref: n.Ref, Name: n.Name, Role: n.Role}, nil
		}
	}
	return Target{}, notFound("button %q in row %q", label, record.Name)
}

// GlobalRef returns the ref of the first node anywhere in nodes with the
// given role and accessible name. Menus open outside the row that owns them,
// so the export entry is looked up this way.
func GlobalRef(nodes []snapshot.Node, role, label string) (string, error) {
	t, err := Global(nodes, role, label)
	return t.Ref, err
}

func Global(nodes []snapshot.Node, role, label string) (Target, error) {
	label = strings.TrimSpace(label)
	i := snapshot.Find(nodes, 0, func(n snapshot.Node) bool {
		return n.Ref != "" && n.Role == role && strings.TrimSpace(n.Name) == label
	})
	if i < 0 {
		return Target{}, notFound("%s %q", role, label)
	}
	return Target{Ref: nodes[i].Ref, Name: nodes[i].Name, Role: role}, nil
}

func notFound(format string, args ...any) error {
	return failure.New(failure.KindReferenceNotFound, "resolve", fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...))
}
