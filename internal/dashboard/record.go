// Package dashboard turns parsed dashboard list snapshots into records.
package dashboard

import (
	"net/url"
	"strings"
)

// DefaultUnknownCreator marks a dashboard with no recorded creator. It is a
// category of its own and survives creator filtering.
const DefaultUnknownCreator = "unknown"

// Record is one discovered dashboard. Records with equal ID are the same
// dashboard.
type Record struct {
	Name         string `json:"name" yaml:"name"`
	URL          string `json:"url" yaml:"url"`
	ID           string `json:"id" yaml:"id"`
	Creator      string `json:"creator" yaml:"creator"`
	Ordinal      int    `json:"ordinal" yaml:"ordinal"`
	CreatedDate  string `json:"createdDate,omitempty" yaml:"created_date,omitempty"`
	LastAccessed string `json:"lastAccessed,omitempty" yaml:"last_accessed,omitempty"`
}

// IDFromURL returns the trailing path segment of raw, ignoring query,
// fragment and trailing slashes.
func IDFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	path := raw
	if u, err := url.Parse(raw); err == nil {
		path = u.Path
	} else {
		if i := strings.IndexAny(path, "?#"); i >= 0 {
			path = path[:i]
		}
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return path
}

// ResolveURL makes ref absolute against base. ref is returned unchanged when
// either cannot be parsed or base is empty.
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if base == "" || ref == "" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
