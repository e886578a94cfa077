package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

const maxNameBytes = 200

var (
	invalidNameRe = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\s]`)
	underscoreRe  = regexp.MustCompile(`_+`)
)

// SanitizeName turns a dashboard name into a safe file stem.
func SanitizeName(name string) string {
	s := invalidNameRe.ReplaceAllString(name, "_")
	s = underscoreRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_.")
	if len(s) > maxNameBytes {
		s = s[:maxNameBytes]
		for !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
	}
	if s == "" {
		return "dashboard"
	}
	return s
}

// Filename is SanitizeName with the export extension.
func Filename(name string) string {
	return SanitizeName(name) + ".json"
}

type ManifestMeta struct {
	Creator         string `json:"creator" yaml:"creator"`
	TotalDashboards int    `json:"totalDashboards" yaml:"total_dashboards"`
	ExportDirectory string `json:"exportDirectory" yaml:"export_directory"`
}

type ManifestEntry struct {
	Record   `yaml:",inline"`
	Filename string `json:"filename" yaml:"filename"`
	Filepath string `json:"filepath" yaml:"filepath"`
}

// Manifest lists the dashboards a bulk export is going to write.
type Manifest struct {
	Meta       ManifestMeta    `json:"exportMetadata" yaml:"export_metadata"`
	Dashboards []ManifestEntry `json:"dashboards" yaml:"dashboards"`
}

func NewManifest(creator, outputDir string, records []Record) Manifest {
	m := Manifest{
		Meta: ManifestMeta{
			Creator:         creator,
			TotalDashboards: len(records),
			ExportDirectory: outputDir,
		},
		Dashboards: make([]ManifestEntry, 0, len(records)),
	}
	for _, r := range records {
		name := Filename(r.Name)
		m.Dashboards = append(m.Dashboards, ManifestEntry{
			Record:   r,
			Filename: name,
			Filepath: filepath.Join(outputDir, name),
		})
	}
	return m
}

// Encode writes m as "json" or "yaml".
func (m Manifest) Encode(w io.Writer, format string) error {
	return Encode(w, format, m)
}

// Encode writes v as indented JSON or as YAML.
func Encode(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}
