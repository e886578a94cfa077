package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// partialSuffixes mark downloads the browser is still writing.
var partialSuffixes = []string{".crdownload", ".part", ".tmp", ".download"}

// Candidate is a file seen in the download directory during one scan.
type Candidate struct {
	Path       string
	ModifiedAt time.Time
	Size       int64
	DeclaredID string
}

type fileKey struct {
	path string
	mod  int64
	size int64
}

func (c Candidate) key() fileKey {
	return fileKey{path: c.Path, mod: c.ModifiedAt.UnixNano(), size: c.Size}
}

func isPartial(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, ".") {
		return true
	}
	for _, s := range partialSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// ErrNoDeclaredID means the document parsed but carries no identifier.
var ErrNoDeclaredID = errors.New("document declares no id")

// DeclaredID reads the identifier a downloaded dashboard document declares
// about itself: "id", then "dashboardId", then "_metadata.dashboardId".
// A syntax error usually means the file is still being written.
func DeclaredID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return DeclaredIDFromBytes(data)
}

func DeclaredIDFromBytes(data []byte) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decode document: %w", err)
	}
	for _, key := range []string{"id", "dashboardId"} {
		if id := stringValue(doc[key]); id != "" {
			return id, nil
		}
	}
	if meta, ok := doc["_metadata"].(map[string]any); ok {
		if id := stringValue(meta["dashboardId"]); id != "" {
			return id, nil
		}
	}
	return "", ErrNoDeclaredID
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
