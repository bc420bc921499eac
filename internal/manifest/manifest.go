// Package manifest lists the files of a survey delivery with their hashes.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/gsfgate/internal/common"
)

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
}

type Manifest struct {
	CreatedAt time.Time `json:"createdAt"`
	ShaAlgo   string    `json:"shaAlgo"`
	Items     []Item    `json:"items"`
}

func Build(paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256"}
	for _, p := range paths {
		hex, sz, err := common.Sha256OfFile(p)
		if err != nil {
			return m, err
		}
		m.Items = append(m.Items, Item{Path: p, Size: sz, Sha256: hex, Type: fileType(p)})
	}
	return m, nil
}

func fileType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gsf":
		return "gsf"
	case ".csv":
		return "csv"
	case ".json":
		return "json"
	case ".jsonl":
		return "jsonl"
	case ".pdf":
		return "pdf"
	case ".yaml", ".yml":
		return "config"
	default:
		return "other"
	}
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

// Verify rehashes every item and returns the paths whose size or hash no
// longer match.
func Verify(m Manifest) ([]string, error) {
	var changed []string
	for _, item := range m.Items {
		hex, sz, err := common.Sha256OfFile(item.Path)
		if err != nil {
			if os.IsNotExist(err) {
				changed = append(changed, item.Path)
				continue
			}
			return changed, err
		}
		if hex != item.Sha256 || sz != item.Size {
			changed = append(changed, item.Path)
		}
	}
	return changed, nil
}
