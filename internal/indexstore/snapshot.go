package indexstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hyperjump/contaluz/internal/vector"
)

// snapshotMeta is the metadata file of a snapshot triple.
type snapshotMeta struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Dimension      int            `json:"dimension"`
	Kind           vector.Kind    `json:"kind"`
	Backend        vector.Backend `json:"backend"`
	Params         vector.Params  `json:"params"`
	EmbeddingModel string         `json:"embeddingModel,omitempty"`
	VectorCount    int            `json:"vectorCount"`
	Version        uint64         `json:"version"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	HasMapping     bool           `json:"hasMapping"`
}

func blobPath(dir, id string, v uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d.index", id, v))
}

func mappingPath(dir, id string, v uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d_mapping.json", id, v))
}

func metadataPath(dir, id string, v uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d_metadata.json", id, v))
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// saveBlobAtomic lets the engine write its blob to a temporary file, then renames it.
func saveBlobAtomic(engine vector.VectorIndex, path string) error {
	tmp := path + ".tmp"
	if err := engine.Save(tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// snapshotFiles lists every snapshot file of id in dir, temporary files included. Index ids
// are limited to [A-Za-z0-9-], carry no glob metacharacters and never contain "_", so the
// prefix cannot match another index.
func snapshotFiles(dir, id string) ([]string, error) {
	pattern := id + "_*"
	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		files = append(files, filepath.Join(dir, m))
	}
	return files, nil
}

// diskUsage sums the sizes of files, skipping ones that vanished.
func diskUsage(files []string) (int64, error) {
	var total int64
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
		}
	}
	return total, nil
}
