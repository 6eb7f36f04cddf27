// Package fileid derives stable source ids for ingested bill files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "bill:"

// SourceID returns the source id recorded on every record parsed from the file at path.
// The path is cleaned first, so equivalent spellings of one absolute path share an id.
func SourceID(path string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(path)))
	return prefix + hex.EncodeToString(hash[:16])
}
