// Package fileid provides deterministic identifiers for ingested chunks.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// ChunkID returns a stable vector record ID for one chunk of one unit of a file
// in a reference set. Re-ingesting the same file yields the same IDs, so the
// vector index overwrites records instead of duplicating them.
func ChunkID(referenceSetID, filename string, unit, chunk int) string {
	return fmt.Sprintf("%s_%s_u%d_c%d", referenceSetID, FileKey(filename), unit, chunk)
}

// FileKey returns a short, ID-safe key for a filename. Only the base name is
// used so uploads of the same document from different paths collide on purpose.
func FileKey(filename string) string {
	name := strings.TrimSpace(filepath.Base(filepath.Clean(filename)))
	hash := sha256.Sum256([]byte(name))
	return hex.EncodeToString(hash[:8])
}
