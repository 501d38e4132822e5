// Package ingest owns source ingestion: parsing artifacts, replacing chunk
// and term sets transactionally, and driving the status state machine
// NOT_INDEXED -> INDEXING -> READY | ERROR.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/inkwell-ai/inkwell/internal/db"
)

// FileInfo fingerprints one source artifact.
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
	SHA256  string    `json:"sha256"`
}

// Fingerprint computes (size, mtime, sha-256) for a file.
func Fingerprint(path string) (*FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	return &FileInfo{
		Path:    path,
		Size:    st.Size(),
		ModTime: st.ModTime().UTC(),
		SHA256:  hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Payload renders the fingerprint for status messages.
func (f *FileInfo) Payload() db.JSONB {
	return db.JSONB{
		"path":   f.Path,
		"size":   f.Size,
		"mtime":  f.ModTime.Format(time.RFC3339),
		"sha256": f.SHA256,
	}
}
