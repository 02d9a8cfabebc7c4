// Package state provides filesystem-backed storage for session transcripts,
// spilled tool output and user memories.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/metatron/internal/types"
)

var (
	_ types.EventStore    = (*EventStore)(nil)
	_ types.ArtifactStore = (*ArtifactStore)(nil)
	_ types.MemoryService = (*FileMemory)(nil)
)

// ErrInvalidID is returned for ids that cannot be used as a path element.
var ErrInvalidID = errors.New("invalid id")

// ErrNotFound is returned when a stored item does not exist.
var ErrNotFound = errors.New("not found")

func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
