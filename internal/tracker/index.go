package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrIndexCorrupt indicates the stored index cannot be parsed. Callers
// recover by treating the build as full (empty prior index).
var ErrIndexCorrupt = errors.New("fingerprint index corrupt")

// Index is the persistent path -> content-hash mapping.
type Index struct {
	// Generation increments on every committed build.
	Generation int `json:"generation"`

	// Files maps repository-relative paths to SHA-256 content hashes.
	Files map[string]string `json:"files"`

	// UpdatedAt is the commit time of this generation.
	UpdatedAt time.Time `json:"updated_at"`
}

// IndexPath locates the index under a memory-bank output root.
func IndexPath(outputPath string) string {
	return filepath.Join(outputPath, ".membank", "index.json")
}

// NewIndex returns an empty index at generation zero.
func NewIndex() *Index {
	return &Index{Files: make(map[string]string)}
}

// LoadIndex reads an index from disk. A missing file yields an empty index
// (first full build); an unreadable or unparsable file yields ErrIndexCorrupt.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewIndex(), nil
		}
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	if idx.Files == nil {
		idx.Files = make(map[string]string)
	}
	return &idx, nil
}

// Save persists the index atomically: write to a temp file in the same
// directory, then rename over the target. Readers never observe a partial
// index.
func (i *Index) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*.json")
	if err != nil {
		return fmt.Errorf("creating temp index: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp index: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("committing index: %w", err)
	}
	return nil
}

// Next returns the successor index built from a current snapshot: entries
// for deleted files are pruned, the generation is bumped. The receiver is
// not mutated.
func (i *Index) Next(snapshot map[string]string) *Index {
	next := &Index{
		Generation: i.Generation + 1,
		Files:      make(map[string]string, len(snapshot)),
		UpdatedAt:  time.Now().UTC(),
	}
	for path, hash := range snapshot {
		next.Files[path] = hash
	}
	return next
}
