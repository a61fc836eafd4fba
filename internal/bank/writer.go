package bank

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Writer materializes the memory-bank tree under a single output root.
// Each output path may be written at most once per build; two components
// claiming the same path is a configuration error surfaced as ErrPathClaimed.
type Writer struct {
	root string

	mu      sync.Mutex
	written map[string]string // rel path -> claiming component
}

// ErrPathClaimed is wrapped when an output path is written twice.
var ErrPathClaimed = fmt.Errorf("output path already claimed")

// NewWriter creates a writer rooted at outputPath.
func NewWriter(outputPath string) *Writer {
	return &Writer{
		root:    outputPath,
		written: make(map[string]string),
	}
}

// Root returns the output root directory.
func (w *Writer) Root() string {
	return w.root
}

// ComponentDir returns the subtree directory for a component id.
func (w *Writer) ComponentDir(componentID string) string {
	return filepath.Join(w.root, ComponentsDir, componentID)
}

// WriteComponentFiles writes a component's emitted files under its own
// subtree. Paths are relative to the component directory; absolute paths
// and traversal are rejected.
func (w *Writer) WriteComponentFiles(componentID string, files map[string]string) ([]string, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	written := make([]string, 0, len(names))
	for _, name := range names {
		rel, err := w.componentRel(componentID, name)
		if err != nil {
			return written, err
		}
		if err := w.claim(rel, componentID); err != nil {
			return written, err
		}
		if err := w.writeFile(rel, []byte(files[name])); err != nil {
			return written, err
		}
		written = append(written, rel)
	}
	return written, nil
}

// WriteRootDoc writes one of the fixed top-level documents.
func (w *Writer) WriteRootDoc(name, content string) error {
	if err := w.claim(name, ""); err != nil {
		return err
	}
	return w.writeFile(name, []byte(content))
}

// WriteJSON marshals v with indentation into a top-level document.
func (w *Writer) WriteJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := w.claim(name, ""); err != nil {
		return err
	}
	return w.writeFile(name, append(data, '\n'))
}

func (w *Writer) componentRel(componentID, name string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(name))
	if strings.HasPrefix(clean, "/") || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("component %s emitted invalid path %q", componentID, name)
	}
	// Agents sometimes emit paths already prefixed with their subtree.
	prefix := ComponentsDir + "/" + componentID + "/"
	clean = strings.TrimPrefix(clean, prefix)
	return filepath.Join(ComponentsDir, componentID, filepath.FromSlash(clean)), nil
}

func (w *Writer) claim(rel, componentID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if owner, ok := w.written[rel]; ok {
		return fmt.Errorf("%w: %s (by %q, again by %q)", ErrPathClaimed, rel, owner, componentID)
	}
	w.written[rel] = componentID
	return nil
}

func (w *Writer) writeFile(rel string, data []byte) error {
	full := filepath.Join(w.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(rel), err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	return nil
}
