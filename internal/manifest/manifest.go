package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// RootComponentID is the implicit component that owns every file not
// claimed by any other component's globs.
const RootComponentID = "root"

// Kind classifies a component.
type Kind string

const (
	KindService  Kind = "service"
	KindLibrary  Kind = "library"
	KindFrontend Kind = "frontend"
	KindLayer    Kind = "layer"
)

// validKinds guards manifest parsing against made-up component kinds.
var validKinds = map[Kind]bool{
	KindService:  true,
	KindLibrary:  true,
	KindFrontend: true,
	KindLayer:    true,
}

// Component describes one logical subset of the repository.
type Component struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Kind        Kind     `json:"kind"`
	Globs       []string `json:"globs"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Technology  string   `json:"technology,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Manifest is the complete Phase 1 output.
type Manifest struct {
	SystemType  string      `json:"system_type"`
	Components  []Component `json:"components"`
	Rationale   string      `json:"breakdown_rationale,omitempty"`
	GeneratedAt time.Time   `json:"generated_at"`
}

var (
	// ErrNoComponents indicates a manifest with an empty component list.
	ErrNoComponents = errors.New("manifest has no components")

	// ErrDuplicateID indicates two components sharing an id.
	ErrDuplicateID = errors.New("duplicate component id")
)

// Validate checks manifest invariants: at least one component, unique ids,
// non-empty glob sets, and dependency references that resolve. Disjoint
// output ownership follows from unique ids since each component writes only
// under its own id-named subtree.
func (m *Manifest) Validate() error {
	if len(m.Components) == 0 {
		return ErrNoComponents
	}

	seen := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		if c.ID == "" {
			return fmt.Errorf("component %q has empty id", c.Name)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, c.ID)
		}
		seen[c.ID] = true

		if !validKinds[c.Kind] {
			return fmt.Errorf("component %s has invalid kind %q", c.ID, c.Kind)
		}
		if len(c.Globs) == 0 && c.ID != RootComponentID {
			return fmt.Errorf("component %s owns no file globs", c.ID)
		}
	}

	for _, c := range m.Components {
		for _, dep := range c.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("component %s depends on unknown component %s", c.ID, dep)
			}
		}
	}

	return nil
}

// Component returns the component with the given id, or nil.
func (m *Manifest) Component(id string) *Component {
	for i := range m.Components {
		if m.Components[i].ID == id {
			return &m.Components[i]
		}
	}
	return nil
}

// Owns reports whether a repository-relative path falls inside this
// component's glob set. Patterns ending in "/**" match any path under the
// prefix; other patterns are matched with path.Match against the full path
// and against the base name.
func (c *Component) Owns(p string) bool {
	p = path.Clean(strings.TrimPrefix(p, "./"))
	for _, g := range c.Globs {
		if matchGlob(g, p) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, p string) bool {
	pattern = path.Clean(strings.TrimPrefix(pattern, "./"))

	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		return p == prefix || strings.HasPrefix(p, prefix+"/")
	}
	if pattern == "**" {
		return true
	}
	if ok, _ := path.Match(pattern, p); ok {
		return true
	}
	// Bare filename patterns like "*.go" apply anywhere in the tree.
	if !strings.Contains(pattern, "/") {
		if ok, _ := path.Match(pattern, path.Base(p)); ok {
			return true
		}
	}
	return false
}

// Owner resolves the owning component id for a path. First declared
// component wins; unclaimed paths belong to the implicit root component.
func (m *Manifest) Owner(p string) string {
	for i := range m.Components {
		if m.Components[i].Owns(p) {
			return m.Components[i].ID
		}
	}
	return RootComponentID
}

// AssignOwners partitions paths by owning component id.
func (m *Manifest) AssignOwners(paths []string) map[string][]string {
	owned := make(map[string][]string)
	for _, p := range paths {
		id := m.Owner(p)
		owned[id] = append(owned[id], p)
	}
	return owned
}

// ImplicitRoot describes the catch-all component owning paths no declared
// component claims. It is synthesized on demand and never part of a parsed
// manifest.
func ImplicitRoot() Component {
	return Component{
		ID:          RootComponentID,
		Name:        "Root",
		Kind:        KindLayer,
		Globs:       []string{"**"},
		Description: "files not claimed by any component",
	}
}

// SingleRoot returns the fallback manifest used when no logical boundaries
// are detected: one root component spanning the whole repository.
func SingleRoot() *Manifest {
	root := ImplicitRoot()
	root.Description = "entire repository"
	return &Manifest{
		SystemType:  "monolith",
		Components:  []Component{root},
		GeneratedAt: time.Now().UTC(),
	}
}

// Parse decodes a manifest from raw JSON and validates it.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.GeneratedAt.IsZero() {
		m.GeneratedAt = time.Now().UTC()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
