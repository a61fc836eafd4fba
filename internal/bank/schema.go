package bank

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Every component subtree follows the same fixed section schema. Validation
// agents check these files for presence before anything else.
var RequiredComponentFiles = []string{
	"projectbrief.md",   // purpose
	"productContext.md", // context
	"systemPatterns.md", // patterns
	"techContext.md",    // technical context
	"activeContext.md",  // active focus
	"progress.md",       // progress
	"tasks.md",          // task list
}

// OptionalComponentFiles may be emitted when applicable but are never
// required.
var OptionalComponentFiles = []string{
	"api_contracts.md",
}

// Top-level documents written once per build.
const (
	ManifestDoc       = "architecture_manifest.md"
	ManifestJSON      = "architecture_manifest.json"
	ComponentSummary  = "component_analysis_summary.json"
	ValidationSummary = "validation_summary.json"
	ChangelogDoc      = "changelog.md"
	CostSummary       = "cost_summary.json"
)

// ComponentsDir is the subdirectory holding one subtree per component.
const ComponentsDir = "components"

// ListComponents returns the ids of the component subtrees committed under
// the output root, sorted. A missing components directory means no build
// has merged yet.
func ListComponents(outputPath string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(outputPath, ComponentsDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing components: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// IsRequiredFile reports whether name is part of the required schema.
func IsRequiredFile(name string) bool {
	for _, f := range RequiredComponentFiles {
		if f == name {
			return true
		}
	}
	return false
}
