package bank

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChangelogEntry summarizes one build for the changelog. Entries are
// prepended so the newest build reads first.
type ChangelogEntry struct {
	Date             string   `yaml:"date"`
	Title            string   `yaml:"title"`
	Mode             string   `yaml:"mode"`
	Added            []string `yaml:"added_components,omitempty"`
	Modified         []string `yaml:"modified_components,omitempty"`
	Removed          []string `yaml:"removed_components,omitempty"`
	NeedsReview      []string `yaml:"needs_review,omitempty"`
	FailedComponents []string `yaml:"failed_components,omitempty"`
	Impact           string   `yaml:"impact,omitempty"`
}

// AppendChangelog prepends an entry to changelog.md under the output root.
// Each entry is a YAML front-matter block followed by a human summary, so
// the file stays both greppable and machine-readable.
func AppendChangelog(outputPath string, entry ChangelogEntry) error {
	meta, err := yaml.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding changelog entry: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(meta)
	b.WriteString("---\n\n")
	b.WriteString(renderSummary(entry))
	b.WriteString("\n")

	path := filepath.Join(outputPath, ChangelogDoc)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading changelog: %w", err)
	}

	b.Write(existing)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing changelog: %w", err)
	}
	return nil
}

func renderSummary(entry ChangelogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s: %s\n\n", entry.Date, entry.Title)

	writeList := func(heading string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "**%s:** %s\n\n", heading, strings.Join(items, ", "))
	}

	writeList("Added", entry.Added)
	writeList("Modified", entry.Modified)
	writeList("Removed", entry.Removed)
	writeList("Needs review", entry.NeedsReview)
	writeList("Failed components", entry.FailedComponents)

	if entry.Impact != "" {
		fmt.Fprintf(&b, "%s\n", entry.Impact)
	}
	return b.String()
}
