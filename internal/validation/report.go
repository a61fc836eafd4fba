package validation

import (
	"time"

	"github.com/fyrsmithlabs/membank/internal/costs"
)

// Phase is the tracker key for validation-phase cost records.
const Phase = "validation"

// DefaultAcceptanceThreshold is the minimum overall score a component
// needs to merge without a review flag.
const DefaultAcceptanceThreshold = 0.8

// Severity grades a validation issue.
type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
)

// Issue is one problem the validator found in a generated document.
type Issue struct {
	File        string   `json:"file"`
	Section     string   `json:"section,omitempty"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Fix records one applied correction.
type Fix struct {
	File        string `json:"file"`
	Description string `json:"description"`
}

// Report is the validation outcome for one component. All scores are
// in [0, 1].
type Report struct {
	ComponentID string `json:"component_id"`

	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`
	Confidence   float64 `json:"confidence"`

	Issues []Issue `json:"issues,omitempty"`
	Fixes  []Fix   `json:"fixes,omitempty"`

	// FixedFiles holds corrected content keyed by subtree-relative path.
	// The coordinator overlays these on the component result at merge.
	FixedFiles map[string]string `json:"-"`

	// Error is set when the validator itself failed. The component is
	// still merged but flagged for human review.
	Error string `json:"error,omitempty"`

	Elapsed time.Duration `json:"elapsed_ns"`
	Usage   costs.Usage   `json:"usage"`
}

// Overall is the mean of the three quality scores.
func (r *Report) Overall() float64 {
	return (r.Completeness + r.Accuracy + r.Consistency) / 3
}

// Passed reports whether the component clears the acceptance threshold.
// A failed validator never passes, regardless of partial scores.
func (r *Report) Passed(threshold float64) bool {
	if r.Error != "" {
		return false
	}
	return r.Overall() >= threshold
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
