package component

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/fyrsmithlabs/membank/internal/agent"
	"github.com/fyrsmithlabs/membank/internal/costs"
)

// Phase is the tracker key for component-phase cost records.
const Phase = "components"

// Result is one component agent's outcome. Files stay in memory until the
// coordinator merges them into the final tree, so aborted or failed
// invocations leave nothing on disk.
type Result struct {
	ComponentID string `json:"component_id"`

	// Files maps subtree-relative paths to generated content.
	Files map[string]string `json:"-"`

	// Fingerprints maps the same paths to SHA-256 content hashes.
	Fingerprints map[string]string `json:"fingerprints,omitempty"`

	Success     bool              `json:"success"`
	FailureKind agent.FailureKind `json:"failure_kind,omitempty"`
	Error       string            `json:"error,omitempty"`

	Elapsed time.Duration `json:"elapsed_ns"`
	Usage   costs.Usage   `json:"usage"`
}

// fingerprint hashes generated content for the result record.
func fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
