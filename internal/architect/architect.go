package architect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/membank/internal/agent"
	"github.com/fyrsmithlabs/membank/internal/costs"
	"github.com/fyrsmithlabs/membank/internal/logging"
	"github.com/fyrsmithlabs/membank/internal/manifest"
)

// Phase is the tracker key for architecture-phase cost records.
const Phase = "architecture"

// ErrArchitectureUnresolved indicates Phase 1 could not produce a usable
// manifest. This aborts the whole build.
var ErrArchitectureUnresolved = errors.New("architecture unresolved")

const systemPrompt = `You are an expert software architect partitioning a repository into
logical components for parallel documentation analysis.

Identify components along service boundaries, distinct applications, major
functional modules, and shared libraries. Aim for 2-20 components; each must
be substantial enough to warrant its own documentation subtree. Do not
create components for individual classes or files.

Respond with a single JSON object:
{
  "system_type": "<microservices|monolith|modular_monolith|serverless|mixed>",
  "breakdown_rationale": "<one paragraph>",
  "components": [
    {
      "id": "<kebab-case-id>",
      "name": "<human name>",
      "kind": "<service|library|frontend|layer>",
      "globs": ["<path glob>", ...],
      "depends_on": ["<component id>", ...],
      "technology": "<primary stack>",
      "description": "<one sentence>"
    }
  ]
}

Globs must be disjoint: every file belongs to at most one component.`

// Agent runs the single Phase 1 invocation.
type Agent struct {
	invoker agent.Invoker
	tracker *costs.Tracker
	logger  *logging.Logger

	// MaxTurns is the architecture invocation's turn budget.
	MaxTurns int
}

// New creates the architecture agent.
func New(invoker agent.Invoker, tracker *costs.Tracker, logger *logging.Logger, maxTurns int) *Agent {
	return &Agent{
		invoker:  invoker,
		tracker:  tracker,
		logger:   logger,
		MaxTurns: maxTurns,
	}
}

// Propose analyzes the repository listing and returns a validated manifest.
// When the model detects no logical boundaries it falls back to a single
// root component spanning the whole repository.
func (a *Agent) Propose(ctx context.Context, repoPath string, snapshot map[string]string) (*manifest.Manifest, error) {
	ctx = logging.WithPhase(ctx, Phase)

	out, err := a.invoker.Invoke(ctx, agent.Request{
		Role:        agent.RoleArchitecture,
		System:      systemPrompt,
		Instruction: renderListing(repoPath, snapshot),
		MaxTurns:    a.MaxTurns,
	})
	if err != nil {
		a.tracker.Record(Phase, "", agent.UsageOf(err))
		return nil, fmt.Errorf("%w: %v", ErrArchitectureUnresolved, err)
	}
	a.tracker.Record(Phase, "", out.Usage)

	m, err := parseManifest(out.Text)
	if err != nil {
		a.logger.Error(ctx, "manifest unparsable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrArchitectureUnresolved, err)
	}

	a.logger.Info(ctx, "architecture analysis complete",
		zap.String("system_type", m.SystemType),
		zap.Int("components", len(m.Components)),
	)
	return m, nil
}

// parseManifest decodes the model output. An explicit empty component list
// is a legitimate "no boundaries detected" answer and falls back to the
// single-root manifest; malformed JSON does not.
func parseManifest(text string) (*manifest.Manifest, error) {
	raw, ok := agent.ExtractJSON(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in agent output")
	}

	var m manifest.Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if len(m.Components) == 0 {
		return manifest.SingleRoot(), nil
	}
	return manifest.Parse([]byte(raw))
}

// renderListing flattens the snapshot into a sorted file listing so the
// model sees a deterministic view of the repository.
func renderListing(repoPath string, snapshot map[string]string) string {
	paths := make([]string, 0, len(snapshot))
	for p := range snapshot {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s (%d files)\n\nFile listing:\n", repoPath, len(paths))
	for _, p := range paths {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	return b.String()
}
