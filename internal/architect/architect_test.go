package architect

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/membank/internal/agent"
	"github.com/fyrsmithlabs/membank/internal/costs"
	"github.com/fyrsmithlabs/membank/internal/logging"
	"github.com/fyrsmithlabs/membank/internal/manifest"
)

// stubInvoker returns canned output or an error.
type stubInvoker struct {
	out      *agent.Output
	err      error
	requests []agent.Request
}

func (s *stubInvoker) Invoke(ctx context.Context, req agent.Request) (*agent.Output, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

const goodManifest = `Here is my analysis.

` + "```json" + `
{
  "system_type": "modular_monolith",
  "breakdown_rationale": "two clear applications",
  "components": [
    {"id": "backend", "name": "Backend", "kind": "service", "globs": ["backend/**"]},
    {"id": "web", "name": "Web UI", "kind": "frontend", "globs": ["web/**"], "depends_on": ["backend"]}
  ]
}
` + "```"

func newAgent(inv agent.Invoker) (*Agent, *costs.Tracker) {
	tracker := costs.NewTracker("claude-sonnet-4-5-20250929")
	return New(inv, tracker, logging.NewTestLogger().Logger, 40), tracker
}

func TestProposeParsesManifest(t *testing.T) {
	inv := &stubInvoker{out: &agent.Output{
		Text:  goodManifest,
		Usage: costs.Usage{InputTokens: 1000, OutputTokens: 200},
	}}
	a, tracker := newAgent(inv)

	m, err := a.Propose(context.Background(), "/repo", map[string]string{"backend/main.go": "h1"})
	require.NoError(t, err)
	assert.Equal(t, "modular_monolith", m.SystemType)
	require.Len(t, m.Components, 2)
	assert.Equal(t, "backend", m.Components[0].ID)

	// Usage was recorded under the architecture phase.
	snap := tracker.Snapshot()
	assert.Equal(t, 1200, snap.TotalTokens)
	assert.Greater(t, snap.PhaseCosts[Phase], 0.0)
}

func TestProposeSendsSortedListing(t *testing.T) {
	inv := &stubInvoker{out: &agent.Output{Text: goodManifest}}
	a, _ := newAgent(inv)

	_, err := a.Propose(context.Background(), "/repo", map[string]string{
		"z.go": "h", "a.go": "h", "m/mid.go": "h",
	})
	require.NoError(t, err)
	require.Len(t, inv.requests, 1)

	prompt := inv.requests[0].Instruction
	assert.Less(t, strings.Index(prompt, "a.go"), strings.Index(prompt, "m/mid.go"))
	assert.Less(t, strings.Index(prompt, "m/mid.go"), strings.Index(prompt, "z.go"))
	assert.Equal(t, agent.RoleArchitecture, inv.requests[0].Role)
}

func TestProposeFallsBackToSingleRoot(t *testing.T) {
	inv := &stubInvoker{out: &agent.Output{Text: `{"system_type": "unknown", "components": []}`}}
	a, _ := newAgent(inv)

	m, err := a.Propose(context.Background(), "/repo", nil)
	require.NoError(t, err)
	require.Len(t, m.Components, 1)
	assert.Equal(t, manifest.RootComponentID, m.Components[0].ID)
}

func TestProposeInvocationFailureIsFatal(t *testing.T) {
	inv := &stubInvoker{err: &agent.Failure{
		Kind:  agent.FailureTimeout,
		Err:   errors.New("no progress"),
		Usage: costs.Usage{InputTokens: 500},
	}}
	a, tracker := newAgent(inv)

	_, err := a.Propose(context.Background(), "/repo", nil)
	assert.ErrorIs(t, err, ErrArchitectureUnresolved)

	// Tokens burned before the failure still count.
	assert.Equal(t, 500, tracker.Snapshot().TotalTokens)
}

func TestProposeUnparsableManifestIsFatal(t *testing.T) {
	inv := &stubInvoker{out: &agent.Output{Text: "I could not decide on a structure."}}
	a, _ := newAgent(inv)

	_, err := a.Propose(context.Background(), "/repo", nil)
	assert.ErrorIs(t, err, ErrArchitectureUnresolved)
}

func TestProposeInvalidManifestIsFatal(t *testing.T) {
	inv := &stubInvoker{out: &agent.Output{
		Text: `{"components": [{"id": "x", "kind": "nonsense", "globs": ["**"]}]}`,
	}}
	a, _ := newAgent(inv)

	_, err := a.Propose(context.Background(), "/repo", nil)
	assert.ErrorIs(t, err, ErrArchitectureUnresolved)
}

