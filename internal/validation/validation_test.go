package validation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/membank/internal/agent"
	"github.com/fyrsmithlabs/membank/internal/bank"
	"github.com/fyrsmithlabs/membank/internal/component"
	"github.com/fyrsmithlabs/membank/internal/costs"
	"github.com/fyrsmithlabs/membank/internal/logging"
	"github.com/fyrsmithlabs/membank/internal/manifest"
)

// scriptedInvoker answers each invocation from a queue, tracking peak
// concurrency for the pool tests.
type scriptedInvoker struct {
	mu      sync.Mutex
	inUse   int
	maxSeen int
	calls   int

	delay   time.Duration
	handler func(req agent.Request, call int) (*agent.Output, error)
}

func (s *scriptedInvoker) Invoke(ctx context.Context, req agent.Request) (*agent.Output, error) {
	s.mu.Lock()
	s.inUse++
	if s.inUse > s.maxSeen {
		s.maxSeen = s.inUse
	}
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	defer func() {
		s.mu.Lock()
		s.inUse--
		s.mu.Unlock()
	}()
	return s.handler(req, call)
}

const cleanVerdict = `{"accuracy": 0.95, "consistency": 0.9, "confidence": 0.9, "issues": []}`

func fullDocs() map[string]string {
	files := make(map[string]string, len(bank.RequiredComponentFiles))
	for _, name := range bank.RequiredComponentFiles {
		files[name] = "# " + name + "\ncontent\n"
	}
	return files
}

func successResult(id string) *component.Result {
	return &component.Result{ComponentID: id, Success: true, Files: fullDocs()}
}

func newValidationAgent(inv agent.Invoker, autoFix bool) (*Agent, *costs.Tracker) {
	ct := costs.NewTracker("claude-sonnet-4-5-20250929")
	return NewAgent(inv, ct, logging.NewTestLogger().Logger, 10, autoFix), ct
}

func TestValidateCleanComponent(t *testing.T) {
	inv := &scriptedInvoker{handler: func(req agent.Request, call int) (*agent.Output, error) {
		return &agent.Output{Text: cleanVerdict, Usage: costs.Usage{InputTokens: 200, OutputTokens: 50}}, nil
	}}
	a, ct := newValidationAgent(inv, true)

	r := a.Validate(context.Background(), manifest.Component{ID: "a", Name: "A", Kind: manifest.KindService}, successResult("a"))

	assert.Equal(t, 1.0, r.Completeness)
	assert.InDelta(t, 0.95, r.Accuracy, 1e-9)
	assert.InDelta(t, 0.9, r.Consistency, 1e-9)
	assert.True(t, r.Passed(DefaultAcceptanceThreshold))
	assert.Empty(t, r.Issues)
	assert.Equal(t, 1, inv.calls, "clean verdict needs no fix invocation")
	assert.Equal(t, 250, ct.Snapshot().TotalTokens)
}

func TestValidateMissingFilesLowerCompleteness(t *testing.T) {
	inv := &scriptedInvoker{handler: func(req agent.Request, call int) (*agent.Output, error) {
		return &agent.Output{Text: cleanVerdict}, nil
	}}
	a, _ := newValidationAgent(inv, false)

	files := fullDocs()
	delete(files, "progress.md")
	delete(files, "tasks.md")
	res := &component.Result{ComponentID: "a", Success: true, Files: files}

	r := a.Validate(context.Background(), manifest.Component{ID: "a", Kind: manifest.KindService}, res)
	expected := float64(len(bank.RequiredComponentFiles)-2) / float64(len(bank.RequiredComponentFiles))
	assert.InDelta(t, expected, r.Completeness, 1e-9)
}

func TestValidateAutoFixAppliesOnce(t *testing.T) {
	verdict := `{"accuracy": 0.7, "consistency": 0.8, "confidence": 0.85, "issues": [
		{"file": "techContext.md", "section": "Dependencies", "severity": "major", "description": "lists a library the sources never import"}
	]}`
	inv := &scriptedInvoker{handler: func(req agent.Request, call int) (*agent.Output, error) {
		if call == 1 {
			return &agent.Output{Text: verdict}, nil
		}
		return &agent.Output{Files: map[string]string{
			"techContext.md": "# Tech Context\ncorrected\n",
			"progress.md":    "sneaky unrelated rewrite",
		}}, nil
	}}
	a, _ := newValidationAgent(inv, true)

	r := a.Validate(context.Background(), manifest.Component{ID: "a", Kind: manifest.KindService}, successResult("a"))

	assert.Equal(t, 2, inv.calls, "exactly one fix invocation")
	require.Len(t, r.Fixes, 1)
	assert.Equal(t, "techContext.md", r.Fixes[0].File)
	assert.Contains(t, r.FixedFiles, "techContext.md")
	assert.NotContains(t, r.FixedFiles, "progress.md", "fixer may only touch flagged files")
	require.Len(t, r.Issues, 1)
}

func TestValidateRecheckRefreshesScores(t *testing.T) {
	verdict := `{"accuracy": 0.6, "consistency": 0.7, "confidence": 0.8, "issues": [
		{"file": "techContext.md", "severity": "major", "description": "wrong framework named"}
	]}`
	inv := &scriptedInvoker{handler: func(req agent.Request, call int) (*agent.Output, error) {
		switch call {
		case 1:
			return &agent.Output{Text: verdict}, nil
		case 2:
			return &agent.Output{Files: map[string]string{"techContext.md": "corrected"}}, nil
		default:
			return &agent.Output{Text: cleanVerdict}, nil
		}
	}}
	a, _ := newValidationAgent(inv, true)
	a.RecheckFixes = true

	r := a.Validate(context.Background(), manifest.Component{ID: "a", Kind: manifest.KindService}, successResult("a"))

	assert.Equal(t, 3, inv.calls, "review, fix, recheck")
	assert.InDelta(t, 0.95, r.Accuracy, 1e-9, "scores refreshed from recheck")
	assert.Empty(t, r.Issues)
	require.Len(t, r.Fixes, 1)
}

func TestValidateAutoFixDisabled(t *testing.T) {
	verdict := `{"accuracy": 0.7, "consistency": 0.8, "confidence": 0.85, "issues": [
		{"file": "techContext.md", "severity": "minor", "description": "stale version number"}
	]}`
	inv := &scriptedInvoker{handler: func(req agent.Request, call int) (*agent.Output, error) {
		return &agent.Output{Text: verdict}, nil
	}}
	a, _ := newValidationAgent(inv, false)

	r := a.Validate(context.Background(), manifest.Component{ID: "a", Kind: manifest.KindService}, successResult("a"))
	assert.Equal(t, 1, inv.calls)
	assert.Empty(t, r.Fixes)
	assert.Len(t, r.Issues, 1)
}

func TestValidateInvokerFailureIsCaptured(t *testing.T) {
	inv := &scriptedInvoker{handler: func(req agent.Request, call int) (*agent.Output, error) {
		return nil, &agent.Failure{
			Kind:  agent.FailureBudgetExceeded,
			Err:   errors.New("turn budget exhausted"),
			Usage: costs.Usage{InputTokens: 300},
		}
	}}
	a, ct := newValidationAgent(inv, true)

	r := a.Validate(context.Background(), manifest.Component{ID: "a", Kind: manifest.KindService}, successResult("a"))

	assert.NotEmpty(t, r.Error)
	assert.False(t, r.Passed(DefaultAcceptanceThreshold))
	assert.Equal(t, 1.0, r.Completeness, "local completeness survives validator failure")
	assert.Equal(t, 300, ct.Snapshot().TotalTokens)
}

func TestValidateUnparsableVerdict(t *testing.T) {
	inv := &scriptedInvoker{handler: func(req agent.Request, call int) (*agent.Output, error) {
		return &agent.Output{Text: "looks fine to me"}, nil
	}}
	a, _ := newValidationAgent(inv, true)

	r := a.Validate(context.Background(), manifest.Component{ID: "a", Kind: manifest.KindService}, successResult("a"))
	assert.NotEmpty(t, r.Error)
	assert.False(t, r.Passed(DefaultAcceptanceThreshold))
}

func TestReportScoresAreClamped(t *testing.T) {
	inv := &scriptedInvoker{handler: func(req agent.Request, call int) (*agent.Output, error) {
		return &agent.Output{Text: `{"accuracy": 1.4, "consistency": -0.2, "confidence": 2, "issues": []}`}, nil
	}}
	a, _ := newValidationAgent(inv, false)

	r := a.Validate(context.Background(), manifest.Component{ID: "a", Kind: manifest.KindService}, successResult("a"))
	assert.Equal(t, 1.0, r.Accuracy)
	assert.Equal(t, 0.0, r.Consistency)
	assert.Equal(t, 1.0, r.Confidence)
}

func TestOrchestratorSkipsFailedComponents(t *testing.T) {
	inv := &scriptedInvoker{handler: func(req agent.Request, call int) (*agent.Output, error) {
		return &agent.Output{Text: cleanVerdict}, nil
	}}
	a, ct := newValidationAgent(inv, false)
	o := NewOrchestrator(a, ct, logging.NewTestLogger().Logger, 8)

	m := &manifest.Manifest{Components: []manifest.Component{
		{ID: "a", Kind: manifest.KindService, Globs: []string{"a/**"}},
		{ID: "b", Kind: manifest.KindService, Globs: []string{"b/**"}},
		{ID: "c", Kind: manifest.KindService, Globs: []string{"c/**"}},
	}}
	results := []*component.Result{
		successResult("a"),
		{ComponentID: "b", Success: false, FailureKind: agent.FailureTimeout},
		successResult("c"),
	}

	reports := o.Run(context.Background(), m, results)
	require.Len(t, reports, 2)
	assert.Equal(t, "a", reports[0].ComponentID)
	assert.Equal(t, "c", reports[1].ComponentID)
}

func TestOrchestratorRespectsPoolCeiling(t *testing.T) {
	inv := &scriptedInvoker{
		delay: 15 * time.Millisecond,
		handler: func(req agent.Request, call int) (*agent.Output, error) {
			return &agent.Output{Text: cleanVerdict}, nil
		},
	}
	a, ct := newValidationAgent(inv, false)
	o := NewOrchestrator(a, ct, logging.NewTestLogger().Logger, 4)

	var comps []manifest.Component
	var results []*component.Result
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		comps = append(comps, manifest.Component{ID: id, Kind: manifest.KindService, Globs: []string{id + "/**"}})
		results = append(results, successResult(id))
	}
	m := &manifest.Manifest{Components: comps}

	reports := o.Run(context.Background(), m, results)
	require.Len(t, reports, 8)
	assert.LessOrEqual(t, inv.maxSeen, 4)
}
