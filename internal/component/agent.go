package component

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/membank/internal/agent"
	"github.com/fyrsmithlabs/membank/internal/bank"
	"github.com/fyrsmithlabs/membank/internal/costs"
	"github.com/fyrsmithlabs/membank/internal/logging"
	"github.com/fyrsmithlabs/membank/internal/manifest"
)

const systemPrompt = `You are a senior engineer writing the documentation subtree for one
component of a larger repository. Other agents handle the other components;
stay strictly inside your component's scope.

Emit each documentation file as a block:

<output-file path="FILENAME">
...markdown content...
</output-file>

Required files: %s.
Optionally emit api_contracts.md when the component exposes interfaces.
Ground every claim in the provided source files.`

// Agent runs one component analysis invocation with retry.
type Agent struct {
	invoker  agent.Invoker
	tracker  *costs.Tracker
	logger   *logging.Logger
	retryCfg agent.RetryConfig

	// MaxTurns is the per-component turn budget.
	MaxTurns int
}

// NewAgent creates a component agent.
func NewAgent(invoker agent.Invoker, tracker *costs.Tracker, logger *logging.Logger, retryCfg agent.RetryConfig, maxTurns int) *Agent {
	return &Agent{
		invoker:  invoker,
		tracker:  tracker,
		logger:   logger,
		retryCfg: retryCfg,
		MaxTurns: maxTurns,
	}
}

// Analyze documents one component. Failures are captured in the result,
// never returned: isolation is the orchestrator's contract.
func (a *Agent) Analyze(ctx context.Context, comp manifest.Component, files []agent.ContextFile) *Result {
	ctx = logging.WithComponent(logging.WithPhase(ctx, Phase), comp.ID)
	start := time.Now()

	out, err := agent.Retry(ctx, a.retryCfg, a.logger, func() (*agent.Output, error) {
		o, err := a.invoker.Invoke(ctx, agent.Request{
			Role:        agent.RoleComponent,
			ComponentID: comp.ID,
			System:      fmt.Sprintf(systemPrompt, strings.Join(bank.RequiredComponentFiles, ", ")),
			Instruction: renderInstruction(comp),
			Context:     files,
			MaxTurns:    a.MaxTurns,
		})
		if err != nil {
			a.tracker.Record(Phase, comp.ID, agent.UsageOf(err))
			return nil, err
		}
		if len(o.Files) == 0 {
			a.tracker.Record(Phase, comp.ID, o.Usage)
			return nil, &agent.Failure{
				Kind: agent.FailureCapability,
				Err:  fmt.Errorf("agent emitted no documentation files"),
			}
		}
		a.tracker.Record(Phase, comp.ID, o.Usage)
		return o, nil
	})

	result := &Result{
		ComponentID: comp.ID,
		Elapsed:     time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
		if f, ok := agent.AsFailure(err); ok {
			result.FailureKind = f.Kind
			result.Usage = f.Usage
		}
		a.logger.Warn(ctx, "component analysis failed", zap.Error(err))
		return result
	}

	result.Success = true
	result.Files = out.Files
	result.Usage = out.Usage
	result.Fingerprints = make(map[string]string, len(out.Files))
	for path, content := range out.Files {
		result.Fingerprints[path] = fingerprint(content)
	}

	a.logger.Info(ctx, "component analysis complete",
		zap.Int("files", len(out.Files)),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result
}

func renderInstruction(comp manifest.Component) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Component: %s (%s, kind=%s)\n", comp.Name, comp.ID, comp.Kind)
	if comp.Technology != "" {
		fmt.Fprintf(&b, "Technology: %s\n", comp.Technology)
	}
	if comp.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", comp.Description)
	}
	if len(comp.DependsOn) > 0 {
		fmt.Fprintf(&b, "Depends on components: %s\n", strings.Join(comp.DependsOn, ", "))
	}
	fmt.Fprintf(&b, "Owned paths: %s\n", strings.Join(comp.Globs, ", "))
	b.WriteString("\nWrite the documentation subtree for this component from the attached sources.")
	return b.String()
}
