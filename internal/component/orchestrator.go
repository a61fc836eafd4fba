package component

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/membank/internal/agent"
	"github.com/fyrsmithlabs/membank/internal/costs"
	"github.com/fyrsmithlabs/membank/internal/logging"
	"github.com/fyrsmithlabs/membank/internal/manifest"
	"github.com/fyrsmithlabs/membank/internal/tracker"
)

// maxContextBytes caps the source context handed to one component agent.
const maxContextBytes = 512 * 1024

// Orchestrator fans out component agents with bounded concurrency.
type Orchestrator struct {
	agent   *Agent
	tracker *costs.Tracker
	logger  *logging.Logger

	// Limit is the maximum number of in-flight component invocations.
	Limit int
}

// NewOrchestrator creates the Phase 2 orchestrator.
func NewOrchestrator(a *Agent, t *costs.Tracker, logger *logging.Logger, limit int) *Orchestrator {
	if limit <= 0 {
		limit = 1
	}
	return &Orchestrator{
		agent:   a,
		tracker: t,
		logger:  logger,
		Limit:   limit,
	}
}

// Select returns the components that need reprocessing. In full mode (nil
// change set) every component runs. In incremental mode, any change inside
// a component's glob set forces that whole component to be reprocessed;
// partial-file reprocessing within a component is not supported. Changes
// owned by no declared component route to a synthesized root component so
// they are never silently dropped.
func Select(m *manifest.Manifest, cs *tracker.ChangeSet) []manifest.Component {
	if cs == nil {
		return m.Components
	}

	touched := make(map[string]bool)
	for _, p := range cs.Touched() {
		touched[m.Owner(p)] = true
	}

	selected := make([]manifest.Component, 0, len(m.Components))
	for _, c := range m.Components {
		if touched[c.ID] {
			selected = append(selected, c)
		}
	}
	if touched[manifest.RootComponentID] && m.Component(manifest.RootComponentID) == nil {
		selected = append(selected, manifest.ImplicitRoot())
	}
	return selected
}

// Run executes the selected components through the worker pool and returns
// results in manifest order regardless of completion order. Cancellation
// stops new submissions immediately; already-dispatched invocations run to
// their own timeout.
func (o *Orchestrator) Run(ctx context.Context, m *manifest.Manifest, selected []manifest.Component, repoPath string, snapshot map[string]string) []*Result {
	ctx = logging.WithPhase(ctx, Phase)

	if len(selected) == 0 {
		o.logger.Info(ctx, "no components to analyze")
		return nil
	}

	o.tracker.SetPhaseTotal(Phase, len(selected))
	o.logger.Info(ctx, "starting component analysis",
		zap.Int("components", len(selected)),
		zap.Int("concurrency_limit", o.Limit),
	)

	owned := ownedPaths(m, snapshot)

	sem := make(chan struct{}, o.Limit)
	resultCh := make(chan *Result, len(selected))
	var wg sync.WaitGroup

	for _, comp := range selected {
		select {
		case <-ctx.Done():
			// Stop submitting; record the remainder as cancelled failures.
			resultCh <- cancelledResult(comp.ID, ctx.Err())
			continue
		default:
		}

		wg.Add(1)
		go func(comp manifest.Component) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				resultCh <- cancelledResult(comp.ID, ctx.Err())
				return
			}

			files := loadContext(repoPath, owned[comp.ID])
			result := o.agent.Analyze(ctx, comp, files)
			o.tracker.MarkDone(Phase)
			resultCh <- result
		}(comp)
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	byID := make(map[string]*Result, len(selected))
	for r := range resultCh {
		byID[r.ComponentID] = r
	}

	// Manifest order for deterministic downstream consumption. Synthesized
	// components (the implicit root) follow in id order.
	results := make([]*Result, 0, len(byID))
	for _, comp := range m.Components {
		if r, ok := byID[comp.ID]; ok {
			results = append(results, r)
			delete(byID, comp.ID)
		}
	}
	rest := make([]string, 0, len(byID))
	for id := range byID {
		rest = append(rest, id)
	}
	sort.Strings(rest)
	for _, id := range rest {
		results = append(results, byID[id])
	}

	o.logger.Info(ctx, "component analysis finished",
		zap.Int("succeeded", countSuccesses(results)),
		zap.Int("failed", len(results)-countSuccesses(results)),
	)
	return results
}

func cancelledResult(componentID string, err error) *Result {
	return &Result{
		ComponentID: componentID,
		FailureKind: agent.FailureCancelled,
		Error:       "build cancelled before dispatch: " + err.Error(),
	}
}

// ownedPaths partitions the snapshot's paths by owning component.
func ownedPaths(m *manifest.Manifest, snapshot map[string]string) map[string][]string {
	paths := make([]string, 0, len(snapshot))
	for p := range snapshot {
		paths = append(paths, p)
	}
	return m.AssignOwners(paths)
}

// loadContext reads a component's owned files up to the context budget.
// Unreadable files are skipped; the agent documents what it can see.
func loadContext(repoPath string, paths []string) []agent.ContextFile {
	var (
		files []agent.ContextFile
		total int
	)
	for _, p := range paths {
		if total >= maxContextBytes {
			break
		}
		data, err := os.ReadFile(filepath.Join(repoPath, filepath.FromSlash(p)))
		if err != nil {
			continue
		}
		if total+len(data) > maxContextBytes {
			data = data[:maxContextBytes-total]
		}
		total += len(data)
		files = append(files, agent.ContextFile{Path: p, Content: string(data)})
	}
	return files
}

func countSuccesses(results []*Result) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
