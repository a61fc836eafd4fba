package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/membank/internal/agent"
	"github.com/fyrsmithlabs/membank/internal/architect"
	"github.com/fyrsmithlabs/membank/internal/bank"
	"github.com/fyrsmithlabs/membank/internal/component"
	"github.com/fyrsmithlabs/membank/internal/config"
	"github.com/fyrsmithlabs/membank/internal/costs"
	"github.com/fyrsmithlabs/membank/internal/logging"
	"github.com/fyrsmithlabs/membank/internal/manifest"
	"github.com/fyrsmithlabs/membank/internal/tracker"
	"github.com/fyrsmithlabs/membank/internal/validation"
)

// ErrCancelled is returned when a build stops on a cancellation signal.
var ErrCancelled = errors.New("build cancelled")

// Options describe one build request.
type Options struct {
	RepoPath   string
	OutputPath string
	Mode       Mode

	// ChangeRange is an optional git range ("from..to") that replaces
	// fingerprint diffing in incremental mode.
	ChangeRange string
}

// Event is one observable step of a running build. Delivered at phase and
// component granularity to the observer, if any.
type Event struct {
	State   State
	Message string
	Costs   costs.Snapshot
}

// Outcome is the terminal result of one coordinator run.
type Outcome struct {
	State    State
	Manifest *manifest.Manifest
	Results  []*component.Result
	Reports  []*validation.Report

	// NeedsReview lists components merged below the acceptance threshold.
	NeedsReview []string

	// FailedComponents lists components whose agent failed after retry.
	FailedComponents []string

	// NoChanges is set when an incremental build found nothing touched.
	NoChanges bool

	Costs   costs.Snapshot
	Elapsed time.Duration
}

// Coordinator runs the three-phase pipeline and owns the final merge.
// One coordinator serves one build; state never moves backwards.
type Coordinator struct {
	cfg     *config.Config
	invoker agent.Invoker
	logger  *logging.Logger
	tracker *costs.Tracker

	// Observer, when set, receives an event per state transition and
	// phase boundary. Set before Run.
	Observer func(Event)

	mu    sync.Mutex
	state State
}

// NewCoordinator wires a coordinator from config and an invoker.
func NewCoordinator(cfg *config.Config, invoker agent.Invoker, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		invoker: invoker,
		logger:  logger,
		tracker: costs.NewTracker(cfg.Agent.Model),
		state:   StatePending,
	}
}

// Tracker exposes the run's cost tracker, mainly for progress sinks.
func (c *Coordinator) Tracker() *costs.Tracker {
	return c.tracker
}

// State returns the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(ctx context.Context, s State, msg string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	c.logger.Info(ctx, "build state changed",
		zap.String("state", string(s)),
		zap.String("detail", msg),
	)
	if c.Observer != nil {
		c.Observer(Event{State: s, Message: msg, Costs: c.tracker.Snapshot()})
	}
}

// Run executes the build. The returned outcome always carries the terminal
// state; the error is non-nil only for Failed and Cancelled outcomes.
func (c *Coordinator) Run(ctx context.Context, opts Options) (*Outcome, error) {
	start := time.Now()
	ctx = logging.WithBuildID(ctx, fmt.Sprintf("%s-%d", opts.Mode, start.Unix()))
	observeBuildStart(ctx, string(opts.Mode))

	outcome := &Outcome{State: StatePending}
	defer func() {
		outcome.Elapsed = time.Since(start)
		outcome.Costs = c.tracker.Snapshot()
		observeBuildEnd(ctx, string(outcome.State), outcome.Elapsed)
	}()

	fail := func(err error) (*Outcome, error) {
		c.setState(ctx, StateFailed, err.Error())
		outcome.State = StateFailed
		return outcome, err
	}

	c.setState(ctx, StatePending, "build accepted")

	snapshot, err := tracker.Snapshot(opts.RepoPath)
	if err != nil {
		return fail(fmt.Errorf("snapshot repository: %w", err))
	}

	priorIndex, changes, err := c.resolveChanges(ctx, opts, snapshot)
	if err != nil {
		return fail(err)
	}
	if changes != nil && changes.Empty() {
		c.setState(ctx, StateMerged, "no changes since last build")
		outcome.State = StateMerged
		outcome.NoChanges = true
		return outcome, nil
	}

	// Phase 1: architecture. A failure here is fatal, there is nothing to
	// document without a manifest.
	arch := architect.New(c.invoker, c.tracker, c.logger, c.cfg.Build.MaxTurns)
	m, err := arch.Propose(ctx, opts.RepoPath, snapshot)
	if err != nil {
		return fail(err)
	}
	outcome.Manifest = m
	c.setState(ctx, StateArchitectureDone, fmt.Sprintf("%d components", len(m.Components)))

	if err := c.checkCancelled(ctx, outcome); err != nil {
		return outcome, err
	}

	// Phase 2: component documentation.
	compAgent := component.NewAgent(c.invoker, c.tracker, c.logger, c.cfg.Retry, c.cfg.Build.ComponentTurns())
	compOrch := component.NewOrchestrator(compAgent, c.tracker, c.logger, c.cfg.Build.ComponentConcurrency)
	selected := component.Select(m, changes)
	outcome.Results = compOrch.Run(ctx, m, selected, opts.RepoPath, snapshot)
	c.setState(ctx, StateComponentsDone, fmt.Sprintf("%d results", len(outcome.Results)))

	if err := c.checkCancelled(ctx, outcome); err != nil {
		return outcome, err
	}

	// Phase 3: validation. Never fatal.
	valAgent := validation.NewAgent(c.invoker, c.tracker, c.logger, c.cfg.Build.ValidationTurns(), c.cfg.Build.AutoFix)
	valAgent.RecheckFixes = !c.cfg.Build.AcceptFixWithoutRecheck
	valOrch := validation.NewOrchestrator(valAgent, c.tracker, c.logger, c.cfg.Build.ValidationConcurrency)
	outcome.Reports = valOrch.Run(ctx, m, outcome.Results)
	c.setState(ctx, StateValidationDone, fmt.Sprintf("%d reports", len(outcome.Reports)))

	if err := c.checkCancelled(ctx, outcome); err != nil {
		return outcome, err
	}

	// Merge. Results only reach disk here; everything before this point
	// is discardable.
	if err := c.merge(ctx, opts, outcome, priorIndex, snapshot); err != nil {
		return fail(fmt.Errorf("merging memory bank: %w", err))
	}
	c.setState(ctx, StateMerged, "memory bank committed")
	outcome.State = StateMerged
	return outcome, nil
}

// resolveChanges determines what changed since the last committed build.
// Returns a nil change set for full builds (everything runs).
func (c *Coordinator) resolveChanges(ctx context.Context, opts Options, snapshot map[string]string) (*tracker.Index, *tracker.ChangeSet, error) {
	indexPath := tracker.IndexPath(opts.OutputPath)

	prior, err := tracker.LoadIndex(indexPath)
	if err != nil {
		if !errors.Is(err, tracker.ErrIndexCorrupt) {
			return nil, nil, fmt.Errorf("loading fingerprint index: %w", err)
		}
		// Corrupt index: fall back to a full build rather than guessing.
		c.logger.Warn(ctx, "fingerprint index corrupt, falling back to full build", zap.Error(err))
		return tracker.NewIndex(), nil, nil
	}

	if opts.Mode != ModeIncremental {
		return prior, nil, nil
	}

	if opts.ChangeRange != "" {
		changes, err := tracker.RangeChanges(opts.RepoPath, opts.ChangeRange)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving change range %q: %w", opts.ChangeRange, err)
		}
		return prior, changes, nil
	}

	if prior.Generation == 0 {
		// Nothing committed yet: incremental degenerates to full.
		return prior, nil, nil
	}
	return prior, tracker.Compute(snapshot, prior), nil
}

func (c *Coordinator) checkCancelled(ctx context.Context, outcome *Outcome) error {
	if ctx.Err() == nil {
		return nil
	}
	c.setState(ctx, StateCancelled, ctx.Err().Error())
	outcome.State = StateCancelled
	return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
}

// merge writes the memory-bank tree, the summaries, the changelog entry,
// and atomically replaces the fingerprint index.
func (c *Coordinator) merge(ctx context.Context, opts Options, outcome *Outcome, priorIndex *tracker.Index, snapshot map[string]string) error {
	writer := bank.NewWriter(opts.OutputPath)

	committed, err := bank.ListComponents(opts.OutputPath)
	if err != nil {
		return err
	}

	fixesFor := make(map[string]map[string]string, len(outcome.Reports))
	for _, r := range outcome.Reports {
		if len(r.FixedFiles) > 0 {
			fixesFor[r.ComponentID] = r.FixedFiles
		}
	}

	var added, modified []string
	for _, res := range outcome.Results {
		if !res.Success {
			outcome.FailedComponents = append(outcome.FailedComponents, res.ComponentID)
			continue
		}

		files := res.Files
		if fixes := fixesFor[res.ComponentID]; len(fixes) > 0 {
			files = make(map[string]string, len(res.Files))
			for path, content := range res.Files {
				files[path] = content
			}
			for path, content := range fixes {
				files[path] = content
			}
		}

		existed := dirExists(writer.ComponentDir(res.ComponentID))
		if _, err := writer.WriteComponentFiles(res.ComponentID, files); err != nil {
			return fmt.Errorf("component %s: %w", res.ComponentID, err)
		}
		if existed {
			modified = append(modified, res.ComponentID)
		} else {
			added = append(added, res.ComponentID)
		}
	}

	// Components documented by an earlier build but absent from the new
	// manifest no longer exist; their subtrees go, and the changelog says so.
	removed := removedComponents(committed, outcome.Manifest, snapshot)
	for _, id := range removed {
		if err := os.RemoveAll(writer.ComponentDir(id)); err != nil {
			return fmt.Errorf("removing stale component %s: %w", id, err)
		}
	}

	threshold := c.cfg.Build.AcceptanceThreshold
	for _, r := range outcome.Reports {
		if !r.Passed(threshold) {
			outcome.NeedsReview = append(outcome.NeedsReview, r.ComponentID)
		}
	}
	sort.Strings(outcome.NeedsReview)
	sort.Strings(outcome.FailedComponents)

	if err := c.writeRootDocs(writer, outcome); err != nil {
		return err
	}

	entry := bank.ChangelogEntry{
		Date:             time.Now().Format("2006-01-02"),
		Title:            buildTitle(opts.Mode),
		Mode:             string(opts.Mode),
		Added:            added,
		Modified:         modified,
		Removed:          removed,
		NeedsReview:      outcome.NeedsReview,
		FailedComponents: outcome.FailedComponents,
		Impact:           fmt.Sprintf("%d of %d components documented.", len(added)+len(modified), len(outcome.Results)),
	}
	if err := bank.AppendChangelog(opts.OutputPath, entry); err != nil {
		return err
	}

	next := priorIndex.Next(snapshot)
	if err := next.Save(tracker.IndexPath(opts.OutputPath)); err != nil {
		return fmt.Errorf("persisting fingerprint index: %w", err)
	}

	c.logger.Info(ctx, "memory bank merged",
		zap.Int("added", len(added)),
		zap.Int("modified", len(modified)),
		zap.Int("removed", len(removed)),
		zap.Int("needs_review", len(outcome.NeedsReview)),
		zap.Int("failed", len(outcome.FailedComponents)),
		zap.Int("index_generation", next.Generation),
	)
	return nil
}

func (c *Coordinator) writeRootDocs(writer *bank.Writer, outcome *Outcome) error {
	m := outcome.Manifest

	manifestJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := writer.WriteRootDoc(bank.ManifestJSON, string(manifestJSON)); err != nil {
		return err
	}
	if err := writer.WriteRootDoc(bank.ManifestDoc, renderManifestDoc(m)); err != nil {
		return err
	}

	if err := writer.WriteJSON(bank.ComponentSummary, outcome.Results); err != nil {
		return err
	}
	if err := writer.WriteJSON(bank.ValidationSummary, outcome.Reports); err != nil {
		return err
	}
	return writer.WriteJSON(bank.CostSummary, c.tracker.Snapshot())
}

func renderManifestDoc(m *manifest.Manifest) string {
	var b []byte
	b = fmt.Appendf(b, "# Architecture Manifest\n\nSystem type: %s\n\n", m.SystemType)
	if m.Rationale != "" {
		b = fmt.Appendf(b, "%s\n\n", m.Rationale)
	}
	b = fmt.Appendf(b, "## Components\n\n")
	for _, c := range m.Components {
		b = fmt.Appendf(b, "- **%s** (`%s`, %s)", c.Name, c.ID, c.Kind)
		if len(c.DependsOn) > 0 {
			b = fmt.Appendf(b, " depends on %v", c.DependsOn)
		}
		b = fmt.Appendf(b, "\n")
	}
	return string(b)
}

// removedComponents diffs the previously committed subtrees against the new
// manifest. The implicit root stays alive while any snapshot path remains
// unclaimed, even though it is never a declared manifest component.
func removedComponents(committed []string, m *manifest.Manifest, snapshot map[string]string) []string {
	current := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		current[c.ID] = true
	}
	if !current[manifest.RootComponentID] {
		for p := range snapshot {
			if m.Owner(p) == manifest.RootComponentID {
				current[manifest.RootComponentID] = true
				break
			}
		}
	}

	var removed []string
	for _, id := range committed {
		if !current[id] {
			removed = append(removed, id)
		}
	}
	return removed
}

func buildTitle(mode Mode) string {
	if mode == ModeIncremental {
		return "Incremental memory bank update"
	}
	return "Full memory bank build"
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
