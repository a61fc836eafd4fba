package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/membank/internal/agent"
	"github.com/fyrsmithlabs/membank/internal/bank"
	"github.com/fyrsmithlabs/membank/internal/component"
	"github.com/fyrsmithlabs/membank/internal/costs"
	"github.com/fyrsmithlabs/membank/internal/logging"
	"github.com/fyrsmithlabs/membank/internal/manifest"
)

const reviewPrompt = `You are reviewing the generated documentation for one component of a
repository. Score it for accuracy (claims match the attached sources) and
consistency (documents agree with each other), both in [0, 1].

Reply with a JSON object:

{
  "accuracy": 0.0,
  "consistency": 0.0,
  "confidence": 0.0,
  "issues": [
    {"file": "...", "section": "...", "severity": "minor|major", "description": "..."}
  ]
}

Report only real problems. An empty issues list is a valid answer.`

const fixPrompt = `You previously reviewed documentation and found the issues listed below.
Rewrite ONLY the affected files, correcting exactly the flagged sections
and leaving everything else unchanged. Emit each corrected file as:

<output-file path="FILENAME">
...full corrected content...
</output-file>`

// reviewVerdict is the JSON shape the validator replies with.
type reviewVerdict struct {
	Accuracy    float64 `json:"accuracy"`
	Consistency float64 `json:"consistency"`
	Confidence  float64 `json:"confidence"`
	Issues      []Issue `json:"issues"`
}

// Agent validates one component's generated documentation.
type Agent struct {
	invoker agent.Invoker
	tracker *costs.Tracker
	logger  *logging.Logger

	// MaxTurns is the per-validation turn budget.
	MaxTurns int

	// AutoFix enables one corrective invocation per component when the
	// review finds issues.
	AutoFix bool

	// RecheckFixes runs one more review pass over the corrected
	// documents so the recorded scores reflect the merged content.
	// Off by default: fixes are section-scoped rewrites and the extra
	// invocation usually buys nothing.
	RecheckFixes bool
}

// NewAgent creates a validation agent.
func NewAgent(invoker agent.Invoker, tracker *costs.Tracker, logger *logging.Logger, maxTurns int, autoFix bool) *Agent {
	return &Agent{
		invoker:  invoker,
		tracker:  tracker,
		logger:   logger,
		MaxTurns: maxTurns,
		AutoFix:  autoFix,
	}
}

// Validate scores one successfully documented component. Validator
// failures are captured in the report, never returned: the component
// still merges, flagged for review.
func (a *Agent) Validate(ctx context.Context, comp manifest.Component, res *component.Result) *Report {
	ctx = logging.WithComponent(logging.WithPhase(ctx, Phase), comp.ID)
	start := time.Now()

	report := &Report{
		ComponentID:  comp.ID,
		Completeness: completeness(res.Files),
	}
	defer func() { report.Elapsed = time.Since(start) }()

	out, err := a.invoker.Invoke(ctx, agent.Request{
		Role:        agent.RoleValidation,
		ComponentID: comp.ID,
		System:      reviewPrompt,
		Instruction: fmt.Sprintf("Component: %s (%s)\nReview the attached documentation files.", comp.Name, comp.ID),
		Context:     docContext(res.Files),
		MaxTurns:    a.MaxTurns,
	})
	if err != nil {
		usage := agent.UsageOf(err)
		a.tracker.Record(Phase, comp.ID, usage)
		report.Usage = usage
		report.Error = err.Error()
		a.logger.Warn(ctx, "validator failed", zap.Error(err))
		return report
	}
	a.tracker.Record(Phase, comp.ID, out.Usage)
	report.Usage = out.Usage

	verdict, err := parseVerdict(out.Text)
	if err != nil {
		report.Error = err.Error()
		a.logger.Warn(ctx, "validator verdict unparsable", zap.Error(err))
		return report
	}

	report.Accuracy = clampScore(verdict.Accuracy)
	report.Consistency = clampScore(verdict.Consistency)
	report.Confidence = clampScore(verdict.Confidence)
	report.Issues = verdict.Issues

	if a.AutoFix && len(verdict.Issues) > 0 {
		a.fix(ctx, comp, res, report)
		if a.RecheckFixes && len(report.FixedFiles) > 0 {
			a.recheck(ctx, comp, res, report)
		}
	}

	a.logger.Info(ctx, "component validated",
		zap.Float64("overall", report.Overall()),
		zap.Int("issues", len(report.Issues)),
		zap.Int("fixes", len(report.Fixes)),
	)
	return report
}

// fix runs the single corrective invocation and overlays the corrected
// files onto the report. Fix failures are logged and dropped; the
// original documents stand with their issues recorded.
func (a *Agent) fix(ctx context.Context, comp manifest.Component, res *component.Result, report *Report) {
	affected := map[string]bool{}
	for _, issue := range report.Issues {
		affected[issue.File] = true
	}

	var ctxFiles []agent.ContextFile
	for path := range affected {
		content, ok := res.Files[path]
		if !ok {
			continue
		}
		ctxFiles = append(ctxFiles, agent.ContextFile{Path: path, Content: content})
	}
	sort.Slice(ctxFiles, func(i, j int) bool { return ctxFiles[i].Path < ctxFiles[j].Path })
	if len(ctxFiles) == 0 {
		return
	}

	out, err := a.invoker.Invoke(ctx, agent.Request{
		Role:        agent.RoleValidation,
		ComponentID: comp.ID,
		System:      fixPrompt,
		Instruction: renderIssues(report.Issues),
		Context:     ctxFiles,
		MaxTurns:    a.MaxTurns,
	})
	if err != nil {
		a.tracker.Record(Phase, comp.ID, agent.UsageOf(err))
		a.logger.Warn(ctx, "auto-fix failed, keeping originals", zap.Error(err))
		return
	}
	a.tracker.Record(Phase, comp.ID, out.Usage)
	report.Usage = report.Usage.Add(out.Usage)

	report.FixedFiles = map[string]string{}
	for path, content := range out.Files {
		if !affected[path] {
			// The fixer may only touch flagged files.
			continue
		}
		report.FixedFiles[path] = content
		report.Fixes = append(report.Fixes, Fix{
			File:        path,
			Description: "rewrote flagged sections",
		})
	}
	sort.Slice(report.Fixes, func(i, j int) bool { return report.Fixes[i].File < report.Fixes[j].File })
}

// recheck re-reviews the documents with fixes overlaid and refreshes the
// scores. A failed recheck keeps the pre-fix scores.
func (a *Agent) recheck(ctx context.Context, comp manifest.Component, res *component.Result, report *Report) {
	merged := make(map[string]string, len(res.Files))
	for path, content := range res.Files {
		merged[path] = content
	}
	for path, content := range report.FixedFiles {
		merged[path] = content
	}

	out, err := a.invoker.Invoke(ctx, agent.Request{
		Role:        agent.RoleValidation,
		ComponentID: comp.ID,
		System:      reviewPrompt,
		Instruction: fmt.Sprintf("Component: %s (%s)\nRe-review the attached documentation after corrections.", comp.Name, comp.ID),
		Context:     docContext(merged),
		MaxTurns:    a.MaxTurns,
	})
	if err != nil {
		a.tracker.Record(Phase, comp.ID, agent.UsageOf(err))
		a.logger.Warn(ctx, "recheck failed, keeping pre-fix scores", zap.Error(err))
		return
	}
	a.tracker.Record(Phase, comp.ID, out.Usage)
	report.Usage = report.Usage.Add(out.Usage)

	verdict, err := parseVerdict(out.Text)
	if err != nil {
		a.logger.Warn(ctx, "recheck verdict unparsable, keeping pre-fix scores", zap.Error(err))
		return
	}
	report.Accuracy = clampScore(verdict.Accuracy)
	report.Consistency = clampScore(verdict.Consistency)
	report.Confidence = clampScore(verdict.Confidence)
	report.Issues = verdict.Issues
}

// completeness is the fraction of required documents present. Computed
// locally: no model call is needed to count files.
func completeness(files map[string]string) float64 {
	if len(bank.RequiredComponentFiles) == 0 {
		return 1
	}
	present := 0
	for _, name := range bank.RequiredComponentFiles {
		if content, ok := files[name]; ok && strings.TrimSpace(content) != "" {
			present++
		}
	}
	return float64(present) / float64(len(bank.RequiredComponentFiles))
}

func parseVerdict(text string) (*reviewVerdict, error) {
	raw, ok := agent.ExtractJSON(text)
	if !ok {
		return nil, fmt.Errorf("no JSON verdict in validator reply")
	}
	var v reviewVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	return &v, nil
}

func renderIssues(issues []Issue) string {
	var b strings.Builder
	b.WriteString("Issues to correct:\n")
	for _, issue := range issues {
		fmt.Fprintf(&b, "- [%s] %s", issue.Severity, issue.File)
		if issue.Section != "" {
			fmt.Fprintf(&b, " (%s)", issue.Section)
		}
		fmt.Fprintf(&b, ": %s\n", issue.Description)
	}
	return b.String()
}

func docContext(files map[string]string) []agent.ContextFile {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	ctxFiles := make([]agent.ContextFile, 0, len(paths))
	for _, p := range paths {
		ctxFiles = append(ctxFiles, agent.ContextFile{Path: p, Content: files[p]})
	}
	return ctxFiles
}
