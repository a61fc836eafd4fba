package validation

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/membank/internal/component"
	"github.com/fyrsmithlabs/membank/internal/costs"
	"github.com/fyrsmithlabs/membank/internal/logging"
	"github.com/fyrsmithlabs/membank/internal/manifest"
)

// Orchestrator fans out validators over the successful component results.
type Orchestrator struct {
	agent   *Agent
	tracker *costs.Tracker
	logger  *logging.Logger

	// Limit is the validator pool ceiling. Config validation guarantees
	// it exceeds the component pool's.
	Limit int
}

// NewOrchestrator creates the Phase 3 orchestrator.
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

// Run validates every successful result and returns reports in the same
// order. Failed components have nothing to validate and are skipped.
func (o *Orchestrator) Run(ctx context.Context, m *manifest.Manifest, results []*component.Result) []*Report {
	ctx = logging.WithPhase(ctx, Phase)

	var targets []*component.Result
	for _, r := range results {
		if r.Success {
			targets = append(targets, r)
		}
	}
	if len(targets) == 0 {
		o.logger.Info(ctx, "nothing to validate")
		return nil
	}

	o.tracker.SetPhaseTotal(Phase, len(targets))
	o.logger.Info(ctx, "starting validation",
		zap.Int("components", len(targets)),
		zap.Int("concurrency_limit", o.Limit),
	)

	sem := make(chan struct{}, o.Limit)
	reports := make([]*Report, len(targets))
	var wg sync.WaitGroup

	for i, res := range targets {
		select {
		case <-ctx.Done():
			reports[i] = &Report{
				ComponentID:  res.ComponentID,
				Completeness: completeness(res.Files),
				Error:        "build cancelled before validation: " + ctx.Err().Error(),
			}
			continue
		default:
		}

		wg.Add(1)
		go func(i int, res *component.Result) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				reports[i] = &Report{
					ComponentID:  res.ComponentID,
					Completeness: completeness(res.Files),
					Error:        "build cancelled before validation: " + ctx.Err().Error(),
				}
				return
			}

			comp := componentFor(m, res.ComponentID)
			reports[i] = o.agent.Validate(ctx, comp, res)
			o.tracker.MarkDone(Phase)
		}(i, res)
	}

	wg.Wait()

	o.logger.Info(ctx, "validation finished", zap.Int("reports", len(reports)))
	return reports
}

func componentFor(m *manifest.Manifest, id string) manifest.Component {
	if c := m.Component(id); c != nil {
		return *c
	}
	if id == manifest.RootComponentID {
		return manifest.ImplicitRoot()
	}
	return manifest.Component{ID: id, Name: id, Kind: manifest.KindService}
}
