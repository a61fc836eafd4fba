package build

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/membank/internal/agent"
	"github.com/fyrsmithlabs/membank/internal/config"
	"github.com/fyrsmithlabs/membank/internal/logging"
)

// ErrJobNotFound is returned for lookups of unknown job ids.
var ErrJobNotFound = fmt.Errorf("job not found")

// Manager is the in-memory job registry. It launches coordinator runs
// asynchronously and keeps terminal jobs addressable for status queries.
type Manager struct {
	cfg     *config.Config
	invoker agent.Invoker
	logger  *logging.Logger

	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewManager creates a job manager.
func NewManager(cfg *config.Config, invoker agent.Invoker, logger *logging.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		invoker: invoker,
		logger:  logger,
		jobs:    make(map[string]*Job),
	}
}

// Submit registers a job and starts its build in the background. The
// returned job is live immediately; poll Status or wait on Done.
func (m *Manager) Submit(ctx context.Context, opts Options) *Job {
	job := newJob(opts)

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	job.start(cancel)
	job.appendLog(fmt.Sprintf("job %s accepted (%s build of %s)", job.ID, opts.Mode, opts.RepoPath))

	coord := NewCoordinator(m.cfg, m.invoker, m.logger)
	coord.Tracker().SetSink(job.setProgress)
	coord.Observer = func(ev Event) {
		line := fmt.Sprintf("state=%s %s", ev.State, ev.Message)
		if ev.Costs.TotalTokens > 0 {
			line += fmt.Sprintf(" (tokens=%d cost=$%.4f)", ev.Costs.TotalTokens, ev.Costs.TotalCost)
		}
		job.appendLog(line)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		outcome, err := coord.Run(runCtx, opts)
		job.finish(outcome, err)
		job.appendLog(fmt.Sprintf("job finished: %s", job.Status()))
	}()

	return job
}

// Get looks up a job by id.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// Cancel requests cooperative cancellation of a running job.
func (m *Manager) Cancel(id string) error {
	job, err := m.Get(id)
	if err != nil {
		return err
	}
	job.requestCancel()
	return nil
}

// Jobs returns all known jobs, newest first.
func (m *Manager) Jobs() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].createdAt.After(out[k].createdAt) })
	return out
}

// Wait blocks until every submitted job has finished. Used by the CLI,
// which submits one job and waits for it.
func (m *Manager) Wait() {
	m.wg.Wait()
}
