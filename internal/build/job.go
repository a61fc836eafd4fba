package build

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/membank/internal/costs"
)

// Job is one addressable build run. Owned by the manager; all mutation
// goes through its methods, so readers can poll from any goroutine.
type Job struct {
	ID      string
	Options Options

	mu         sync.Mutex
	status     Status
	logs       []string
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	outcome    *Outcome
	err        error
	cancel     context.CancelFunc
	progress   costs.Snapshot
}

func newJob(opts Options) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Options:   opts,
		status:    StatusPending,
		createdAt: time.Now(),
	}
}

// Status returns the job's lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Logs returns a copy of the accumulated log lines, oldest first.
func (j *Job) Logs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.logs))
	copy(out, j.logs)
	return out
}

// Outcome returns the build outcome and error once the job is terminal.
func (j *Job) Outcome() (*Outcome, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome, j.err
}

// Elapsed is the job's running time, final once terminal.
func (j *Job) Elapsed() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.startedAt.IsZero() {
		return 0
	}
	if j.finishedAt.IsZero() {
		return time.Since(j.startedAt)
	}
	return j.finishedAt.Sub(j.startedAt)
}

// Progress returns the latest cost and per-phase completion snapshot. It
// advances with every recorded invocation, not just state transitions.
func (j *Job) Progress() costs.Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

func (j *Job) setProgress(snap costs.Snapshot) {
	j.mu.Lock()
	j.progress = snap
	j.mu.Unlock()
}

func (j *Job) appendLog(line string) {
	j.mu.Lock()
	j.logs = append(j.logs, fmt.Sprintf("%s %s", time.Now().Format(time.RFC3339), line))
	j.mu.Unlock()
}

func (j *Job) start(cancel context.CancelFunc) {
	j.mu.Lock()
	j.status = StatusRunning
	j.startedAt = time.Now()
	j.cancel = cancel
	j.mu.Unlock()
}

// finish records the terminal status exactly once.
func (j *Job) finish(outcome *Outcome, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusRunning && j.status != StatusPending {
		return
	}
	j.finishedAt = time.Now()
	j.outcome = outcome
	j.err = err

	switch {
	case outcome != nil && outcome.State == StateCancelled:
		j.status = StatusCancelled
	case err != nil:
		j.status = StatusFailed
	default:
		j.status = StatusCompleted
	}
}

// requestCancel signals the build's context. Terminal jobs ignore it.
func (j *Job) requestCancel() {
	j.mu.Lock()
	cancel := j.cancel
	terminal := j.status != StatusRunning && j.status != StatusPending
	j.mu.Unlock()

	if !terminal && cancel != nil {
		cancel()
	}
}
