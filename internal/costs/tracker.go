package costs

import (
	"sync"
	"time"
)

// Usage is the token consumption of a single agent invocation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input + output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add returns the element-wise sum of two usage records.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Snapshot is a point-in-time copy of accumulated cost and progress.
// It shares no state with the tracker and is safe to hand to callers.
type Snapshot struct {
	TotalInputTokens  int                `json:"total_input_tokens"`
	TotalOutputTokens int                `json:"total_output_tokens"`
	TotalTokens       int                `json:"total_tokens"`
	TotalCost         float64            `json:"total_cost"`
	PhaseCosts        map[string]float64 `json:"phase_costs"`
	ComponentCosts    map[string]float64 `json:"component_costs"`
	Operations        []Operation        `json:"operations"`
	ComponentsDone    map[string]int     `json:"components_done"`
	ComponentsTotal   map[string]int     `json:"components_total"`
}

// Operation records one priced agent invocation for audit output.
type Operation struct {
	Phase       string    `json:"phase"`
	ComponentID string    `json:"component_id,omitempty"`
	Usage       Usage     `json:"usage"`
	Cost        float64   `json:"cost"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Sink receives a snapshot after every recorded operation. Used by the job
// collaborator to surface live cost/progress without touching the tracker.
type Sink func(Snapshot)

// Tracker accumulates usage across the whole build lifetime.
type Tracker struct {
	mu      sync.Mutex
	pricing ModelPricing

	totalUsage     Usage
	totalCost      float64
	phaseCosts     map[string]float64
	componentCosts map[string]float64
	operations     []Operation

	done  map[string]int
	total map[string]int

	// sinkMu serializes snapshot capture and delivery so the sink always
	// sees monotonically advancing progress.
	sinkMu sync.Mutex
	sink   Sink
}

// NewTracker creates a tracker priced for the given model.
func NewTracker(model string) *Tracker {
	return &Tracker{
		pricing:        PricingForModel(model),
		phaseCosts:     make(map[string]float64),
		componentCosts: make(map[string]float64),
		done:           make(map[string]int),
		total:          make(map[string]int),
	}
}

// SetSink installs the snapshot callback. Must be called before the build
// starts; deliveries are serialized, one snapshot per recorded operation or
// completed unit.
func (t *Tracker) SetSink(sink Sink) {
	t.sink = sink
}

func (t *Tracker) notify() {
	if t.sink == nil {
		return
	}
	t.sinkMu.Lock()
	defer t.sinkMu.Unlock()
	t.sink(t.Snapshot())
}

// Record accumulates one invocation's usage under a phase and component.
// componentID may be empty for phase-level invocations (architecture).
func (t *Tracker) Record(phase, componentID string, usage Usage) {
	cost := t.pricing.Cost(usage)

	t.mu.Lock()
	t.totalUsage = t.totalUsage.Add(usage)
	t.totalCost += cost
	t.phaseCosts[phase] += cost
	if componentID != "" {
		t.componentCosts[componentID] += cost
	}
	t.operations = append(t.operations, Operation{
		Phase:       phase,
		ComponentID: componentID,
		Usage:       usage,
		Cost:        cost,
		RecordedAt:  time.Now(),
	})
	t.mu.Unlock()

	t.notify()
}

// SetPhaseTotal declares how many component-scoped units a phase will run.
func (t *Tracker) SetPhaseTotal(phase string, n int) {
	t.mu.Lock()
	t.total[phase] = n
	t.mu.Unlock()
}

// MarkDone counts one finished unit for a phase and notifies the sink, so
// progress advances even for invocations that burned no tokens.
func (t *Tracker) MarkDone(phase string) {
	t.mu.Lock()
	t.done[phase]++
	t.mu.Unlock()

	t.notify()
}

// Snapshot returns a deep copy of the accumulated state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		TotalInputTokens:  t.totalUsage.InputTokens,
		TotalOutputTokens: t.totalUsage.OutputTokens,
		TotalTokens:       t.totalUsage.Total(),
		TotalCost:         t.totalCost,
		PhaseCosts:        make(map[string]float64, len(t.phaseCosts)),
		ComponentCosts:    make(map[string]float64, len(t.componentCosts)),
		Operations:        make([]Operation, len(t.operations)),
		ComponentsDone:    make(map[string]int, len(t.done)),
		ComponentsTotal:   make(map[string]int, len(t.total)),
	}
	for k, v := range t.phaseCosts {
		snap.PhaseCosts[k] = v
	}
	for k, v := range t.componentCosts {
		snap.ComponentCosts[k] = v
	}
	copy(snap.Operations, t.operations)
	for k, v := range t.done {
		snap.ComponentsDone[k] = v
	}
	for k, v := range t.total {
		snap.ComponentsTotal[k] = v
	}
	return snap
}
