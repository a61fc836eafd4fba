package build

// State is the coordinator's position in the build pipeline.
type State string

const (
	StatePending          State = "pending"
	StateArchitectureDone State = "architecture_done"
	StateComponentsDone   State = "components_done"
	StateValidationDone   State = "validation_done"
	StateMerged           State = "merged"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateMerged, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Mode selects how much of the repository a build reprocesses.
type Mode string

const (
	// ModeFull rebuilds every component from scratch.
	ModeFull Mode = "full"

	// ModeIncremental reprocesses only components owning changed files,
	// per the persisted fingerprint index or an explicit commit range.
	ModeIncremental Mode = "incremental"
)

// Status is a job's lifecycle state as seen by submitters.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)
