package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/membank/internal/costs"
)

// Role identifies which phase an invocation belongs to. The request payload
// is tagged by role instead of each phase carrying bespoke integration code.
type Role string

const (
	RoleArchitecture Role = "architecture"
	RoleComponent    Role = "component"
	RoleValidation   Role = "validation"
)

// ContextFile is one file the agent may read.
type ContextFile struct {
	Path    string
	Content string
}

// Request bundles a role-specific instruction, the context it may read, and
// a turn budget.
type Request struct {
	Role        Role
	ComponentID string
	System      string
	Instruction string
	Context     []ContextFile

	// MaxTurns caps API round-trips for this invocation. Zero means the
	// invoker's default.
	MaxTurns int
}

// Output is a successful invocation result.
type Output struct {
	// Text is the full concatenated model output.
	Text string

	// Files holds any file blocks the agent emitted, keyed by relative path.
	Files map[string]string

	// Turns is how many API round-trips the invocation consumed.
	Turns int

	Usage costs.Usage
}

// FailureKind classifies invocation failures.
type FailureKind string

const (
	// FailureTimeout: no progress signal within the configured interval.
	FailureTimeout FailureKind = "timeout"

	// FailureBudgetExceeded: the turn ceiling was hit before completion.
	FailureBudgetExceeded FailureKind = "budget_exceeded"

	// FailureCapability: the external capability itself errored.
	FailureCapability FailureKind = "capability"

	// FailureCancelled: the build was cancelled before or during dispatch.
	FailureCancelled FailureKind = "cancelled"
)

// Failure is a structured invocation failure. It still carries the usage
// consumed before failing so cost accounting stays accurate.
type Failure struct {
	Kind  FailureKind
	Err   error
	Usage costs.Usage
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("agent failure (%s): %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("agent failure (%s)", f.Kind)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// UsageOf returns the usage attached to an error, if it is a Failure.
func UsageOf(err error) costs.Usage {
	if f, ok := AsFailure(err); ok {
		return f.Usage
	}
	return costs.Usage{}
}

// Invoker is the uniform call contract to the external analysis capability.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Output, error)
}
