package engine

import (
	"strconv"

	"github.com/flowloom/flowloom/internal/expand"
)

// FlowState is the lifecycle state of one flow.
type FlowState int

const (
	FlowQueued FlowState = iota
	FlowRunning
	FlowCompleted
	FlowFailed
	FlowCancelled
)

// String returns the state's display name.
func (s FlowState) String() string {
	switch s {
	case FlowQueued:
		return "queued"
	case FlowRunning:
		return "running"
	case FlowCompleted:
		return "completed"
	case FlowFailed:
		return "failed"
	case FlowCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s FlowState) Terminal() bool {
	return s == FlowCompleted || s == FlowFailed || s == FlowCancelled
}

// Flow is one execution path through the pipeline: a root seed or a branch
// child. Its identity is a path so children can be created without a
// precomputed bound: root "3", its second branch child "3/1", and so on.
//
// A flow is owned by exactly one scheduler goroutine while Running; the
// engine never shares a Flow across goroutines, so no locking is needed
// beyond the scheduler, queue and progress structures.
type Flow struct {
	// ID is the identity path, e.g. "3" or "3/1/0".
	ID string

	// Seed is the originating input combination, shared by all flows of
	// one lineage.
	Seed *expand.Seed

	// StepIndex is the next step to execute. It only increases.
	StepIndex int

	// Carried is the most recent step's output: the only inter-step
	// state. The first step of a root flow sees an empty string; a branch
	// child starts with its array element.
	Carried string

	// CarriedPath is the artifact path of the most recent step's final
	// message, when the executor wrote one.
	CarriedPath string

	// State is the lifecycle state.
	State FlowState

	// Dir is the flow's artifact directory.
	Dir string

	// Err holds the failure when State is FlowFailed, along with the
	// step index it occurred at.
	Err        error
	FailedStep int
}

// newRootFlow creates the Queued flow for one seed.
func newRootFlow(seed *expand.Seed) *Flow {
	return &Flow{
		ID:    strconv.Itoa(seed.Index),
		Seed:  seed,
		State: FlowQueued,
	}
}

// childID extends a parent identity with a branch index.
func childID(parentID string, i int) string {
	return parentID + "/" + strconv.Itoa(i)
}

// LeafResult is the outcome of one terminal lineage: a leaf flow that
// completed the full step sequence, or a flow that failed or was cancelled
// partway. Branch points contribute no result; their children do.
type LeafResult struct {
	// FlowID is the identity path of the terminal flow.
	FlowID string

	// Output is the final carried text for completed leaves.
	Output string

	// MessagePath is the artifact holding the final message, when the
	// terminal executor wrote one.
	MessagePath string

	// Dir is the flow's artifact directory.
	Dir string

	// State is FlowCompleted, FlowFailed or FlowCancelled.
	State FlowState

	// StepIndex is the step the flow terminated at.
	StepIndex int

	// Err is the failure detail for failed flows.
	Err error

	// Sources are the originating key-file paths of the flow's seed.
	Sources []string
}
