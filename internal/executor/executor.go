// Package executor runs individual pipeline steps.
//
// The engine treats every executor as an opaque, potentially slow,
// potentially failing operation: it hands over one fully interpolated
// invocation and awaits exactly one result. Variant-specific behavior
// (process creation, HTTP details) lives entirely here.
package executor

import (
	"context"
	"time"

	"github.com/flowloom/flowloom/internal/pipeline"
)

// Invocation is one step execution request.
type Invocation struct {
	// Step is the shared step definition.
	Step *pipeline.Step

	// StepIndex is the step's position in the pipeline, used for
	// artifact naming.
	StepIndex int

	// Prompt is the fully interpolated prompt (model steps) or command
	// line (shell steps).
	Prompt string

	// Stdin is piped to shell steps; the previous step's output.
	Stdin string

	// Dir is the artifact directory for this invocation.
	Dir string

	// Workdir is the directory the executor runs from.
	Workdir string

	// Timeout bounds the invocation. Zero means no deadline.
	Timeout time.Duration
}

// Result is one step execution outcome. On failure a partial Result may
// accompany the error so process details reach the error artifacts.
type Result struct {
	// Output is the step's output text, carried forward to the next step.
	Output string

	// MessagePath is the artifact holding the final message, when the
	// executor wrote one.
	MessagePath string

	// ExitCode is the process exit code for subprocess variants.
	ExitCode int

	// Stderr is the captured standard error for subprocess variants.
	Stderr string
}

// Executor executes one kind of pipeline step.
type Executor interface {
	Execute(ctx context.Context, inv *Invocation) (*Result, error)
}

// Selector resolves the executor for a step. The engine depends only on
// this contract, never on a concrete variant.
type Selector interface {
	For(step *pipeline.Step) (Executor, error)
}
