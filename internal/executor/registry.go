package executor

import (
	"github.com/flowloom/flowloom/internal/errors"
	"github.com/flowloom/flowloom/internal/pipeline"
)

// Registry maps step kinds to executors.
type Registry struct {
	executors map[pipeline.StepKind]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[pipeline.StepKind]Executor)}
}

// Register binds an executor to a step kind, replacing any previous binding.
func (r *Registry) Register(kind pipeline.StepKind, e Executor) {
	r.executors[kind] = e
}

// For implements Selector.
func (r *Registry) For(step *pipeline.Step) (Executor, error) {
	e, ok := r.executors[step.Kind()]
	if !ok {
		return nil, errors.Newf(errors.CodePipelineUnknownStep, "no executor for step kind %q", step.Kind())
	}
	return e, nil
}
