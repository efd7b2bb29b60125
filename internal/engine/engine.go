// Package engine schedules and drives flows through a pipeline.
//
// A run starts with one flow per input seed. Flows execute steps in order
// under a global concurrency cap; a step marked as an array step replaces
// its flow with one child per array element, each resuming at the next
// step. The run ends when every lineage has reached a terminal state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/flowloom/flowloom/internal/artifacts"
	"github.com/flowloom/flowloom/internal/config"
	flowerrors "github.com/flowloom/flowloom/internal/errors"
	"github.com/flowloom/flowloom/internal/executor"
	"github.com/flowloom/flowloom/internal/expand"
	"github.com/flowloom/flowloom/internal/logging"
	"github.com/flowloom/flowloom/internal/pipeline"
	"github.com/flowloom/flowloom/internal/template"
)

// prevKey is the placeholder bound to the previous step's output.
const prevKey = "prev"

// Options configures one run.
type Options struct {
	// Parallel caps the number of concurrently running flows. Values
	// below 1 are treated as 1.
	Parallel int

	// Timeout bounds each model step (codex, openai). Zero means no
	// global bound. Shell steps are only bounded by their own timeout
	// field.
	Timeout time.Duration

	// MaxFlowFailures halts the run once this many flows have failed.
	// Zero or negative disables the threshold, as does HaltDisabled.
	MaxFlowFailures int

	// HaltDisabled keeps the run going past MaxFlowFailures.
	HaltDisabled bool

	// EmptyBranch selects the policy for zero-element branch arrays.
	EmptyBranch config.EmptyBranchPolicy

	// AppendSource appends each substituted value's source file path
	// after its content during interpolation.
	AppendSource bool

	// Workdir is the working directory for subprocess steps. Empty means
	// the current directory.
	Workdir string

	// FlowDirs, when set, receives each flow's artifact directory on its
	// own line as the flow starts.
	FlowDirs io.Writer
}

// Engine runs a pipeline across a seed set.
type Engine struct {
	pipe     *pipeline.Pipeline
	selector executor.Selector
	run      *artifacts.Run
	opts     Options
	log      *slog.Logger

	progress *Progress
	sched    *scheduler

	mu      sync.Mutex
	results []LeafResult

	cancelRun  context.CancelFunc
	haltOnce   sync.Once
	haltReason error
}

// New creates an engine. The logger may not be nil; pass a discard logger
// to silence it.
func New(pipe *pipeline.Pipeline, sel executor.Selector, run *artifacts.Run, opts Options, log *slog.Logger) *Engine {
	return &Engine{
		pipe:     pipe,
		selector: sel,
		run:      run,
		opts:     opts,
		log:      log,
		progress: NewProgress(pipe.StepNames(), 0),
	}
}

// Progress exposes the live tracker.
func (e *Engine) Progress() *Progress {
	return e.progress
}

// HaltReason returns the error that cut the run short, or nil.
func (e *Engine) HaltReason() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.haltReason
}

// Run drives every seed to a terminal state and returns one result per
// terminal lineage, including failed and cancelled ones. The returned
// error reflects run-level machinery faults, not individual flow failures;
// inspect the results and HaltReason for those.
func (e *Engine) Run(ctx context.Context, seeds []expand.Seed) ([]LeafResult, error) {
	e.progress.seed(len(seeds))
	e.sched = newScheduler(e.opts.Parallel)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancelRun = cancel

	flows := make([]*Flow, len(seeds))
	for i := range seeds {
		flows[i] = newRootFlow(&seeds[i])
	}
	e.sched.submit(flows...)

	// The external context halts the run the same way the failure
	// threshold does: cancel running steps, drain the queue.
	go func() {
		select {
		case <-ctx.Done():
			e.halt(ctx.Err())
		case <-runCtx.Done():
		}
	}()

	var wg sync.WaitGroup
	for {
		f, ok := e.sched.next()
		if !ok {
			break
		}
		e.progress.Admit(f.StepIndex)
		f.State = FlowRunning
		wg.Add(1)
		go func(f *Flow) {
			defer wg.Done()
			defer e.sched.done()
			e.runFlow(runCtx, f)
		}(f)
	}
	wg.Wait()

	e.mu.Lock()
	results := e.results
	e.mu.Unlock()
	return results, nil
}

// halt cancels running steps and retires every queued flow as cancelled.
// The first reason wins.
func (e *Engine) halt(reason error) {
	e.haltOnce.Do(func() {
		e.mu.Lock()
		e.haltReason = reason
		e.mu.Unlock()
		e.log.Warn("halting run", "reason", reason)
		e.cancelRun()
		dropped := e.sched.drain()
		if len(dropped) > 0 {
			e.progress.CancelQueued(len(dropped))
		}
		for _, f := range dropped {
			f.State = FlowCancelled
			e.record(LeafResult{
				FlowID:    f.ID,
				Dir:       f.Dir,
				State:     FlowCancelled,
				StepIndex: f.StepIndex,
				Err:       flowerrors.FlowCancelled(f.ID),
				Sources:   f.Seed.Sources,
			})
			e.recordFinished("cancelled", f.Seed.Sources)
		}
	})
}

// record appends one terminal lineage result.
func (e *Engine) record(r LeafResult) {
	e.mu.Lock()
	e.results = append(e.results, r)
	e.mu.Unlock()
}

// recordFinished appends to the run-level finished report, logging rather
// than failing on write errors so bookkeeping never kills a run.
func (e *Engine) recordFinished(status string, sources []string) {
	if err := e.run.RecordFinished(status, sources); err != nil {
		e.log.Warn("recording finished flow", "error", err)
	}
}

// runFlow executes a flow from its current step until it terminates or
// branches. Branch children are submitted back to the scheduler; the
// goroutine then returns and the children compete for slots like any
// queued flow.
func (e *Engine) runFlow(ctx context.Context, f *Flow) {
	log := logging.WithFlow(e.log, f.ID)

	flowDir, err := e.run.FlowDir(f.ID)
	if err != nil {
		e.failFlow(f, f.StepIndex, err)
		return
	}
	f.Dir = flowDir
	if e.opts.FlowDirs != nil {
		fmt.Fprintln(e.opts.FlowDirs, flowDir)
	}

	for f.StepIndex < len(e.pipe.Steps) {
		if ctx.Err() != nil {
			e.cancelFlow(f)
			return
		}

		step := e.pipe.Steps[f.StepIndex]
		res, err := e.runStep(ctx, f, step)
		if err != nil {
			if ctx.Err() != nil {
				e.cancelFlow(f)
				return
			}
			e.failFlow(f, f.StepIndex, err)
			return
		}

		if step.Array {
			e.branchFlow(ctx, f, step, res)
			return
		}

		f.Carried = res.Output
		f.CarriedPath = res.MessagePath
		if f.StepIndex+1 < len(e.pipe.Steps) {
			e.progress.Advance(f.StepIndex, f.StepIndex+1)
		}
		f.StepIndex++
	}

	f.State = FlowCompleted
	e.progress.Terminal(len(e.pipe.Steps)-1, FlowCompleted)
	log.Info("flow completed", "steps", len(e.pipe.Steps))
	e.record(LeafResult{
		FlowID:      f.ID,
		Output:      f.Carried,
		MessagePath: f.CarriedPath,
		Dir:         f.Dir,
		State:       FlowCompleted,
		StepIndex:   len(e.pipe.Steps) - 1,
		Sources:     f.Seed.Sources,
	})
	e.recordFinished("completed", f.Seed.Sources)
}

// runStep interpolates and executes one step.
func (e *Engine) runStep(ctx context.Context, f *Flow, step *pipeline.Step) (*executor.Result, error) {
	exec, err := e.selector.For(step)
	if err != nil {
		return nil, err
	}

	text, err := e.stepText(step, f)
	if err != nil {
		return nil, err
	}

	prompt, stdin, err := e.bindPrev(step, text, f.Carried)
	if err != nil {
		return nil, err
	}

	stepDir, err := artifacts.StepDir(f.Dir, f.StepIndex)
	if err != nil {
		return nil, err
	}

	timeout, err := e.stepTimeout(step)
	if err != nil {
		return nil, err
	}

	stepLog := logging.WithStep(logging.WithFlow(e.log, f.ID), f.StepIndex, step.DisplayName())
	stepLog.Debug("running step", "kind", string(step.Kind()))

	return exec.Execute(ctx, &executor.Invocation{
		Step:      step,
		StepIndex: f.StepIndex,
		Prompt:    prompt,
		Stdin:     stdin,
		Dir:       stepDir,
		Workdir:   e.opts.Workdir,
		Timeout:   timeout,
	})
}

// stepText resolves the step's raw text and interpolates the seed bindings.
// A prompt file path is itself interpolated before reading, so paths can be
// assembled from input keys.
func (e *Engine) stepText(step *pipeline.Step, f *Flow) (string, error) {
	opts := template.Options{AppendSource: e.opts.AppendSource}

	raw := step.Prompt
	if step.Kind() == pipeline.KindShell {
		raw = step.Cmd
	}
	if step.PromptFile != "" {
		path, err := template.InterpolateValues(step.PromptFile, f.Seed.Bindings, template.Options{})
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", flowerrors.IOReadError(path, err)
		}
		raw = string(data)
	}
	return template.InterpolateValues(raw, f.Seed.Bindings, opts)
}

// bindPrev routes the previous step's output into the invocation. Model
// steps substitute it for the prev placeholder, or have it appended when
// the prompt never references it. Shell steps receive it on stdin only;
// command lines are never assembled from step output.
//
// The prev binding always holds a value: the empty string before any step
// has produced output. A referenced placeholder is substituted even then,
// never left in the prompt.
func (e *Engine) bindPrev(step *pipeline.Step, text, carried string) (prompt, stdin string, err error) {
	if step.Kind() == pipeline.KindShell {
		return text, carried, nil
	}
	if template.References(text, prevKey) {
		out, err := template.Interpolate(text, map[string]string{prevKey: carried})
		return out, "", err
	}
	if carried == "" {
		return text, "", nil
	}
	return text + "\n" + carried, "", nil
}

// stepTimeout resolves the effective timeout: the step's own setting wins,
// otherwise the global bound applies to model steps only.
func (e *Engine) stepTimeout(step *pipeline.Step) (time.Duration, error) {
	d, err := step.TimeoutDuration()
	if err != nil {
		return 0, err
	}
	if d > 0 {
		return d, nil
	}
	if step.Kind() != pipeline.KindShell {
		return e.opts.Timeout, nil
	}
	return 0, nil
}

// branchFlow replaces a flow with one child per array element.
func (e *Engine) branchFlow(ctx context.Context, f *Flow, step *pipeline.Step, res *executor.Result) {
	items, err := parseBranchItems(f.StepIndex, res.Output)
	if err != nil {
		e.failFlow(f, f.StepIndex, err)
		return
	}

	if f.StepIndex == len(e.pipe.Steps)-1 {
		// An array step in final position has nothing to branch into;
		// the flow completes with the array as its output.
		f.Carried = res.Output
		f.CarriedPath = res.MessagePath
		f.StepIndex = len(e.pipe.Steps)
		f.State = FlowCompleted
		e.progress.Terminal(len(e.pipe.Steps)-1, FlowCompleted)
		e.record(LeafResult{
			FlowID:      f.ID,
			Output:      f.Carried,
			MessagePath: f.CarriedPath,
			Dir:         f.Dir,
			State:       FlowCompleted,
			StepIndex:   len(e.pipe.Steps) - 1,
			Sources:     f.Seed.Sources,
		})
		e.recordFinished("completed", f.Seed.Sources)
		return
	}

	if len(items) == 0 {
		if e.opts.EmptyBranch == config.EmptyBranchFail {
			e.failFlow(f, f.StepIndex, flowerrors.FlowEmptyBranch(f.ID, f.StepIndex))
			return
		}
		e.log.Info("branch produced no children, lineage ends", "flow", f.ID, "step", f.StepIndex)
		e.progress.Branch(f.StepIndex, 0)
		f.State = FlowCompleted
		e.recordFinished("empty", f.Seed.Sources)
		return
	}

	e.log.Info("flow branched", "flow", f.ID, "step", f.StepIndex, "children", len(items))

	children := make([]*Flow, len(items))
	for i, item := range items {
		children[i] = &Flow{
			ID:        childID(f.ID, i),
			Seed:      f.Seed,
			StepIndex: f.StepIndex + 1,
			Carried:   item,
			State:     FlowQueued,
		}
	}
	e.progress.Branch(f.StepIndex, len(children))
	f.State = FlowCompleted
	e.sched.submit(children...)
}

// failFlow retires a flow as failed, writing its error artifacts and
// tripping the failure threshold when crossed.
func (e *Engine) failFlow(f *Flow, stepIdx int, stepErr error) {
	f.State = FlowFailed
	f.Err = stepErr
	f.FailedStep = stepIdx

	logging.WithFlow(e.log, f.ID).Error("flow failed", "step", stepIdx, "error", stepErr)

	if f.Dir != "" {
		step := e.pipe.Steps[stepIdx]
		exitCode, stderr := failureDetails(stepErr)
		if _, err := artifacts.WriteStepError(f.Dir, stepIdx, string(step.Kind()), stepErr, exitCode, stderr); err != nil {
			e.log.Warn("writing step error artifact", "flow", f.ID, "error", err)
		}
		if err := artifacts.MarkFlowFailed(f.Dir); err != nil {
			e.log.Warn("marking flow failed", "flow", f.ID, "error", err)
		}
	}

	e.progress.Terminal(stepIdx, FlowFailed)
	e.record(LeafResult{
		FlowID:    f.ID,
		Dir:       f.Dir,
		State:     FlowFailed,
		StepIndex: stepIdx,
		Err:       stepErr,
		Sources:   f.Seed.Sources,
	})
	e.recordFinished("failed", f.Seed.Sources)

	if !e.opts.HaltDisabled && e.opts.MaxFlowFailures > 0 &&
		e.progress.Failed() >= e.opts.MaxFlowFailures {
		e.halt(flowerrors.FlowMaxFailures(e.opts.MaxFlowFailures))
	}
}

// cancelFlow retires a running flow after the run context was cancelled.
func (e *Engine) cancelFlow(f *Flow) {
	f.State = FlowCancelled
	e.progress.Terminal(f.StepIndex, FlowCancelled)
	e.record(LeafResult{
		FlowID:    f.ID,
		Dir:       f.Dir,
		State:     FlowCancelled,
		StepIndex: f.StepIndex,
		Err:       flowerrors.FlowCancelled(f.ID),
		Sources:   f.Seed.Sources,
	})
	e.recordFinished("cancelled", f.Seed.Sources)
}

// failureDetails extracts the exit code and stderr a step error carries.
func failureDetails(err error) (int, string) {
	var le *flowerrors.LoomError
	if !errors.As(err, &le) {
		return 0, ""
	}
	code := 0
	if v, ok := le.Details["exit_code"].(int); ok {
		code = v
	}
	stderr := ""
	if v, ok := le.Details["stderr"].(string); ok {
		stderr = v
	}
	return code, stderr
}
