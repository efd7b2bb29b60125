package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowloom/flowloom/internal/artifacts"
	"github.com/flowloom/flowloom/internal/config"
	"github.com/flowloom/flowloom/internal/engine"
	flowerrors "github.com/flowloom/flowloom/internal/errors"
	"github.com/flowloom/flowloom/internal/executor"
	"github.com/flowloom/flowloom/internal/expand"
	"github.com/flowloom/flowloom/internal/logging"
	"github.com/flowloom/flowloom/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline>",
	Short: "Run a pipeline over every input combination",
	Long: `Load a pipeline file and run it once per combination of the --key inputs.

Each --key takes name:listfile, where every line of the list file is a path
to an input file. The file's contents are bound to {{{name}}} in step
prompts and commands. With several keys, the full cross product runs; the
first key varies slowest. With no keys the pipeline runs once.

Flows execute concurrently up to --parallel. A step with array: true fans
its flow out into one child per element of its JSON-array output.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runKeys           []string
	runParallel       int
	runTimeout        time.Duration
	runMaxFailures    int
	runIgnoreMax      bool
	runAppendFilepath bool
	runHidePaths      bool
	runListMessages   bool
	runEmptyBranch    string
	runOpenAIModel    string
	runOpenAITier     string
	runOpenAIEffort   string
)

func init() {
	runCmd.Flags().StringArrayVar(&runKeys, "key", nil, "input key (format: name:listfile, repeatable)")
	runCmd.Flags().IntVar(&runParallel, "parallel", 0, "max concurrently running flows (default from config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "timeout per model step, e.g. 5m (default from config)")
	runCmd.Flags().IntVar(&runMaxFailures, "max-flow-failures", 0, "halt the run after this many failed flows (default from config)")
	runCmd.Flags().BoolVar(&runIgnoreMax, "ignore-max-failures", false, "keep running past the failure threshold")
	runCmd.Flags().BoolVar(&runAppendFilepath, "append-filepath", false, "append each input's file path after its substituted content")
	runCmd.Flags().BoolVar(&runHidePaths, "hide-flow-paths", false, "do not print per-flow artifact directories")
	runCmd.Flags().BoolVar(&runListMessages, "list-final-message-paths", false, "print the final message path of every completed flow")
	runCmd.Flags().StringVar(&runEmptyBranch, "empty-branch", "", "policy for zero-element branches: ignore or fail (default from config)")
	runCmd.Flags().StringVar(&runOpenAIModel, "openai-model", "", "model for openai steps (default from config)")
	runCmd.Flags().StringVar(&runOpenAITier, "openai-service-tier", "", "service tier for openai steps")
	runCmd.Flags().StringVar(&runOpenAIEffort, "openai-reasoning-effort", "", "reasoning effort for openai steps")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyRunFlags(cfg)

	log, closer, err := logging.NewFromConfig(cfg, dir)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	pipe, err := pipeline.Load(args[0])
	if err != nil {
		return err
	}
	if err := pipe.Validate(); err != nil {
		return err
	}

	seeds, err := loadSeeds(runKeys)
	if err != nil {
		return err
	}

	run, err := artifacts.NewRun(cfg.RunsDir(dir))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run: %s\n", run.Dir)
	log = logging.WithRun(log, run.ID)
	log.Info("starting run", "seeds", len(seeds), "steps", len(pipe.Steps))

	opts := engine.Options{
		Parallel:        cfg.Defaults.Parallel,
		Timeout:         cfg.Defaults.Timeout,
		MaxFlowFailures: cfg.Defaults.MaxFlowFailures,
		HaltDisabled:    runIgnoreMax,
		EmptyBranch:     cfg.Defaults.EmptyBranch,
		AppendSource:    runAppendFilepath,
		Workdir:         dir,
	}
	if !runHidePaths {
		// Flow directory paths stream out as flows start.
		opts.FlowDirs = cmd.OutOrStdout()
	}
	eng := engine.New(pipe, buildRegistry(cfg), run, opts, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := runWithMonitor(ctx, eng, seeds, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	return report(cmd, run, pipe, results, eng.HaltReason())
}

// applyRunFlags overlays explicitly set flags onto the loaded config so the
// precedence is defaults, then config files, then flags.
func applyRunFlags(cfg *config.Config) {
	if runParallel > 0 {
		cfg.Defaults.Parallel = runParallel
	}
	if runTimeout > 0 {
		cfg.Defaults.Timeout = runTimeout
	}
	if runMaxFailures > 0 {
		cfg.Defaults.MaxFlowFailures = runMaxFailures
	}
	if runEmptyBranch != "" {
		cfg.Defaults.EmptyBranch = config.EmptyBranchPolicy(runEmptyBranch)
	}
	if runOpenAIModel != "" {
		cfg.OpenAI.Model = runOpenAIModel
	}
	if runOpenAITier != "" {
		cfg.OpenAI.ServiceTier = runOpenAITier
	}
	if runOpenAIEffort != "" {
		cfg.OpenAI.ReasoningEffort = runOpenAIEffort
	}
	if verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
}

// loadSeeds parses the --key specs and expands the cross product.
func loadSeeds(specs []string) ([]expand.Seed, error) {
	keys := make([]expand.KeyFile, 0, len(specs))
	for _, spec := range specs {
		kf, err := expand.ParseKeySpec(spec)
		if err != nil {
			return nil, err
		}
		keys = append(keys, kf)
	}
	return expand.Expand(keys)
}

// buildRegistry wires one executor per step kind.
func buildRegistry(cfg *config.Config) *executor.Registry {
	reg := executor.NewRegistry()
	reg.Register(pipeline.KindShell, executor.NewShellExecutor())
	reg.Register(pipeline.KindCodex, executor.NewCodexExecutor(cfg.Codex.Command))
	reg.Register(pipeline.KindOpenAI, executor.NewOpenAIExecutor(
		cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.ServiceTier, cfg.OpenAI.ReasoningEffort))
	return reg
}

// runWithMonitor drives the engine with live progress on stderr.
func runWithMonitor(ctx context.Context, eng *engine.Engine, seeds []expand.Seed, progressOut io.Writer) ([]engine.LeafResult, error) {
	done := make(chan struct{})
	var results []engine.LeafResult
	var runErr error
	go func() {
		defer close(done)
		results, runErr = eng.Run(ctx, seeds)
	}()

	mon := engine.NewMonitor(eng.Progress(), progressOut, 0)
	mon.Start()
	<-done
	mon.Stop()
	return results, runErr
}

// report prints the run summary and persists the run-level failure report.
// A halted run is an error so the process exits non-zero.
func report(cmd *cobra.Command, run *artifacts.Run, pipe *pipeline.Pipeline, results []engine.LeafResult, haltReason error) error {
	out := cmd.OutOrStdout()

	var failedSources [][]string
	completed, failed, cancelled := 0, 0, 0
	for _, r := range results {
		switch r.State {
		case engine.FlowCompleted:
			completed++
		case engine.FlowFailed:
			failed++
			failedSources = append(failedSources, r.Sources)
		case engine.FlowCancelled:
			cancelled++
		}
	}

	if len(failedSources) > 0 {
		if err := run.WriteFailedFiles(failedSources); err != nil {
			return err
		}
	}

	for i := range results {
		r := &results[i]
		if r.State != engine.FlowCompleted {
			continue
		}
		// Codex final steps persist their own message; synthesize one
		// for other terminal kinds so every leaf has the artifact.
		if r.MessagePath == "" && r.Dir != "" && !pipe.FinalStepIsCodex() {
			path, err := artifacts.WriteFinalMessage(r.Dir, r.Output)
			if err != nil {
				return err
			}
			r.MessagePath = path
		}
	}

	fmt.Fprintf(out, "completed: %d  failed: %d  cancelled: %d\n", completed, failed, cancelled)

	for _, r := range results {
		if r.State == engine.FlowFailed {
			fmt.Fprintf(out, "flow %s failed at step %d: %v\n", r.FlowID, r.StepIndex, r.Err)
		}
	}

	// The listing is for pipelines whose terminal step is the codex CLI;
	// its stdout is the message worth collecting.
	if runListMessages && pipe.FinalStepIsCodex() {
		for _, r := range results {
			if r.State == engine.FlowCompleted && r.MessagePath != "" {
				fmt.Fprintln(out, r.MessagePath)
			}
		}
	}

	if haltReason != nil && flowerrors.HasCode(haltReason, flowerrors.CodeFlowMaxFailures) {
		return haltReason
	}
	return nil
}
