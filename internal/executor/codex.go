package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	flowerrors "github.com/flowloom/flowloom/internal/errors"
)

// CodexExecutor runs prompts through the codex CLI.
//
// Timeouts are retried up to MaxRetries attempts with a short pause, since
// the CLI occasionally stalls on transient backend conditions. Any other
// failure fails fast.
type CodexExecutor struct {
	// Command is the codex binary to invoke.
	Command string

	// MaxRetries is the attempt budget for timed-out invocations.
	// Defaults to 3.
	MaxRetries int

	// retryPause is overridable in tests.
	retryPause time.Duration
}

// NewCodexExecutor creates a CodexExecutor for the given binary.
func NewCodexExecutor(command string) *CodexExecutor {
	return &CodexExecutor{
		Command:    command,
		MaxRetries: 3,
		retryPause: time.Second,
	}
}

// Execute invokes the codex CLI with the interpolated prompt. Stdout is the
// step output and is also persisted as the invocation's final message.
func (e *CodexExecutor) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	retries := e.MaxRetries
	if retries < 1 {
		retries = 1
	}
	pause := e.retryPause
	if pause == 0 {
		pause = time.Second
	}

	var lastRes *Result
	var lastErr error

	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastRes, ctx.Err()
			case <-time.After(pause):
			}
		}

		res, timedOut, err := e.runOnce(ctx, inv)
		if err == nil {
			return res, nil
		}
		if !timedOut {
			return res, err
		}
		lastRes, lastErr = res, err
	}

	return lastRes, lastErr
}

// runOnce performs a single codex invocation under its own deadline.
// The bool reports whether the attempt ended on the step-level deadline.
//
// The process runs in its own group and the whole group is killed on
// cancellation. The CLI spawns subprocesses that inherit the stdout pipe;
// killing only the direct child would leave cmd.Wait blocked on the pipe
// until every grandchild exits.
func (e *CodexExecutor) runOnce(ctx context.Context, inv *Invocation) (*Result, bool, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.Command(e.Command, "--prompt", inv.Prompt)
	if inv.Workdir != "" {
		cmd.Dir = inv.Workdir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		return nil, false, flowerrors.ExecFailed(inv.StepIndex, "codex", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case <-runCtx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)

			select {
			case <-done:
			case <-time.After(3 * time.Second):
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				<-done
			}
		}
		waitErr = runCtx.Err()

	case err := <-done:
		waitErr = err
	}

	res := &Result{
		Output: stdout.String(),
		Stderr: stderr.String(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return res, true, flowerrors.ExecTimeout(inv.StepIndex, "codex", inv.Timeout.String())
	}
	if ctx.Err() != nil {
		return res, false, ctx.Err()
	}
	if waitErr != nil {
		return res, false, flowerrors.ExecFailed(inv.StepIndex, "codex", waitErr).
			WithDetail("exit_code", res.ExitCode).
			WithDetail("stderr", res.Stderr)
	}

	if inv.Dir != "" {
		msgPath := filepath.Join(inv.Dir, "final_message.txt")
		if werr := os.WriteFile(msgPath, []byte(res.Output), 0644); werr != nil {
			return res, false, flowerrors.IOWriteError(msgPath, werr)
		}
		res.MessagePath = msgPath
	}

	return res, false, nil
}

var _ Executor = (*CodexExecutor)(nil)

// String describes the executor for logs.
func (e *CodexExecutor) String() string {
	return fmt.Sprintf("codex(%s)", e.Command)
}
