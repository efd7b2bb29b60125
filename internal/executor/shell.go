package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	flowerrors "github.com/flowloom/flowloom/internal/errors"
)

// ShellExecutor executes shell command steps with context cancellation.
//
// The interpolated command runs under the configured shell; the previous
// step's output arrives on stdin, never on the command line.
type ShellExecutor struct {
	// DefaultShell is the shell used to execute commands.
	// Defaults to "/bin/sh".
	DefaultShell string
}

// NewShellExecutor creates a new ShellExecutor with default settings.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{
		DefaultShell: "/bin/sh",
	}
}

// Execute runs the shell command and captures stdout as the step output.
// When the context is cancelled or the timeout elapses, the process group
// is terminated gracefully (SIGTERM, then SIGKILL after 3s).
func (e *ShellExecutor) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	if inv.Prompt == "" {
		return nil, fmt.Errorf("shell command is empty")
	}

	shell := e.DefaultShell
	if shell == "" {
		shell = "/bin/sh"
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	// Create command with shell (not CommandContext - we handle cancellation
	// manually to support graceful SIGTERM before SIGKILL)
	cmd := exec.Command(shell, "-c", inv.Prompt)

	if inv.Workdir != "" {
		cmd.Dir = inv.Workdir
	}
	if inv.Stdin != "" {
		cmd.Stdin = strings.NewReader(inv.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Set process group so we can kill the entire tree
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		return nil, flowerrors.ExecFailed(inv.StepIndex, "cmd", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var exitCode int
	var waitErr error

	select {
	case <-runCtx.Done():
		if cmd.Process != nil {
			// Try graceful termination first
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)

			select {
			case <-done:
				// Process exited
			case <-time.After(3 * time.Second):
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				<-done
			}
		}
		exitCode = -1
		waitErr = runCtx.Err()

	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
			waitErr = err
		}
	}

	res := &Result{
		Output:   stdout.String(),
		ExitCode: exitCode,
		Stderr:   stderr.String(),
	}

	if waitErr != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return res, flowerrors.ExecTimeout(inv.StepIndex, "cmd", inv.Timeout.String())
		}
		if ctx.Err() != nil {
			// Parent cancellation, not a step-level timeout.
			return res, ctx.Err()
		}
		return res, flowerrors.ExecFailed(inv.StepIndex, "cmd", waitErr).
			WithDetail("exit_code", exitCode).
			WithDetail("stderr", res.Stderr)
	}

	if inv.Dir != "" {
		outFile := filepath.Join(inv.Dir, fmt.Sprintf("step_%d_cmd.txt", inv.StepIndex))
		if err := os.WriteFile(outFile, []byte(res.Output), 0644); err != nil {
			return res, flowerrors.IOWriteError(outFile, err)
		}
	}

	return res, nil
}
