package executor

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowloom/flowloom/internal/errors"
	"github.com/flowloom/flowloom/internal/testutil"
)

// fakeCodex writes a shell script standing in for the codex binary.
func fakeCodex(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codex")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCodexSuccess(t *testing.T) {
	bin := fakeCodex(t, `echo "answer to: $2"`)
	dir := t.TempDir()
	e := NewCodexExecutor(bin)

	res, err := e.Execute(context.Background(), &Invocation{
		Prompt: "what is up",
		Dir:    dir,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, "answer to: what is up\n", res.Output)

	// Stdout is persisted as the final message artifact.
	testutil.AssertEqual(t, filepath.Join(dir, "final_message.txt"), res.MessagePath)
	testutil.AssertEqual(t, res.Output, testutil.ReadFile(t, res.MessagePath))
}

func TestCodexWorkdir(t *testing.T) {
	bin := fakeCodex(t, "pwd")
	workdir, err := filepath.EvalSymlinks(t.TempDir())
	testutil.AssertNoError(t, err)
	e := NewCodexExecutor(bin)

	res, err := e.Execute(context.Background(), &Invocation{
		Prompt:  "x",
		Workdir: workdir,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertContains(t, res.Output, workdir)
}

func TestCodexNonZeroExitFailsFast(t *testing.T) {
	bin := fakeCodex(t, "echo broken >&2; exit 7")
	e := NewCodexExecutor(bin)
	e.retryPause = time.Millisecond

	res, err := e.Execute(context.Background(), &Invocation{StepIndex: 0, Prompt: "x"})
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, errors.HasCode(err, errors.CodeExecFailed))
	testutil.AssertEqual(t, 7, res.ExitCode)
	testutil.AssertContains(t, res.Stderr, "broken")

	// The error carries the process details for artifact capture.
	var le *errors.LoomError
	testutil.AssertTrue(t, stderrors.As(err, &le))
	testutil.AssertEqual(t, 7, le.Details["exit_code"])
	testutil.AssertContains(t, le.Details["stderr"].(string), "broken")
}

func TestCodexTimeoutRetriesThenFails(t *testing.T) {
	// The background child inherits the stdout pipe; the whole process
	// group must be killed or the attempt outlives its deadline.
	bin := fakeCodex(t, "sleep 10 &\nsleep 10")
	e := NewCodexExecutor(bin)
	e.MaxRetries = 2
	e.retryPause = 10 * time.Millisecond

	start := time.Now()
	_, err := e.Execute(context.Background(), &Invocation{
		StepIndex: 1,
		Prompt:    "x",
		Timeout:   100 * time.Millisecond,
	})
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, errors.HasCode(err, errors.CodeExecTimeout), "got %v", err)

	// Two attempts bounded by the timeout each, not one long hang.
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("retries took too long: %v", elapsed)
	}
}

func TestCodexMissingBinary(t *testing.T) {
	e := NewCodexExecutor("/nonexistent/codex")
	_, err := e.Execute(context.Background(), &Invocation{Prompt: "x"})
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, errors.HasCode(err, errors.CodeExecFailed))
}
