package executor

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flowloom/flowloom/internal/errors"
	"github.com/flowloom/flowloom/internal/testutil"
)

func TestShellSimpleCommand(t *testing.T) {
	e := NewShellExecutor()

	res, err := e.Execute(context.Background(), &Invocation{Prompt: "echo hello"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, "hello\n", res.Output)
	testutil.AssertEqual(t, 0, res.ExitCode)
}

func TestShellStdinCarriesPreviousOutput(t *testing.T) {
	e := NewShellExecutor()

	res, err := e.Execute(context.Background(), &Invocation{
		Prompt: "wc -l",
		Stdin:  "one\ntwo\nthree\n",
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, "3", strings.TrimSpace(res.Output))
}

func TestShellWorkdir(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "marker.txt", "x")
	e := NewShellExecutor()

	res, err := e.Execute(context.Background(), &Invocation{
		Prompt:  "ls",
		Workdir: dir,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertContains(t, res.Output, "marker.txt")
}

func TestShellNonZeroExit(t *testing.T) {
	e := NewShellExecutor()

	res, err := e.Execute(context.Background(), &Invocation{
		StepIndex: 1,
		Prompt:    "echo oops >&2; exit 3",
	})
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, errors.HasCode(err, errors.CodeExecFailed))
	testutil.AssertEqual(t, 3, res.ExitCode)
	testutil.AssertContains(t, res.Stderr, "oops")

	// The error carries the process details for artifact capture.
	var le *errors.LoomError
	testutil.AssertTrue(t, stderrors.As(err, &le))
	testutil.AssertEqual(t, 3, le.Details["exit_code"])
	testutil.AssertContains(t, le.Details["stderr"].(string), "oops")
}

func TestShellTimeout(t *testing.T) {
	e := NewShellExecutor()

	start := time.Now()
	_, err := e.Execute(context.Background(), &Invocation{
		Prompt:  "sleep 10",
		Timeout: 100 * time.Millisecond,
	})
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, errors.HasCode(err, errors.CodeExecTimeout), "got %v", err)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestShellParentCancellation(t *testing.T) {
	e := NewShellExecutor()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := e.Execute(ctx, &Invocation{Prompt: "sleep 10"})
	testutil.AssertError(t, err)
	// Parent cancellation surfaces as context.Canceled, not a timeout.
	testutil.AssertTrue(t, err == context.Canceled, "got %v", err)
}

func TestShellWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	e := NewShellExecutor()

	_, err := e.Execute(context.Background(), &Invocation{
		StepIndex: 2,
		Prompt:    "echo artifact",
		Dir:       dir,
	})
	testutil.AssertNoError(t, err)

	data := testutil.ReadFile(t, filepath.Join(dir, "step_2_cmd.txt"))
	testutil.AssertEqual(t, "artifact\n", data)
}

func TestShellEmptyCommand(t *testing.T) {
	e := NewShellExecutor()
	_, err := e.Execute(context.Background(), &Invocation{})
	testutil.AssertError(t, err)
}
