// Package artifacts manages the on-disk layout of a run.
//
// Layout:
//
//	<runs_dir>/run-<uuid>/
//	  finished.txt                one line per finished flow
//	  failed_files                key-file paths of failed flows
//	  flow_<seed>/                one directory per root flow
//	    step_0/                   one directory per executor invocation
//	    branch_<i>/               one directory per branch child
//	      step_1/
//	    errors/                   per-step error capture
//	    flow_failed.txt           marker when any part of the flow failed
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/flowloom/flowloom/internal/errors"
)

// Run is one run-scoped artifact directory.
type Run struct {
	// ID is the run identifier, e.g. "run-8f14e45f-...".
	ID string

	// Dir is the absolute run directory.
	Dir string

	mu sync.Mutex // guards finished.txt appends
}

// NewRun creates a fresh run directory under runsDir.
func NewRun(runsDir string) (*Run, error) {
	id := "run-" + uuid.NewString()
	dir := filepath.Join(runsDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.IOWriteError(dir, err)
	}

	// finished.txt exists from the start so observers can tail it.
	finished := filepath.Join(dir, "finished.txt")
	if err := os.WriteFile(finished, nil, 0644); err != nil {
		return nil, errors.IOWriteError(finished, err)
	}

	return &Run{ID: id, Dir: dir}, nil
}

// FlowDir creates and returns the directory for a flow identity.
// Root flows live at flow_<seed>; branch children nest under branch_<i>
// directories, e.g. "3/1/0" -> flow_3/branch_1/branch_0.
func (r *Run) FlowDir(flowID string) (string, error) {
	parts := strings.Split(flowID, "/")
	segs := make([]string, len(parts))
	for i, p := range parts {
		if i == 0 {
			segs[i] = "flow_" + p
		} else {
			segs[i] = "branch_" + p
		}
	}
	dir := filepath.Join(append([]string{r.Dir}, segs...)...)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.IOWriteError(dir, err)
	}
	return dir, nil
}

// StepDir creates and returns the invocation directory for one step of a flow.
func StepDir(flowDir string, stepIndex int) (string, error) {
	dir := filepath.Join(flowDir, "step_"+strconv.Itoa(stepIndex))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.IOWriteError(dir, err)
	}
	return dir, nil
}

// RecordFinished appends one status line for a finished flow. Sources are
// the originating key-file paths of the flow's seed, when any.
func (r *Run) RecordFinished(status string, sources []string) error {
	line := status
	if len(sources) > 0 {
		line += " " + strings.Join(sources, ", ")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.Dir, "finished.txt")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.IOWriteError(path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return errors.IOWriteError(path, err)
	}
	return nil
}

// WriteFailedFiles records the key-file paths of every failed flow,
// one comma-joined line per flow. Nothing is written when no flow failed.
func (r *Run) WriteFailedFiles(failed [][]string) error {
	if len(failed) == 0 {
		return nil
	}

	var b strings.Builder
	for _, sources := range failed {
		b.WriteString(strings.Join(sources, ","))
		b.WriteString("\n")
	}

	path := filepath.Join(r.Dir, "failed_files")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return errors.IOWriteError(path, err)
	}
	return nil
}

// MarkFlowFailed drops the failure marker into a flow directory.
func MarkFlowFailed(flowDir string) error {
	path := filepath.Join(flowDir, "flow_failed.txt")
	if err := os.WriteFile(path, []byte("Flow failed\n"), 0644); err != nil {
		return errors.IOWriteError(path, err)
	}
	return nil
}

// WriteStepError captures a step failure under the flow's errors directory.
// Exit code and stderr are recorded when the failure came from a process.
func WriteStepError(flowDir string, stepIndex int, kind string, stepErr error, exitCode int, stderr string) (string, error) {
	errDir := filepath.Join(flowDir, "errors", fmt.Sprintf("step_%d", stepIndex))
	if err := os.MkdirAll(errDir, 0755); err != nil {
		return "", errors.IOWriteError(errDir, err)
	}

	errFile := filepath.Join(errDir, fmt.Sprintf("step_%d_%s.txt", stepIndex, kind))
	if err := os.WriteFile(errFile, []byte(stepErr.Error()+"\n"), 0644); err != nil {
		return "", errors.IOWriteError(errFile, err)
	}

	if stderr != "" || exitCode != 0 {
		content := fmt.Sprintf("exit_code: %d\n%s", exitCode, stderr)
		if stderr != "" && !strings.HasSuffix(stderr, "\n") {
			content += "\n"
		}
		stderrFile := filepath.Join(errDir, fmt.Sprintf("step_%d_%s_stderr.txt", stepIndex, kind))
		if err := os.WriteFile(stderrFile, []byte(content), 0644); err != nil {
			return "", errors.IOWriteError(stderrFile, err)
		}
	}

	return errFile, nil
}

// WriteFinalMessage persists a leaf's final output text when the terminal
// executor did not write its own message artifact. Returns the path.
func WriteFinalMessage(flowDir, output string) (string, error) {
	path := filepath.Join(flowDir, "final_message.txt")
	if err := os.WriteFile(path, []byte(output), 0644); err != nil {
		return "", errors.IOWriteError(path, err)
	}
	return path, nil
}
