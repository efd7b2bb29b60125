package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := New(CodeExecFailed, "command failed")
	if got := err.Error(); got != "[EXEC_002] command failed" {
		t.Errorf("unexpected error string: %q", got)
	}
}

func TestErrorFormatWithCause(t *testing.T) {
	cause := stderrors.New("exit status 1")
	err := Wrap(CodeExecFailed, "command failed", cause)
	if got := err.Error(); got != "[EXEC_002] command failed: exit status 1" {
		t.Errorf("unexpected error string: %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("underlying")
	err := Wrap(CodeIOReadError, "read failed", cause)
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestHasCode(t *testing.T) {
	err := ExecTimeout(2, "codex", "30s")
	if !HasCode(err, CodeExecTimeout) {
		t.Error("expected HasCode to match EXEC_001")
	}
	if HasCode(err, CodeExecFailed) {
		t.Error("did not expect HasCode to match EXEC_002")
	}
	if HasCode(stderrors.New("plain"), CodeExecTimeout) {
		t.Error("plain error should not match any code")
	}
}

func TestHasCodeWrapped(t *testing.T) {
	inner := InputEmptyKeyFile("repo", "repos.txt")
	wrapped := fmt.Errorf("expanding inputs: %w", inner)
	if !HasCode(wrapped, CodeInputEmptyKeyFile) {
		t.Error("expected HasCode to unwrap to INPUT_002")
	}
	if Code(wrapped) != CodeInputEmptyKeyFile {
		t.Errorf("Code returned %q", Code(wrapped))
	}
}

func TestWithDetail(t *testing.T) {
	err := New(CodeFlowCancelled, "cancelled").WithDetail("flow_id", "3/1")
	if err.Details["flow_id"] != "3/1" {
		t.Errorf("expected detail flow_id=3/1, got %v", err.Details["flow_id"])
	}
}

func TestMarshalJSON(t *testing.T) {
	err := Wrap(CodeExecFailed, "command failed", stderrors.New("boom")).
		WithDetail("step", 1)

	data, merr := json.Marshal(err)
	if merr != nil {
		t.Fatalf("marshal error: %v", merr)
	}
	s := string(data)
	if !strings.Contains(s, `"code":"EXEC_002"`) {
		t.Errorf("missing code in JSON: %s", s)
	}
	if !strings.Contains(s, `"cause":"boom"`) {
		t.Errorf("missing cause in JSON: %s", s)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *LoomError
		code string
	}{
		{"missing key file", InputMissingKeyFile("k", "f.txt", stderrors.New("no such file")), CodeInputMissingKeyFile},
		{"empty key file", InputEmptyKeyFile("k", "f.txt"), CodeInputEmptyKeyFile},
		{"bad key spec", InputBadKeySpec("nofcolon"), CodeInputBadKeySpec},
		{"unterminated", TemplateUnterminated(12), CodeTemplateUnterminated},
		{"unknown step", PipelineUnknownStep(0, "gpt"), CodePipelineUnknownStep},
		{"bad step", PipelineBadStep(1, "missing prompt"), CodePipelineBadStep},
		{"timeout", ExecTimeout(0, "codex", "10s"), CodeExecTimeout},
		{"malformed array", ExecMalformedArray(2, stderrors.New("bad json")), CodeExecMalformedArray},
		{"max failures", FlowMaxFailures(3), CodeFlowMaxFailures},
		{"empty branch", FlowEmptyBranch("0", 1), CodeFlowEmptyBranch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, tt.err.Code)
			}
			if tt.err.Message == "" {
				t.Error("expected non-empty message")
			}
		})
	}
}
