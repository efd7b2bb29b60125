// Package errors provides structured error types for flowloom.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for flowloom operations.
const (
	// Input errors (fatal before any flow starts)
	CodeInputMissingKeyFile = "INPUT_001" // Key file or listed file not found
	CodeInputEmptyKeyFile   = "INPUT_002" // Key file has zero usable lines
	CodeInputBadKeySpec     = "INPUT_003" // --key flag not in name:file form

	// Template errors
	CodeTemplateUnterminated = "TMPL_001" // Placeholder opened but never closed

	// Pipeline config errors
	CodePipelineParse       = "PIPE_001" // Config file failed to parse
	CodePipelineUnknownStep = "PIPE_002" // Step type not codex/openai/cmd
	CodePipelineBadStep     = "PIPE_003" // Step definition invalid
	CodePipelinePromptFile  = "PIPE_004" // prmpt_file could not be read

	// Executor errors
	CodeExecTimeout        = "EXEC_001" // Invocation exceeded its timeout
	CodeExecFailed         = "EXEC_002" // Non-zero exit or API failure
	CodeExecMalformedArray = "EXEC_003" // array step output is not a JSON array

	// Flow errors
	CodeFlowCancelled    = "FLOW_001" // Flow cancelled before completion
	CodeFlowMaxFailures  = "FLOW_002" // Failure threshold reached
	CodeFlowEmptyBranch  = "FLOW_003" // Branch produced zero children (fail policy)

	// IO errors
	CodeIOReadError  = "IO_001" // Read error
	CodeIOWriteError = "IO_002" // Write error
)

// LoomError is the structured error type for flowloom operations.
type LoomError struct {
	Code    string         `json:"code"`              // Error code (e.g., "EXEC_001")
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Context (flow_id, step, etc.)
	Cause   error          `json:"-"`                 // Wrapped error (not serialized)
}

// Error implements the error interface.
func (e *LoomError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *LoomError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *LoomError) WithDetail(key string, value any) *LoomError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *LoomError) WithCause(err error) *LoomError {
	e.Cause = err
	return e
}

// MarshalJSON implements json.Marshaler with cause error message.
func (e *LoomError) MarshalJSON() ([]byte, error) {
	type alias LoomError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a new LoomError.
func New(code, message string) *LoomError {
	return &LoomError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new LoomError with formatted message.
func Newf(code, format string, args ...any) *LoomError {
	return &LoomError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a LoomError.
func Wrap(code, message string, err error) *LoomError {
	return &LoomError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted LoomError.
func Wrapf(code string, err error, format string, args ...any) *LoomError {
	return &LoomError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// --- Input Errors ---

// InputMissingKeyFile creates an error for a missing key or value file.
func InputMissingKeyFile(key, path string, err error) *LoomError {
	return Wrapf(CodeInputMissingKeyFile, err, "key %q: cannot read %s", key, path).
		WithDetail("key", key).
		WithDetail("path", path)
}

// InputEmptyKeyFile creates an error for a key file with no usable lines.
func InputEmptyKeyFile(key, path string) *LoomError {
	return Newf(CodeInputEmptyKeyFile, "key %q: file %s has no entries", key, path).
		WithDetail("key", key).
		WithDetail("path", path)
}

// InputBadKeySpec creates an error for a malformed --key flag value.
func InputBadKeySpec(spec string) *LoomError {
	return Newf(CodeInputBadKeySpec, "invalid key spec %q (expected name:file)", spec).
		WithDetail("spec", spec)
}

// --- Template Errors ---

// TemplateUnterminated creates an error for an unclosed placeholder.
func TemplateUnterminated(offset int) *LoomError {
	return Newf(CodeTemplateUnterminated, "unterminated placeholder at offset %d", offset).
		WithDetail("offset", offset)
}

// --- Pipeline Errors ---

// PipelineParse creates an error for a config that failed to parse.
func PipelineParse(path string, err error) *LoomError {
	return Wrap(CodePipelineParse, "failed to parse pipeline config", err).
		WithDetail("path", path)
}

// PipelineUnknownStep creates an error for an unrecognized step type.
func PipelineUnknownStep(index int, stepType string) *LoomError {
	return Newf(CodePipelineUnknownStep, "step %d: unknown step type %q", index, stepType).
		WithDetail("step", index).
		WithDetail("type", stepType)
}

// PipelineBadStep creates an error for an invalid step definition.
func PipelineBadStep(index int, reason string) *LoomError {
	return Newf(CodePipelineBadStep, "step %d: %s", index, reason).
		WithDetail("step", index)
}

// PipelinePromptFile creates an error for an unreadable prompt file.
func PipelinePromptFile(index int, path string, err error) *LoomError {
	return Wrapf(CodePipelinePromptFile, err, "step %d: cannot read prompt file %s", index, path).
		WithDetail("step", index).
		WithDetail("path", path)
}

// --- Executor Errors ---

// ExecTimeout creates an error for a timed-out invocation.
func ExecTimeout(step int, kind string, timeout string) *LoomError {
	return Newf(CodeExecTimeout, "step %d (%s) timed out after %s", step, kind, timeout).
		WithDetail("step", step).
		WithDetail("kind", kind)
}

// ExecFailed creates an error for a failed invocation.
func ExecFailed(step int, kind string, err error) *LoomError {
	return Wrapf(CodeExecFailed, err, "step %d (%s) failed", step, kind).
		WithDetail("step", step).
		WithDetail("kind", kind)
}

// ExecMalformedArray creates an error for unparseable array output.
func ExecMalformedArray(step int, err error) *LoomError {
	return Wrapf(CodeExecMalformedArray, err, "step %d: output is not a JSON array", step).
		WithDetail("step", step)
}

// --- Flow Errors ---

// FlowCancelled creates an error for a cancelled flow.
func FlowCancelled(flowID string) *LoomError {
	return Newf(CodeFlowCancelled, "flow %s cancelled", flowID).
		WithDetail("flow_id", flowID)
}

// FlowMaxFailures creates an error for the failure threshold being reached.
func FlowMaxFailures(limit int) *LoomError {
	return Newf(CodeFlowMaxFailures, "maximum flow failures reached (%d)", limit).
		WithDetail("limit", limit)
}

// FlowEmptyBranch creates an error for a zero-element branch under the fail policy.
func FlowEmptyBranch(flowID string, step int) *LoomError {
	return Newf(CodeFlowEmptyBranch, "flow %s: step %d branched into zero children", flowID, step).
		WithDetail("flow_id", flowID).
		WithDetail("step", step)
}

// --- IO Errors ---

// IOReadError creates an error for read failures.
func IOReadError(path string, err error) *LoomError {
	return Wrap(CodeIOReadError, "failed to read file", err).
		WithDetail("path", path)
}

// IOWriteError creates an error for write failures.
func IOWriteError(path string, err error) *LoomError {
	return Wrap(CodeIOWriteError, "failed to write file", err).
		WithDetail("path", path)
}

// HasCode checks if an error is a LoomError with the given code.
// It handles wrapped errors by unwrapping to find a LoomError.
func HasCode(err error, code string) bool {
	var lerr *LoomError
	if errors.As(err, &lerr) {
		return lerr.Code == code
	}
	return false
}

// Code returns the error code if err is a LoomError, empty string otherwise.
// It handles wrapped errors by unwrapping to find a LoomError.
func Code(err error) string {
	var lerr *LoomError
	if errors.As(err, &lerr) {
		return lerr.Code
	}
	return ""
}
