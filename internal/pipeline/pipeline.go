// Package pipeline defines the declarative step sequence a run executes.
//
// A pipeline file is an ordered list of step objects, parsed as YAML.
// JSON configs parse unchanged since YAML is a superset:
//
//	- type: openai
//	  name: plan
//	  prompt: "List subtasks for {{{goal}}} as a JSON array"
//	  array: true
//	- type: codex
//	  prmpt_file: prompts/implement.txt
//	- cmd: "wc -l"
//
// The parsed sequence is shared read-only by every flow.
package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowloom/flowloom/internal/errors"
)

// StepKind identifies the executor variant for a step.
type StepKind string

const (
	KindCodex  StepKind = "codex"
	KindOpenAI StepKind = "openai"
	KindShell  StepKind = "shell"
)

// Step is one stage of the pipeline, immutable once loaded.
type Step struct {
	// Type is the step kind tag: "codex" or "openai". Steps with Cmd set
	// are shell steps and may omit Type.
	Type string `yaml:"type,omitempty"`

	// Name is an optional display name used in progress output.
	Name string `yaml:"name,omitempty"`

	// Prompt is the literal prompt template for model steps.
	Prompt string `yaml:"prompt,omitempty"`

	// PromptFile is a path to a file holding the prompt template.
	// Placeholders apply to the path itself before the file is read.
	PromptFile string `yaml:"prmpt_file,omitempty"`

	// Cmd is the shell command template. Mutually exclusive with
	// model-call fields.
	Cmd string `yaml:"cmd,omitempty"`

	// Array marks the step's output as a JSON array that branches the flow.
	Array bool `yaml:"array,omitempty"`

	// WebSearch enables the web search tool for openai steps.
	WebSearch bool `yaml:"web_search,omitempty"`

	// Timeout is an optional per-step duration ("30s", "5m") overriding
	// the run-level timeout.
	Timeout string `yaml:"timeout,omitempty"`
}

// Kind returns the executor variant for the step.
func (s *Step) Kind() StepKind {
	if s.Cmd != "" {
		return KindShell
	}
	return StepKind(s.Type)
}

// DisplayName returns the step's name for progress output,
// falling back to its kind.
func (s *Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Cmd != "" {
		return "cmd"
	}
	return s.Type
}

// TimeoutDuration parses the step-level timeout. Zero means unset.
func (s *Step) TimeoutDuration() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parsing step timeout %q: %w", s.Timeout, err)
	}
	return d, nil
}

// Pipeline is the ordered, shared step sequence.
type Pipeline struct {
	Steps []*Step
}

// Load reads and validates a pipeline file.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IOReadError(path, err)
	}
	return Parse(data, path)
}

// Parse parses and validates pipeline config bytes. The path is used only
// for error messages.
func Parse(data []byte, path string) (*Pipeline, error) {
	var steps []*Step
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, errors.PipelineParse(path, err)
	}

	p := &Pipeline{Steps: steps}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks every step definition.
func (p *Pipeline) Validate() error {
	if len(p.Steps) == 0 {
		return errors.New(errors.CodePipelineBadStep, "pipeline has no steps")
	}

	for i, s := range p.Steps {
		if s == nil {
			return errors.PipelineBadStep(i, "empty step")
		}
		if s.Cmd != "" {
			if s.Prompt != "" || s.PromptFile != "" {
				return errors.PipelineBadStep(i, "cmd is mutually exclusive with prompt fields")
			}
			if s.Type != "" {
				return errors.PipelineBadStep(i, "cmd steps must not set type")
			}
		} else {
			switch StepKind(s.Type) {
			case KindCodex, KindOpenAI:
			default:
				return errors.PipelineUnknownStep(i, s.Type)
			}
			if s.Prompt == "" && s.PromptFile == "" {
				return errors.PipelineBadStep(i, "model steps require prompt or prmpt_file")
			}
			if s.Prompt != "" && s.PromptFile != "" {
				return errors.PipelineBadStep(i, "prompt and prmpt_file are mutually exclusive")
			}
		}
		if _, err := s.TimeoutDuration(); err != nil {
			return errors.PipelineBadStep(i, err.Error())
		}
	}
	return nil
}

// StepNames returns the display names in step order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.DisplayName()
	}
	return names
}

// FinalStepIsCodex reports whether the last step invokes the codex CLI.
// Used for final-message path listing.
func (p *Pipeline) FinalStepIsCodex() bool {
	if len(p.Steps) == 0 {
		return false
	}
	return p.Steps[len(p.Steps)-1].Kind() == KindCodex
}
