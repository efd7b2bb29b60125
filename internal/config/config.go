// Package config loads flowloom configuration from TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// EmptyBranchPolicy specifies how a zero-element branch array is treated.
type EmptyBranchPolicy string

const (
	// EmptyBranchIgnore ends the lineage silently with zero leaf results.
	EmptyBranchIgnore EmptyBranchPolicy = "ignore"
	// EmptyBranchFail marks the branching flow as failed.
	EmptyBranchFail EmptyBranchPolicy = "fail"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// PathsConfig holds path configuration.
type PathsConfig struct {
	RunsDir string `toml:"runs_dir"`
	LogsDir string `toml:"logs_dir"`
}

// DefaultsConfig holds default run values, overridable by flags.
type DefaultsConfig struct {
	Parallel        int           `toml:"parallel"`
	Timeout         time.Duration `toml:"timeout"`
	MaxFlowFailures int           `toml:"max_flow_failures"`

	EmptyBranch EmptyBranchPolicy `toml:"empty_branch"`
}

// OpenAIConfig holds request options for openai steps.
type OpenAIConfig struct {
	Model           string `toml:"model"`
	ServiceTier     string `toml:"service_tier"`
	ReasoningEffort string `toml:"reasoning_effort"`
	BaseURL         string `toml:"base_url"`
}

// CodexConfig holds settings for codex CLI steps.
type CodexConfig struct {
	// Command is the codex binary to invoke. Defaults to "codex".
	Command string `toml:"command"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// Config is the main configuration struct for flowloom.
type Config struct {
	Version  string         `toml:"version"`
	Paths    PathsConfig    `toml:"paths"`
	Defaults DefaultsConfig `toml:"defaults"`
	OpenAI   OpenAIConfig   `toml:"openai"`
	Codex    CodexConfig    `toml:"codex"`
	Logging  LoggingConfig  `toml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Paths: PathsConfig{
			RunsDir: ".flowloom/runs",
			LogsDir: ".flowloom/logs",
		},
		Defaults: DefaultsConfig{
			Parallel:        1,
			Timeout:         0, // No timeout unless configured
			MaxFlowFailures: 3,
			EmptyBranch:     EmptyBranchIgnore,
		},
		OpenAI: OpenAIConfig{
			Model:   "gpt-4o",
			BaseURL: "https://api.openai.com/v1",
		},
		Codex: CodexConfig{
			Command: "codex",
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
			File:   "",
		},
	}
}

// Load loads configuration from file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if no config file
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from the standard locations in a directory.
// Applies in order: defaults -> ~/.flowloom/config.toml -> .flowloom/config.toml
// Later configs override earlier ones (project-level takes precedence).
func LoadFromDir(dir string) (*Config, error) {
	cfg := Default()

	paths := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".flowloom", "config.toml"))
	}
	paths = append(paths, filepath.Join(dir, ".flowloom", "config.toml"))

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration values for consistency.
func (c *Config) Validate() error {
	if c.Defaults.Parallel < 1 {
		return fmt.Errorf("defaults.parallel must be at least 1, got %d", c.Defaults.Parallel)
	}
	if c.Defaults.MaxFlowFailures < 1 {
		return fmt.Errorf("defaults.max_flow_failures must be at least 1, got %d", c.Defaults.MaxFlowFailures)
	}
	switch c.Defaults.EmptyBranch {
	case EmptyBranchIgnore, EmptyBranchFail:
	default:
		return fmt.Errorf("defaults.empty_branch must be %q or %q, got %q",
			EmptyBranchIgnore, EmptyBranchFail, c.Defaults.EmptyBranch)
	}
	return nil
}

// RunsDir returns the absolute runs directory under baseDir.
func (c *Config) RunsDir(baseDir string) string {
	if filepath.IsAbs(c.Paths.RunsDir) {
		return c.Paths.RunsDir
	}
	return filepath.Join(baseDir, c.Paths.RunsDir)
}

// LogFile returns the absolute log file path under baseDir,
// or empty when file logging is disabled.
func (c *Config) LogFile(baseDir string) string {
	if c.Logging.File == "" {
		return ""
	}
	if filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(baseDir, c.Paths.LogsDir, c.Logging.File)
}
