package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	verbose bool
	workDir string
)

var rootCmd = &cobra.Command{
	Use:   "flowloom",
	Short: "flowloom - combinatorial multi-step pipeline runner",
	Long: `flowloom runs a declarative pipeline of model and shell steps over every
combination of its input files.

Each --key flag names a list file whose lines point at input files. The
cross product of all keys seeds one flow per combination; flows run the
pipeline's steps in order, each step seeing the previous step's output.
Steps marked array fan a flow out into one child per element of their
JSON-array output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", "", "working directory (default: current)")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("flowloom {{.Version}}\n")
}

// getWorkDir returns the effective working directory.
func getWorkDir() (string, error) {
	if workDir != "" {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return "", fmt.Errorf("resolving workdir: %w", err)
		}
		return abs, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return dir, nil
}
