package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowloom/flowloom/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate <pipeline>",
	Short: "Validate a pipeline file without running it",
	Long: `Parse and validate a pipeline file, reporting its step sequence.

Checks the same rules the run command enforces: every step is exactly one
of codex, openai or shell; model steps carry a prompt or a prompt file but
not both; timeouts parse as durations.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	pipe, err := pipeline.Load(args[0])
	if err != nil {
		return err
	}
	if err := pipe.Validate(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d steps\n", args[0], len(pipe.Steps))
	for i, step := range pipe.Steps {
		suffix := ""
		if step.Array {
			suffix = " [array]"
		}
		fmt.Fprintf(out, "  %d. %s (%s)%s\n", i+1, step.DisplayName(), step.Kind(), suffix)
	}
	return nil
}
