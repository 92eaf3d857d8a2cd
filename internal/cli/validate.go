package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	Templates int    `json:"templates,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <pipeline-dir>",
		Short: "Validate a pipeline definition without running it",
		Long: `Validate CUE task templates without executing anything.

Checks schema conformance, channel wiring, cardinality of connections,
and cycle freedom. Faster than a dry run for development feedback.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	p, err := pipeline.Load(dir)
	if err != nil {
		if ferr := formatter.Error(string(pipeline.KindConfiguration), err.Error(), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	if opts.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Templates: len(p.Templates)})
	}
	return formatter.Success(fmt.Sprintf("Valid: %d task template(s)", len(p.Templates)))
}
