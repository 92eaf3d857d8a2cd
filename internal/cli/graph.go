package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seqpipe/seqpipe/internal/trace"
)

// GraphOptions holds flags for the graph command.
type GraphOptions struct {
	*RootOptions
	Params string
	Out    string
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph <pipeline-dir>",
		Short: "Render the concrete task graph as DOT",
		Long: `Build the concrete task graph for the configured sample set and
emit it in Graphviz DOT format, without executing anything.

Example:
  seqpipe graph --params run.yaml ./pipeline | dot -Tsvg > dag.svg`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Params, "params", "", "path to run parameters YAML")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write DOT to file instead of stdout")

	return cmd
}

func runGraph(opts *GraphOptions, dir string, cmd *cobra.Command) error {
	d, _, err := buildDAG(opts.Params, dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "building task graph", err)
	}

	dot := trace.RenderDOT(d)
	if opts.Out != "" {
		if err := os.WriteFile(opts.Out, []byte(dot), 0o644); err != nil {
			return WrapExitError(ExitCommandError, "writing DOT file", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d instances)\n", opts.Out, len(d.Instances))
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), dot)
	return nil
}
