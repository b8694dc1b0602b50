package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newExportCmd creates the 'export' subcommand.
func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export results held in stored checkpoints",
		Long: `Merges the results of every stored checkpoint, finished or not, into
one timestamped export without crawling. Checkpoints are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			paths, err := a.Runner.ExportAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("export checkpoints: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(paths) == 0 {
				fmt.Fprintln(out, "No checkpointed results to export.")
				return nil
			}
			for _, p := range paths {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}
}
