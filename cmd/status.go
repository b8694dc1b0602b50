package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/placecrawler/internal/orchestrator"
)

// newStatusCmd creates the 'status' subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show progress of stored checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := orchestrator.Statuses(cmd.Context(), a.Store)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No checkpoints stored.")
				return nil
			}
			renderStatuses(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}
