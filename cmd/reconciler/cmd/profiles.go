package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProfilesCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the configured reconciliation profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, name := range app.config.ProfileNames() {
				p := app.config.Profiles[name]
				fmt.Fprintf(out, "%-10s %s × %s  partition=%s scoring=%s tolerance=%s output=%s\n",
					name, p.Labels.A, p.Labels.B, p.Partition, p.Scoring, p.Tolerance, p.Output)
			}
			return nil
		},
	}
}
