package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/drogcidadeinfo/convenios-2/internal/store"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/spf13/cobra"
)

func newHistoryCmd(app *cli) *cobra.Command {
	var location string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded reconciliation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if location == "" {
				location = app.config.History
			}
			if location == "" {
				return errors.ValidationError(errors.CodeMissingField, "store", "", nil).
					WithSuggestion("pass --store or set history in the config file")
			}
			if limit < 1 {
				return errors.ValidationError(errors.CodeInvalidFormat, "limit", limit, nil)
			}

			runs, err := store.History(cmd.Context(), location, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), historyTable(runs))
			return nil
		},
	}

	cmd.Flags().StringVar(&location, "store", "", "sqlite:// or mysql:// URL (default: history from config)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}

func historyTable(runs []*store.RunRecord) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STARTED", "PROFILE", "TABLE", "ROWS", "OK", "DIVERGENT", "ONLY A", "ONLY B", "EXCLUDED", "OUTCOME")

	for _, r := range runs {
		outcome := r.Outcome
		if r.Error != "" {
			outcome += ": " + r.Error
		}
		t.Row(
			r.StartedAt.Local().Format("02/01/2006 15:04"),
			r.Profile,
			r.Table,
			strconv.Itoa(r.Rows),
			strconv.Itoa(r.OK),
			strconv.Itoa(r.Divergent),
			strconv.Itoa(r.OnlyA),
			strconv.Itoa(r.OnlyB),
			strconv.Itoa(r.Excluded),
			outcome,
		)
	}
	return t.String()
}
