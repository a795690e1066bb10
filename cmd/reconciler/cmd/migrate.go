package cmd

import (
	"fmt"

	"github.com/drogcidadeinfo/convenios-2/internal/store"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
	"github.com/spf13/cobra"
)

func newMigrateCmd(app *cli) *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Apply the result table schema to a SQL store",
		Long:      "Migrate manages the schema of sqlite:// and mysql:// stores. CSV stores need no migration.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if location == "" {
				location = app.config.History
			}
			loc, err := sqlLocation(location)
			if err != nil {
				return err
			}

			var status store.MigrationStatus
			switch args[0] {
			case "up", "down", "version":
			default:
				return errors.ValidationError(errors.CodeInvalidFormat, "migrate", args[0], nil).
					WithSuggestion("use up, down or version")
			}

			log := app.logger.WithField("store", loc.Redacted())
			err = logger.TimedOperation("migrate "+args[0], log, func() error {
				var err error
				if args[0] == "version" {
					status, err = store.MigrationVersion(loc)
				} else {
					status, err = store.Migrate(loc, store.MigrationDirection(args[0]))
				}
				return err
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", loc.Redacted(), status)
			return nil
		},
	}

	cmd.Flags().StringVar(&location, "store", "", "sqlite:// or mysql:// URL (default: history from config)")
	return cmd
}

// sqlLocation parses raw and rejects stores without a schema
func sqlLocation(raw string) (*store.Location, error) {
	if raw == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", "", nil).
			WithSuggestion("pass --store or set history in the config file")
	}
	loc, err := store.ParseLocation(raw)
	if err != nil {
		return nil, err
	}
	if !loc.IsSQL() {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "store", loc.Redacted(),
			fmt.Errorf("%s stores have no schema", loc.Scheme)).
			WithSuggestion("use a sqlite:// or mysql:// URL")
	}
	return loc, nil
}
