package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/drogcidadeinfo/convenios-2/cmd/reconciler/config"
	"github.com/drogcidadeinfo/convenios-2/internal/reconciler"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// cli carries the state shared by all subcommands of one invocation
type cli struct {
	cfgFile   string
	verbose   bool
	logFormat string

	config *config.Config
	logger logger.Logger
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	app := &cli{}

	root := &cobra.Command{
		Use:   "reconciler",
		Short: "Agreement ledger reconciliation tool",
		Long: `Reconciler compares the store's agreement ledger (TRIER) with the
partner's ledger (CREDCOM, MINERVA, ...) and keeps a reviewed result table
up to date. Reviewer edits to STATUS and Anotações survive every run.

Examples:
  reconciler reconcile credcom --a trier.csv --b credcom.csv
  reconciler reconcile minerva --a trier.csv --b minerva.csv --output sqlite://convenios.db?table=minerva
  reconciler reconcile --all --config convenios.yaml
  reconciler serve --addr :8080
  reconciler migrate up --store sqlite://convenios.db`,
		Version:           getVersionString(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: app.setup,
	}

	root.PersistentFlags().StringVar(&app.cfgFile, "config", "", "config file (default ./convenios.yaml if present)")
	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().StringVar(&app.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newReconcileCmd(app),
		newServeCmd(app),
		newMigrateCmd(app),
		newHistoryCmd(app),
		newProfilesCmd(app),
	)
	return root
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	err := root.ExecuteContext(ctx)

	verbose, _ := root.PersistentFlags().GetBool("verbose")
	return NewCLIErrorHandler(os.Stderr, verbose).HandleError(err)
}

// setup reads the configuration and installs the global logger
func (app *cli) setup(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)
	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if app.cfgFile != "" {
		v.SetConfigFile(app.cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", app.cfgFile, err).
				WithSuggestion("check the path and syntax of the config file")
		}
	} else {
		v.SetConfigName("convenios")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return errors.ConfigurationError(errors.CodeInvalidConfig, "config", "convenios.*", err)
			}
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	app.config = cfg

	logCfg := cfg.Log
	if app.verbose {
		logCfg = *logger.DebugConfig()
	}
	if app.logFormat != "" {
		logCfg.Format = logger.Format(app.logFormat)
	}
	if logCfg.Output != logger.FileOutput {
		logCfg.Writer = cmd.ErrOrStderr()
	}

	log, err := logger.NewLogger(&logCfg)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", app.logFormat, err).
			WithSuggestion("use --log-format text or json")
	}
	logger.SetGlobalLogger(log)
	app.logger = log.WithComponent("cli")

	if used := v.ConfigFileUsed(); used != "" {
		app.logger.WithField("file", used).Debug("Using config file")
	}
	return nil
}

func (app *cli) newService() (*reconciler.ReconciliationService, error) {
	return reconciler.NewReconciliationService(reconciler.DefaultConfig())
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
