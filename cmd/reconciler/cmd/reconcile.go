package cmd

import (
	"fmt"
	"io"

	"github.com/drogcidadeinfo/convenios-2/cmd/reconciler/config"
	"github.com/drogcidadeinfo/convenios-2/internal/reconciler"
	"github.com/drogcidadeinfo/convenios-2/internal/reporter"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type reconcileOptions struct {
	all        bool
	fileA      string
	fileB      string
	output     string
	dryRun     bool
	format     string
	reportFile string
	noColor    bool
	workers    int
}

func newReconcileCmd(app *cli) *cobra.Command {
	opts := &reconcileOptions{}

	cmd := &cobra.Command{
		Use:   "reconcile [profile]",
		Short: "Reconcile two ledgers into the result table",
		Long: `Reconcile reads ledger A and ledger B of a profile, matches them and
replaces the stored result table. Reviewer edits made to the previous table
(STATUS and Anotações) are carried over to the new one.

Examples:
  # branch+date profile with explicit files
  reconciler reconcile credcom --a trier.csv --b credcom.csv

  # document profile written to sqlite, JSON report to a file
  reconciler reconcile minerva --a trier.csv --b minerva.csv \
    --output "sqlite://convenios.db?table=minerva" --format json --report-file minerva.json

  # preview without touching the stored table
  reconciler reconcile credcom --a trier.csv --b credcom.csv --dry-run

  # every job listed in the config file
  reconciler reconcile --all --config convenios.yaml`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate(args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.all {
				return app.runAll(cmd, opts)
			}
			return app.runOne(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.all, "all", false, "run every job of the config file")
	cmd.Flags().StringVar(&opts.fileA, "a", "", "ledger A file (overrides the profile)")
	cmd.Flags().StringVar(&opts.fileB, "b", "", "ledger B file (overrides the profile)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "result table store: path, csv://, sqlite:// or mysql:// URL")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "reconcile without writing the result table")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "console", "report format: console, json, csv")
	cmd.Flags().StringVar(&opts.reportFile, "report-file", "", "write the report to a file instead of stdout")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable coloured console output")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "partitions matched concurrently (overrides the profile)")

	return cmd
}

func (o *reconcileOptions) validate(args []string) error {
	if o.all {
		if len(args) > 0 || o.fileA != "" || o.fileB != "" || o.output != "" || o.reportFile != "" {
			return errors.ConfigurationError(errors.CodeConfigConflict, "all", args, nil).
				WithSuggestion("--all takes files and outputs from the config file; drop the profile and file flags")
		}
		return nil
	}
	if len(args) == 0 {
		return errors.ValidationError(errors.CodeMissingField, "profile", "", nil).
			WithSuggestion("name a profile, e.g. 'reconciler reconcile credcom', or use --all")
	}
	if o.workers < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "workers", o.workers, nil)
	}
	return nil
}

// request resolves the profile and applies the command line overrides
func (o *reconcileOptions) request(cfg *config.Config, profile string) (*reconciler.ReconciliationRequest, error) {
	p, err := cfg.Profile(profile)
	if err != nil {
		return nil, err
	}
	req, err := p.Request()
	if err != nil {
		return nil, err
	}

	if o.fileA != "" {
		req.A.Path = o.fileA
	}
	if o.fileB != "" {
		req.B.Path = o.fileB
	}
	if o.output != "" {
		req.Output = o.output
	}
	if o.workers > 0 {
		req.Matching.Workers = o.workers
	}
	req.DryRun = o.dryRun

	if req.A.Path == "" || req.B.Path == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "files", profile, nil).
			WithSuggestion("pass --a and --b or set files.a and files.b for the profile")
	}
	return req, nil
}

func (app *cli) runOne(cmd *cobra.Command, profile string, opts *reconcileOptions) error {
	req, err := opts.request(app.config, profile)
	if err != nil {
		return err
	}
	service, err := app.newService()
	if err != nil {
		return err
	}

	app.logger.WithFields(logger.Fields{
		"profile": profile,
		"a":       req.A.Path,
		"b":       req.B.Path,
		"output":  req.Output,
		"dry_run": req.DryRun,
	}).Debug("Starting reconciliation")

	result, err := service.ProcessReconciliation(cmd.Context(), req)
	if err != nil {
		return err
	}
	return app.report(cmd, opts, result)
}

func (app *cli) runAll(cmd *cobra.Command, opts *reconcileOptions) error {
	var jobs []reconciler.ReconciliationJob
	for _, name := range app.config.JobNames() {
		req, err := opts.request(app.config, name)
		if err != nil {
			return err
		}
		jobs = append(jobs, reconciler.ReconciliationJob{Name: name, Request: req})
	}

	service, err := app.newService()
	if err != nil {
		return err
	}
	orchestrator, err := reconciler.NewReconciliationOrchestrator(service)
	if err != nil {
		return err
	}
	if app.verbose {
		orchestrator.AddProgressCallback(func(p *reconciler.BatchProgress) {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s (%.0f%% complete, %d failed)\n",
				p.CompletedJobs, p.TotalJobs, p.CurrentJob, p.PercentComplete, p.FailedJobs)
		})
	}

	results, err := orchestrator.RunAll(cmd.Context(), jobs)
	if err != nil {
		return err
	}

	var failures []*errors.ReconcilerError
	for _, jr := range results {
		if jr.Err != nil {
			failures = append(failures, errors.WrapIfNeeded(jr.Err, errors.CategoryReconciliation,
				errors.CodeProcessingError, "job "+jr.Name+" failed"))
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", jr.Name, jr.Err)
			continue
		}
		if err := app.report(cmd, opts, jr.Result); err != nil {
			return err
		}
	}
	if len(failures) > 0 {
		return errors.NewErrorSummary(failures)
	}
	return nil
}

func (app *cli) report(cmd *cobra.Command, opts *reconcileOptions, result *reconciler.ReconciliationResult) error {
	colors := !opts.noColor && opts.reportFile == "" && isTerminal(cmd.OutOrStdout())
	reportCfg, err := config.CreateReportConfig(opts.format, colors)
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportCfg, app.logger)
	if err != nil {
		return err
	}

	if opts.reportFile != "" {
		written, err := generator.WriteReportFile(result, opts.reportFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", written)
		return nil
	}
	return generator.GenerateReportSafely(result, cmd.OutOrStdout())
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}
