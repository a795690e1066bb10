package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

// CLIErrorHandler turns command errors into messages and exit codes
type CLIErrorHandler struct {
	out     io.Writer
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler(out io.Writer, verbose bool) *CLIErrorHandler {
	return &CLIErrorHandler{
		out:     out,
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: verbose,
	}
}

// HandleError prints err and returns the exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}
	h.logger.WithError(err).Debug("Command failed")

	if summary, ok := err.(*errors.ErrorSummary); ok {
		return h.handleSummary(summary)
	}
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	message := err.Message
	if h.verbose {
		message = err.Detailed()
	}
	fmt.Fprintf(h.out, "Error: %s\n", message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}
	if help := getCategoryHelp(err.Category); help != "" {
		fmt.Fprintf(h.out, "\n%s\n", help)
	}
	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleSummary(summary *errors.ErrorSummary) int {
	fmt.Fprintf(h.out, "Error: %s\n", summary.Error())
	for _, err := range summary.SampleErrors {
		fmt.Fprintf(h.out, "  - %s\n", err.Error())
	}
	if len(summary.Errors) > len(summary.SampleErrors) {
		fmt.Fprintf(h.out, "  ... and %d more\n", len(summary.Errors)-len(summary.SampleErrors))
	}
	for _, category := range summaryHelpOrder {
		if summary.HasCategory(category) {
			fmt.Fprintf(h.out, "\n%s\n", getCategoryHelp(category))
		}
	}
	return summary.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: %v\n", err)
		fmt.Fprintf(h.out, "Suggestion: Check that the ledger path is correct and the file exists\n")
		return 2
	case isPermissionError(err):
		fmt.Fprintf(h.out, "Error: %v\n", err)
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	// cobra flag and argument errors end up here
	fmt.Fprintf(h.out, "Error: %v\n", err)
	fmt.Fprintf(h.out, "Run 'reconciler --help' for usage.\n")
	return 1
}

// summaryHelpOrder lists the categories whose help follows a batch summary
var summaryHelpOrder = []errors.ErrorCategory{
	errors.CategoryFile,
	errors.CategoryParse,
	errors.CategoryConfiguration,
	errors.CategoryStore,
}

func getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check that the ledger export exists and is readable
• Use an absolute path when running from another directory`

	case errors.CategoryParse:
		return `Parse error help:
• Each ledger needs its header row; branch+date profiles read Filial, Cliente,
  Data Emissão, Parcela and Valor, document profiles read Cliente, CPF and Valor
• Extra header spellings can be mapped under columns.a / columns.b of the profile
• Delimiters ';' and ',' are detected from the header line`

	case errors.CategoryValidation, errors.CategoryConfiguration:
		return `Configuration help:
• 'reconciler profiles' lists the available profiles
• 'reconciler reconcile --help' shows every flag`

	case errors.CategoryStore:
		return `Store help:
• Run 'reconciler migrate up --store <url>' before the first SQL run
• The previous table is untouched when a write fails`

	default:
		return ""
	}
}

func isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return os.IsPermission(err) || strings.Contains(err.Error(), "permission denied")
}
