package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/drogcidadeinfo/convenios-2/internal/reconciler"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and fallbacks. A
// JSON or CSV failure is retried as a console report, and a report file
// that cannot be created is written to the system temp dir instead.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report", config, err).
			WithSuggestion("use one of the formats console, json or csv")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely generates a report, falling back to the console format
func (srg *SafeReportGenerator) GenerateReportSafely(result *reconciler.ReconciliationResult, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Debug("Starting report generation")

	if err := srg.validateInputs(result, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	err := srg.GenerateReport(result, writer)
	if err == nil {
		return nil
	}
	srg.logger.WithError(err).Warn("Primary report generation failed")

	if srg.config.Format == FormatConsole || isOutputError(err) {
		return srg.wrapGenerationError(err)
	}
	return srg.generateWithFormatFallback(result, writer, err)
}

// WriteReportFile writes the report to path, creating parent directories
func (srg *SafeReportGenerator) WriteReportFile(result *reconciler.ReconciliationResult, path string) (string, error) {
	file, err := createReportFile(path)
	if err != nil {
		backup := backupPath(path)
		srg.logger.WithError(err).WithFields(logger.Fields{
			"original_file": path,
			"backup_file":   backup,
		}).Warn("Cannot create report file, using backup location")

		file, err = createReportFile(backup)
		if err != nil {
			return "", errors.FileError(errors.CodeFilePermission, path, err)
		}
		path = backup
	}
	defer file.Close()

	if err := srg.GenerateReportSafely(result, file); err != nil {
		return path, err
	}
	if err := file.Sync(); err != nil {
		return path, errors.FileError(errors.CodeFileCorrupted, path, err)
	}

	srg.logger.WithField("file", path).Info("Report written")
	return path, nil
}

func (srg *SafeReportGenerator) validateInputs(result *reconciler.ReconciliationResult, writer io.Writer) error {
	if result == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil).
			WithSuggestion("Provide a valid reconciliation result")
	}
	if result.Summary == nil {
		return errors.ValidationError(errors.CodeMissingField, "summary", nil, nil).
			WithSuggestion("Ensure the reconciliation result includes a summary")
	}
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}
	return nil
}

func (srg *SafeReportGenerator) generateWithFormatFallback(result *reconciler.ReconciliationResult, writer io.Writer, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallbackConfig.UseColors = false

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallback, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: %s report failed (%v); console report follows\n\n", srg.config.Format, originalErr)
	if err := fallback.GenerateReport(result, writer); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err))
	}
	return nil
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(errors.CodeProcessingError, "report_generation", err).
		WithSuggestion("Check the output destination and report format settings")
}

func createReportFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// backupPath places name_backup.ext in the system temp dir
func backupPath(originalPath string) string {
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return "file:" + w.Name()
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}

// isOutputError reports failures of the destination rather than the format
func isOutputError(err error) bool {
	if os.IsPermission(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "file already closed")
}
