package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups errors by the part of a run that produced them
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryStore          ErrorCategory = "store"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"

	// Parse errors
	CodeInvalidFormat   ErrorCode = "invalid_format"
	CodeMissingColumn   ErrorCode = "missing_column"
	CodeUnparsableValue ErrorCode = "unparsable_value"
	CodeCorruptTable    ErrorCode = "corrupt_table"
	CodeEncodingError   ErrorCode = "encoding_error"

	// Validation errors
	CodeInvalidAmount   ErrorCode = "invalid_amount"
	CodeInvalidDate     ErrorCode = "invalid_date"
	CodeInvalidDocument ErrorCode = "invalid_document"
	CodeMissingField    ErrorCode = "missing_field"

	// Configuration errors
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeMissingConfig  ErrorCode = "missing_config"
	CodeConfigConflict ErrorCode = "config_conflict"

	// Reconciliation errors
	CodeMatchingFailed   ErrorCode = "matching_failed"
	CodeProcessingError  ErrorCode = "processing_error"
	CodeCancelled        ErrorCode = "cancelled"

	// Store errors
	CodeStoreUnavailable ErrorCode = "store_unavailable"
	CodeStoreWrite       ErrorCode = "store_write"
	CodeMigrationFailed  ErrorCode = "migration_failed"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Detailed appends the cause chain to the message
func (e *ReconcilerError) Detailed() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns the process exit code for the error category
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation, CategoryInternal:
		return 5
	case CategoryStore:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// Is reports whether target carries the same category and code.
func (e *ReconcilerError) Is(target error) bool {
	t, ok := target.(*ReconcilerError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileCorrupted:
		message = fmt.Sprintf("file appears to be corrupted: %s", path)
		suggestion = "export the ledger again from its source portal"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return build(CategoryFile, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// ParseError creates a parsing-related error
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid format in %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "check the data format and ensure it matches the expected structure"
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in %s", column, file)
		suggestion = "verify the ledger export has all required columns with correct headers"
	case CodeUnparsableValue:
		message = fmt.Sprintf("unparsable value in %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "the record was excluded from matching; correct the value in the source ledger"
	case CodeCorruptTable:
		message = fmt.Sprintf("malformed row in persisted table %s at line %d", file, line)
		suggestion = "the row keeps no override; check the previously written table"
	case CodeEncodingError:
		message = fmt.Sprintf("encoding error in %s at line %d", file, line)
		suggestion = "ensure the file is saved in UTF-8 encoding"
	default:
		message = fmt.Sprintf("parse error in %s at line %d", file, line)
		suggestion = "check the file format and data integrity"
	}

	return build(CategoryParse, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "use amounts like 'R$ 1.234,56', '1234.56' or bare cents like '123456'"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use the day-first format DD/MM/YYYY"
	case CodeInvalidDocument:
		message = fmt.Sprintf("invalid document id in field '%s': %v", field, value)
		suggestion = "document ids must have up to 11 digits"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the profile documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting with a flag, a profile file or a RECONCILER_ variable"
	case CodeConfigConflict:
		message = fmt.Sprintf("configuration conflict with setting '%s': %v", setting, value)
		suggestion = "resolve the conflicting settings or use a shipped preset"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ReconciliationError creates a reconciliation-related error
func ReconciliationError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMatchingFailed:
		message = fmt.Sprintf("matching failed during %s", operation)
		suggestion = "check the partition and scoring settings of the profile"
	case CodeProcessingError:
		message = fmt.Sprintf("processing error during %s", operation)
		suggestion = "check system resources and try again"
	case CodeCancelled:
		message = fmt.Sprintf("%s was cancelled", operation)
		suggestion = "rerun the reconciliation; no output was written"
	default:
		message = fmt.Sprintf("reconciliation error during %s", operation)
		suggestion = "review the data and configuration"
	}

	return build(CategoryReconciliation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// StoreError creates an error for the persisted table stores
func StoreError(code ErrorCode, location string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeStoreUnavailable:
		message = fmt.Sprintf("persisted table store unavailable: %s", location)
		suggestion = "check the store URL and that the database is reachable"
	case CodeStoreWrite:
		message = fmt.Sprintf("failed to replace persisted table at %s", location)
		suggestion = "the previous table was left untouched; retry the run"
	case CodeMigrationFailed:
		message = fmt.Sprintf("schema migration failed for %s", location)
		suggestion = "run 'reconciler migrate version' to inspect the schema state"
	default:
		message = fmt.Sprintf("store error: %s", location)
		suggestion = "check the store configuration"
	}

	return build(CategoryStore, code, message, err).
		WithSuggestion(suggestion).
		WithContext("location", location)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeUnexpectedError:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug - please report it with the error details"
	default:
		message = fmt.Sprintf("internal error during %s", operation)
		suggestion = "try again or contact support if the problem persists"
	}

	return build(CategoryInternal, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ReconcilerError    `json:"errors"`
	SampleErrors []*ReconcilerError    `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*ReconcilerError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(categories)

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// IsReconcilerError checks if an error is a ReconcilerError
func IsReconcilerError(err error) bool {
	_, ok := err.(*ReconcilerError)
	return ok
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// HasCode reports whether err carries a ReconcilerError with the given code.
func HasCode(err error, code ErrorCode) bool {
	if re, ok := AsReconcilerError(err); ok {
		return re.Code == code
	}
	return false
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}
