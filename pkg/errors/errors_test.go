package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
	}{
		{
			name:       "file error",
			category:   CategoryFile,
			code:       CodeFileNotFound,
			message:    "file not found",
			cause:      errors.New("no such file"),
			expectCode: 2,
		},
		{
			name:       "parse error",
			category:   CategoryParse,
			code:       CodeMissingColumn,
			message:    "missing column",
			expectCode: 3,
		},
		{
			name:       "configuration error",
			category:   CategoryConfiguration,
			code:       CodeInvalidConfig,
			message:    "invalid config",
			cause:      errors.New("unknown scoring"),
			expectCode: 4,
		},
		{
			name:       "store error",
			category:   CategoryStore,
			code:       CodeStoreWrite,
			message:    "replace failed",
			cause:      errors.New("database is locked"),
			expectCode: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.Error() != tt.message {
				t.Errorf("expected error string %s, got %s", tt.message, err.Error())
			}
			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, CategoryFile, CodeFileNotFound, "x"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := WrapIfNeeded(nil, CategoryFile, CodeFileNotFound, "x"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestMissingColumnError(t *testing.T) {
	err := ParseError(CodeMissingColumn, "dados_trier.csv", 1, "data emissao", "", nil)

	if !strings.Contains(err.Message, "data emissao") {
		t.Errorf("expected message to name the column, got %q", err.Message)
	}
	if err.Context["column"] != "data emissao" {
		t.Errorf("expected column context, got %v", err.Context["column"])
	}
	if err.GetExitCode() != 3 {
		t.Errorf("expected exit code 3, got %d", err.GetExitCode())
	}

	wrapped := Wrap(err, CategoryReconciliation, CodeProcessingError, "run failed")
	if !HasCode(wrapped, CodeProcessingError) {
		t.Error("expected outer code to be found")
	}
	inner, ok := AsReconcilerError(wrapped.Cause)
	if !ok || inner.Code != CodeMissingColumn {
		t.Errorf("expected missing column cause, got %v", wrapped.Cause)
	}
}

func TestIsMatchesCategoryAndCode(t *testing.T) {
	err := StoreError(CodeStoreWrite, "sqlite://x.db", errors.New("disk I/O error"))
	target := New(CategoryStore, CodeStoreWrite, "")

	if !errors.Is(err, target) {
		t.Error("expected errors.Is to match on category and code")
	}
	if errors.Is(err, New(CategoryStore, CodeMigrationFailed, "")) {
		t.Error("expected different code not to match")
	}
}

func TestWrapIfNeededKeepsReconcilerError(t *testing.T) {
	original := ValidationError(CodeInvalidDate, "data emissao", "31/02/2024", nil)
	got := WrapIfNeeded(original, CategoryInternal, CodeUnexpectedError, "ignored")
	if got != original {
		t.Error("expected the original error to be returned unchanged")
	}
}

func TestErrorSummary(t *testing.T) {
	errs := []*ReconcilerError{
		New(CategoryFile, CodeFileNotFound, "error 1"),
		New(CategoryParse, CodeMissingColumn, "error 2"),
		New(CategoryParse, CodeUnparsableValue, "error 3"),
		New(CategoryStore, CodeStoreWrite, "error 4"),
	}

	summary := NewErrorSummary(errs)

	if summary.Total != 4 {
		t.Errorf("expected total 4, got %d", summary.Total)
	}
	if summary.ByCategory[CategoryParse] != 2 {
		t.Errorf("expected 2 parse errors, got %d", summary.ByCategory[CategoryParse])
	}
	if !summary.HasCode(CodeMissingColumn) {
		t.Error("expected missing column code")
	}
	if summary.HasCategory(CategoryConfiguration) {
		t.Error("expected no configuration errors")
	}
	if summary.GetExitCode() != 6 {
		t.Errorf("expected highest exit code 6, got %d", summary.GetExitCode())
	}
	if !strings.HasPrefix(summary.Error(), "4 errors occurred") {
		t.Errorf("unexpected summary string %q", summary.Error())
	}
}

func TestEmptyErrorSummary(t *testing.T) {
	summary := NewErrorSummary(nil)

	if summary.Total != 0 {
		t.Errorf("expected total 0, got %d", summary.Total)
	}
	if summary.Error() != "no errors" {
		t.Errorf("expected 'no errors', got '%s'", summary.Error())
	}
	if summary.GetExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", summary.GetExitCode())
	}
}

func TestRecordErrorCollector(t *testing.T) {
	c := NewRecordErrorCollector(2)
	c.Add(NewRecordError("invalid_amount", &RecordLocation{Source: "/tmp/a.csv", Line: 3, Column: "valor", Value: "abc"}))
	c.Add(NewRecordError("invalid_amount", &RecordLocation{Source: "/tmp/a.csv", Line: 4, Column: "valor", Value: ""}))
	c.Add(NewRecordError("invalid_date", &RecordLocation{Source: "/tmp/a.csv", Line: 5, Column: "data emissao", Value: "x"}))
	c.Add(nil)

	if c.Total() != 3 {
		t.Errorf("expected 3 excluded records, got %d", c.Total())
	}
	if got := c.Counts()["invalid_amount"]; got != 2 {
		t.Errorf("expected 2 invalid amounts, got %d", got)
	}
	if len(c.Samples()) != 2 {
		t.Errorf("expected samples capped at 2, got %d", len(c.Samples()))
	}
	if c.String() != "invalid_amount=2, invalid_date=1" {
		t.Errorf("unexpected counters %q", c.String())
	}

	first := c.Samples()[0]
	if !strings.Contains(first.Error(), "a.csv:3") {
		t.Errorf("expected location in message, got %q", first.Error())
	}
	if first.Code != CodeUnparsableValue {
		t.Errorf("expected unparsable value code, got %s", first.Code)
	}
}
