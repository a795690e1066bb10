package parsers

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
)

// TableReader reads a previously written result table as raw rows. Header
// detection and padding are left to the merge step.
type TableReader struct {
	*BaseParser
}

// NewTableReader creates a reader for persisted result tables
func NewTableReader() *TableReader {
	config := DefaultParseConfig()
	config.ValidateEncoding = false
	return &TableReader{BaseParser: NewBaseParser(config)}
}

// Read returns every non-empty row of r
func (tr *TableReader) Read(ctx context.Context, r io.Reader, source string) ([][]string, error) {
	reader, err := tr.NewReader(r, source)
	if err != nil {
		return nil, err
	}

	parseCtx := NewParseContext(ctx, source)
	var rows [][]string
	for {
		row, err := tr.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			if errors.IsReconcilerError(err) {
				return nil, err
			}
			return nil, errors.ParseError(errors.CodeCorruptTable, source, parseCtx.LineNumber+1, "", "", err)
		}
		rows = append(rows, row)
	}
}

// WriteTable writes rows as comma separated values
func WriteTable(w io.Writer, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.WriteAll(rows); err != nil {
		return errors.Wrap(err, errors.CategoryFile, errors.CodeFileCorrupted, "failed to write table")
	}
	return nil
}
