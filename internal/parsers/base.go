// Package parsers reads ledger exports and previously written result tables.
//
// Portal exports are inconsistent: headers carry accents, non-breaking spaces
// and trailing blanks, files come with or without a UTF-8 byte order mark and
// use either ',' or ';' as separator. The parsers here absorb those
// variations and hand the rest of the system rows keyed by canonical column
// name. A missing required column is fatal; everything else is per-record
// and left to the normalizer.
package parsers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with delimiter detection enabled
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		ValidateEncoding: true,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("base_parser"),
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	Source     string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, source string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		Source:    source,
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// OpenFile opens a CSV file and returns a configured reader
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return nil, nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	reader, err := bp.NewReader(file, filePath)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, reader, nil
}

// NewReader wraps r in a csv.Reader after stripping a byte order mark and
// detecting the delimiter from the first line.
func (bp *BaseParser) NewReader(r io.Reader, source string) (*csv.Reader, error) {
	br := bufio.NewReader(r)

	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, errors.FileError(errors.CodeFileCorrupted, source, err)
		}
	}

	delimiter := bp.config.Delimiter
	if delimiter == 0 || bp.config.ValidateEncoding {
		firstLine, err := peekLine(br)
		if err != nil {
			return nil, errors.FileError(errors.CodeFileCorrupted, source, err)
		}
		if bp.config.ValidateEncoding && !utf8.Valid(firstLine) {
			return nil, errors.ParseError(errors.CodeEncodingError, source, 1, "headers", "", fmt.Errorf("invalid UTF-8 encoding detected"))
		}
		if delimiter == 0 {
			delimiter = DetectDelimiter(string(firstLine))
		}
	}

	reader := csv.NewReader(br)
	reader.Comma = delimiter
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	bp.logger.WithFields(logger.Fields{
		"source":    source,
		"delimiter": string(delimiter),
	}).Debug("Configured CSV reader")

	return reader, nil
}

// peekLine returns the first line without consuming it
func peekLine(br *bufio.Reader) ([]byte, error) {
	for size := 512; ; size *= 2 {
		buf, err := br.Peek(size)
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			return buf[:i], nil
		}
		if err != nil {
			if err == io.EOF || err == bufio.ErrBufferFull {
				return buf, nil
			}
			return nil, err
		}
	}
}

// DetectDelimiter picks ';' when the header line has more semicolons than
// commas, otherwise ','.
func DetectDelimiter(headerLine string) rune {
	if strings.Count(headerLine, ";") > strings.Count(headerLine, ",") {
		return ';'
	}
	if strings.Count(headerLine, "\t") > strings.Count(headerLine, ",") {
		return '\t'
	}
	return ','
}

// ReadHeaders reads the header row, folds each cell with canonical and
// validates that every required column is present.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, required []string, canonical func(string) string) error {
	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ParseError(errors.CodeMissingColumn, parseCtx.Source, 1, strings.Join(required, ", "), "", fmt.Errorf("file is empty")).
				WithSuggestion("ensure the ledger export contains a header row")
		}
		return errors.ParseError(errors.CodeInvalidFormat, parseCtx.Source, 1, "headers", "", err)
	}

	parseCtx.LineNumber++
	parseCtx.Headers = headers
	parseCtx.HeaderMap = BuildHeaderMap(headers, canonical)

	return CheckRequired(parseCtx.Source, parseCtx.HeaderMap, required)
}

// BuildHeaderMap maps canonical column names to their index. An exact
// canonical header wins over an alias; among aliases the first one wins.
func BuildHeaderMap(headers []string, canonical func(string) string) map[string]int {
	headerMap := make(map[string]int, len(headers))
	exact := make(map[string]bool)

	for i, header := range headers {
		name := canonical(header)
		if name == "" {
			continue
		}
		isExact := name == normalizer.NormalizeColumnName(header)
		if _, seen := headerMap[name]; seen && (exact[name] || !isExact) {
			continue
		}
		headerMap[name] = i
		exact[name] = isExact
	}
	return headerMap
}

// CheckRequired returns a MissingColumn error naming the first absent column
func CheckRequired(source string, headerMap map[string]int, required []string) error {
	for _, col := range required {
		if _, ok := headerMap[col]; ok {
			continue
		}
		found := make([]string, 0, len(headerMap))
		for name := range headerMap {
			found = append(found, name)
		}
		sort.Strings(found)
		return errors.ParseError(errors.CodeMissingColumn, source, 1, col, "", nil).
			WithContext("found_columns", found).
			WithSuggestion(fmt.Sprintf("found columns: %s", strings.Join(found, ", ")))
	}
	return nil
}

// ReadRecord reads the next non-empty record
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.ReconciliationError(errors.CodeCancelled, "csv_parsing", parseCtx.ctx.Err())
		}

		record, err := reader.Read()
		if err != nil {
			return nil, err
		}
		parseCtx.LineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}
		return record, nil
	}
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	Source        string
	TotalLines    int
	RecordsParsed int
	ErrorCount    int
	Errors        []error
}

// NewParseStats creates a new ParseStats instance
func NewParseStats(source string) *ParseStats {
	return &ParseStats{Source: source}
}

// AddError records a row-level read error
func (ps *ParseStats) AddError(err error) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records, %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.ErrorCount)
}
