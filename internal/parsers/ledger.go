package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

// LedgerParser turns a ledger export into raw records keyed by canonical
// column name.
type LedgerParser struct {
	*BaseParser
	config  *LedgerConfig
	aliases map[string]string
	logger  logger.Logger
}

// NewLedgerParser creates a new LedgerParser with the given configuration
func NewLedgerParser(config *LedgerConfig) (*LedgerParser, error) {
	if config == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "ledger_config", nil, fmt.Errorf("ledger configuration is required"))
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger_config", config.Name, err)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	log := logger.GetGlobalLogger().WithComponent("ledger_parser").WithField("ledger", config.Name)
	log.WithField("required", config.Required).Debug("Created ledger parser")

	return &LedgerParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		aliases:    config.aliasIndex(),
		logger:     log,
	}, nil
}

// Config returns the parser configuration
func (lp *LedgerParser) Config() *LedgerConfig {
	return lp.config
}

// ParseFile reads a ledger export from disk
func (lp *LedgerParser) ParseFile(ctx context.Context, filePath string) ([]*models.RawRecord, *ParseStats, error) {
	lp.logger.WithField("file_path", filePath).Info("Reading ledger")

	file, reader, err := lp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return lp.parse(ctx, filePath, reader)
}

// Parse reads a ledger export from r; source names it in errors
func (lp *LedgerParser) Parse(ctx context.Context, r io.Reader, source string) ([]*models.RawRecord, *ParseStats, error) {
	reader, err := lp.NewReader(r, source)
	if err != nil {
		return nil, nil, err
	}
	return lp.parse(ctx, source, reader)
}

func (lp *LedgerParser) parse(ctx context.Context, source string, reader *csv.Reader) ([]*models.RawRecord, *ParseStats, error) {
	parseCtx := NewParseContext(ctx, source)
	stats := NewParseStats(source)

	if err := lp.ReadHeaders(reader, parseCtx, lp.config.Required, lp.canonical); err != nil {
		lp.logger.WithError(err).WithFields(logger.Fields{
			"source":  source,
			"headers": parseCtx.Headers,
		}).Error("Required column missing")
		return nil, stats, err
	}

	var records []*models.RawRecord
	for {
		row, err := lp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if errors.HasCode(err, errors.CodeCancelled) {
			return nil, stats, err
		}
		if err != nil {
			parseCtx.LineNumber++
			stats.AddError(errors.ParseError(errors.CodeInvalidFormat, source, parseCtx.LineNumber, "record", "", err))
			continue
		}

		records = append(records, lp.toRawRecord(row, parseCtx))
		stats.RecordsParsed++
	}
	stats.TotalLines = parseCtx.LineNumber

	lp.logger.WithFields(logger.Fields{
		"source":  source,
		"records": stats.RecordsParsed,
		"errors":  stats.ErrorCount,
	}).Info("Ledger read")

	return records, stats, nil
}

func (lp *LedgerParser) canonical(header string) string {
	name := normalizer.NormalizeColumnName(header)
	if c, ok := lp.aliases[name]; ok {
		return c
	}
	return name
}

func (lp *LedgerParser) toRawRecord(row []string, parseCtx *ParseContext) *models.RawRecord {
	cells := make(map[string]string, len(parseCtx.HeaderMap))
	for name, idx := range parseCtx.HeaderMap {
		if idx < len(row) {
			cells[name] = row[idx]
		} else {
			cells[name] = ""
		}
	}
	return &models.RawRecord{
		Side:   lp.config.Side,
		Source: parseCtx.Source,
		Line:   parseCtx.LineNumber,
		Cells:  cells,
	}
}

// ParseRows builds raw records from already-tabular rows, such as a JSON
// payload. Keys are folded like CSV headers and numbers stay typed.
func (lp *LedgerParser) ParseRows(source string, rows []map[string]interface{}) ([]*models.RawRecord, error) {
	present := make(map[string]int)
	records := make([]*models.RawRecord, 0, len(rows))

	for i, row := range rows {
		rec := &models.RawRecord{
			Side:   lp.config.Side,
			Source: source,
			Line:   i + 1,
			Cells:  make(map[string]string, len(row)),
			Values: make(map[string]interface{}, len(row)),
		}
		keys := make([]string, 0, len(row))
		for key := range row {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for name, key := range rowColumns(keys, lp.canonical) {
			present[name] = i
			if s, ok := row[key].(string); ok {
				rec.Cells[name] = s
			} else {
				rec.Values[name] = row[key]
			}
		}
		records = append(records, rec)
	}

	if len(rows) > 0 {
		if err := CheckRequired(source, present, lp.config.Required); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// rowColumns maps canonical column names to the key that feeds them, with
// the same precedence as BuildHeaderMap. keys must be sorted.
func rowColumns(keys []string, canonical func(string) string) map[string]string {
	columns := make(map[string]string, len(keys))
	for name, idx := range BuildHeaderMap(keys, canonical) {
		columns[name] = keys[idx]
	}
	return columns
}
