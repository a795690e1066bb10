package reconciler

import (
	"fmt"
	"strings"

	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
	"github.com/drogcidadeinfo/convenios-2/internal/parsers"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

// Exclusion reasons
const (
	ReasonInvalidAmount   = "invalid_amount"
	ReasonInvalidDate     = "invalid_date"
	ReasonInvalidDocument = "invalid_document"
	ReasonMissingBranch   = "missing_branch"
)

// ExclusionStats counts the records of one ledger dropped before matching
type ExclusionStats struct {
	Side     models.Side    `json:"side"`
	Total    int            `json:"total"`
	Kept     int            `json:"kept"`
	Excluded int            `json:"excluded"`
	ByReason map[string]int `json:"by_reason,omitempty"`
	Samples  []string       `json:"samples,omitempty"`
}

// String returns a one-line description for logs
func (s *ExclusionStats) String() string {
	return fmt.Sprintf("%s: kept %d of %d (excluded %d)", s.Side, s.Kept, s.Total, s.Excluded)
}

// DataPreprocessor turns raw ledger rows into normalized records
type DataPreprocessor struct {
	mode         models.PartitionMode
	installments normalizer.InstallmentStyle
	maxSamples   int
	logger       logger.Logger
}

// NewDataPreprocessor creates a preprocessor for one ledger
func NewDataPreprocessor(mode models.PartitionMode, installments normalizer.InstallmentStyle, maxSamples int) *DataPreprocessor {
	return &DataPreprocessor{
		mode:         mode,
		installments: installments,
		maxSamples:   maxSamples,
		logger:       logger.GetGlobalLogger().WithComponent("preprocessor"),
	}
}

// Normalize converts raw rows. Rows with an unparsable amount, date or
// document id, or without the branch a branch+date run needs, are left
// out and counted.
func (dp *DataPreprocessor) Normalize(side models.Side, raw []*models.RawRecord) ([]*models.NormalizedRecord, *ExclusionStats) {
	collector := errors.NewRecordErrorCollector(dp.maxSamples)
	records := make([]*models.NormalizedRecord, 0, len(raw))

	for _, r := range raw {
		rec, recErr := dp.normalize(r)
		if recErr != nil {
			collector.Add(recErr)
			continue
		}
		rec.Side = side
		rec.Index = len(records)
		records = append(records, rec)
	}

	stats := &ExclusionStats{
		Side:     side,
		Total:    len(raw),
		Kept:     len(records),
		Excluded: collector.Total(),
		ByReason: collector.Counts(),
	}
	for _, s := range collector.Samples() {
		stats.Samples = append(stats.Samples, s.Error())
	}

	if stats.Excluded > 0 {
		dp.logger.WithFields(logger.Fields{
			"side":     side,
			"excluded": stats.Excluded,
			"reasons":  collector.String(),
		}).Warn("Records excluded from matching")
	}
	return records, stats
}

func (dp *DataPreprocessor) normalize(r *models.RawRecord) (*models.NormalizedRecord, *errors.RecordError) {
	name := strings.TrimSpace(cell(r, parsers.ColumnClient))
	rec := &models.NormalizedRecord{
		Source:     r.Source,
		Line:       r.Line,
		ClientName: name,
		NameTokens: normalizer.NameTokens(name),
	}

	amountValue, _ := r.Get(parsers.ColumnAmount)
	amount := normalizer.ParseAmountValue(amountValue)
	if !amount.Valid {
		return nil, exclusion(r, ReasonInvalidAmount, parsers.ColumnAmount)
	}
	rec.Amount = amount.Decimal

	if v, ok := r.Get(parsers.ColumnBranch); ok {
		if branch, ok := normalizer.ParseBranch(v); ok {
			rec.Branch = &branch
		}
	}

	switch dp.mode {
	case models.PartitionDocument:
		doc, ok := normalizer.NormalizeDocumentID(cell(r, parsers.ColumnDocument))
		if !ok {
			return nil, exclusion(r, ReasonInvalidDocument, parsers.ColumnDocument)
		}
		rec.DocumentID = doc

	case models.PartitionBranchDate:
		if rec.Branch == nil {
			return nil, exclusion(r, ReasonMissingBranch, parsers.ColumnBranch)
		}
		dateValue, _ := r.Get(parsers.ColumnDate)
		date, ok := normalizer.ParseDateValue(dateValue)
		if !ok {
			return nil, exclusion(r, ReasonInvalidDate, parsers.ColumnDate)
		}
		rec.Date = date
	}

	if dp.installments != normalizer.StyleNone {
		if inst, ok := normalizer.ParseInstallment(cell(r, parsers.ColumnInstallment), dp.installments); ok {
			rec.Installment = &inst
		}
	}

	return rec, nil
}

// cell renders a typed or text cell without scientific notation
func cell(r *models.RawRecord, column string) string {
	v, ok := r.Get(column)
	if !ok {
		return ""
	}
	return normalizer.CellText(v)
}

func exclusion(r *models.RawRecord, reason, column string) *errors.RecordError {
	return errors.NewRecordError(reason, &errors.RecordLocation{
		Source: r.Source,
		Line:   r.Line,
		Column: column,
		Value:  cell(r, column),
	})
}
