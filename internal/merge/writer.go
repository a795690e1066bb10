package merge

import (
	"sort"

	"github.com/drogcidadeinfo/convenios-2/internal/matcher"
	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

// missingBranchOrder sorts rows without a branch after every real branch
const missingBranchOrder = 9999

// Table is the final row set with its header
type Table struct {
	Header []string
	Rows   []*models.OutputRow
	Stats  *OverrideStats
}

// Values renders the header and rows as cells ready for a bulk write
func (t *Table) Values() [][]string {
	values := make([][]string, 0, len(t.Rows)+1)
	values = append(values, t.Header)
	for _, row := range t.Rows {
		values = append(values, row.Values())
	}
	return values
}

// Counts tallies rows by computed status
func (t *Table) Counts() map[models.Status]int {
	counts := make(map[models.Status]int)
	for _, row := range t.Rows {
		counts[row.Computed]++
	}
	return counts
}

// Writer builds output tables for one partition mode
type Writer struct {
	layout     Layout
	classifier *matcher.Classifier
	logger     logger.Logger
}

// NewWriter creates a writer; labels come from the classifier
func NewWriter(mode models.PartitionMode, classifier *matcher.Classifier) *Writer {
	return &Writer{
		layout:     Layout{Mode: mode, Labels: classifier.Labels()},
		classifier: classifier,
		logger:     logger.GetGlobalLogger().WithComponent("merge"),
	}
}

// Layout returns the table layout the writer produces
func (w *Writer) Layout() Layout {
	return w.layout
}

// Build classifies results, reapplies the overrides found in prior, sorts
// and prepends the header. prior may be nil on a first run.
func (w *Writer) Build(results []*matcher.MatchResult, prior [][]string) *Table {
	rows := w.Rows(results)

	overrides, stats := LoadOverrides(prior, w.layout)
	if stats.Malformed > 0 {
		w.logger.WithField("stats", stats.String()).Warn("Prior table has malformed rows")
	}
	rows = ApplyOverrides(rows, overrides, w.layout.Labels)
	SortRows(rows, w.layout)

	w.logger.WithFields(logger.Fields{
		"rows":      len(rows),
		"overrides": len(overrides),
	}).Debug("Built result table")

	return &Table{
		Header: models.Header(w.layout.Labels, w.layout.Mode),
		Rows:   rows,
		Stats:  stats,
	}
}

// Rows converts results to output rows with computed statuses
func (w *Writer) Rows(results []*matcher.MatchResult) []*models.OutputRow {
	rows := make([]*models.OutputRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, w.row(r))
	}
	return rows
}

func (w *Writer) row(r *matcher.MatchResult) *models.OutputRow {
	status := w.classifier.Classify(r)
	row := &models.OutputRow{
		NameA:    "-",
		AmountA:  normalizer.FormatAmount(r.AmountA),
		NameB:    "-",
		AmountB:  normalizer.FormatAmount(r.AmountB),
		Computed: status,
		Status:   status.Display(w.layout.Labels),
	}
	if r.A != nil {
		row.NameA = r.A.DisplayName()
	}
	if r.B != nil {
		row.NameB = r.B.DisplayName()
	}

	key := r.PartitionKey
	switch w.layout.Mode {
	case models.PartitionBranchDate:
		branch := key.Branch
		row.Branch = &branch
		row.Date = key.Date
		row.Key = key.Date.Format(normalizer.KeyDateLayout)
		row.KeyDisplay = key.Date.Format(normalizer.DisplayDateLayout)
	default:
		row.Key = key.DocumentID
		row.KeyDisplay = normalizer.FormatDocumentID(key.DocumentID)
		switch {
		case r.A != nil && r.A.Branch != nil:
			row.Branch = r.A.Branch
		case r.B != nil && r.B.Branch != nil:
			row.Branch = r.B.Branch
		}
	}
	return row
}

// SortRows orders rows by formatted document id, or by date then branch,
// followed by the displayed computed status and both names.
func SortRows(rows []*models.OutputRow, layout Layout) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if layout.Mode == models.PartitionBranchDate {
			if !a.Date.Equal(b.Date) {
				return a.Date.Before(b.Date)
			}
			if ba, bb := branchOrder(a), branchOrder(b); ba != bb {
				return ba < bb
			}
		} else if a.KeyDisplay != b.KeyDisplay {
			return a.KeyDisplay < b.KeyDisplay
		}
		if da, db := a.Computed.Display(layout.Labels), b.Computed.Display(layout.Labels); da != db {
			return da < db
		}
		if a.NameA != b.NameA {
			return a.NameA < b.NameA
		}
		return a.NameB < b.NameB
	})
}

func branchOrder(row *models.OutputRow) int {
	if row.Branch == nil {
		return missingBranchOrder
	}
	return *row.Branch
}
