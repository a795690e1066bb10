package merge

import (
	"fmt"
	"strings"

	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

// Override is what a reviewer left on a persisted row
type Override struct {
	Status     string `json:"status"`
	Annotation string `json:"annotation"`
}

// Overrides maps identity keys to reviewer edits
type Overrides map[string]Override

// OverrideStats describes how a persisted table was read
type OverrideStats struct {
	Rows          int  `json:"rows"`
	Loaded        int  `json:"loaded"`
	Blank         int  `json:"blank"`
	Padded        int  `json:"padded"`
	Malformed     int  `json:"malformed"`
	HeaderSkipped bool `json:"header_skipped"`
}

// String returns a one-line description for logs
func (s *OverrideStats) String() string {
	return fmt.Sprintf("rows=%d loaded=%d blank=%d padded=%d malformed=%d",
		s.Rows, s.Loaded, s.Blank, s.Padded, s.Malformed)
}

// Layout describes the persisted table shape
type Layout struct {
	Mode   models.PartitionMode
	Labels models.SideLabels
}

// LoadOverrides reads a previously written table into an override map.
// A leading header row is skipped. Short rows are padded to eight cells
// and rows whose key cell cannot be read are counted as malformed and
// yield no override. When two rows share a key the later one wins.
func LoadOverrides(rows [][]string, layout Layout) (Overrides, *OverrideStats) {
	overrides := make(Overrides)
	stats := &OverrideStats{}

	for i, row := range rows {
		if i == 0 && isHeaderRow(row) {
			stats.HeaderSkipped = true
			continue
		}
		stats.Rows++

		if isBlankRow(row) {
			stats.Blank++
			continue
		}
		if len(row) < models.OutputColumns {
			stats.Padded++
			row = padRow(row)
		}

		fields, ok := CellsIdentity(row, layout.Mode)
		if !ok {
			stats.Malformed++
			continue
		}

		overrides[BuildIdentityKey(fields)] = Override{
			Status:     strings.TrimSpace(row[6]),
			Annotation: strings.TrimSpace(row[7]),
		}
		stats.Loaded++
	}

	return overrides, stats
}

// ApplyOverrides puts reviewer edits back on freshly computed rows. A
// non-empty status replaces the computed one; the annotation is always
// taken from the prior row. Statuses outside the known options are kept
// and logged.
func ApplyOverrides(rows []*models.OutputRow, overrides Overrides, labels models.SideLabels) []*models.OutputRow {
	if len(overrides) == 0 {
		return rows
	}
	log := logger.GetGlobalLogger().WithComponent("merge")

	for _, row := range rows {
		o, ok := overrides[BuildIdentityKey(RowIdentity(row))]
		if !ok {
			continue
		}

		row.Annotation = o.Annotation
		if o.Status == "" {
			continue
		}
		if _, known := models.ParseStatusDisplay(o.Status, labels); !known {
			log.WithFields(logger.Fields{
				"status": o.Status,
				"key":    row.KeyDisplay,
			}).Warn("Keeping status outside the known options")
		}
		row.Overridden = o.Status != row.Status
		row.Status = o.Status
	}
	return rows
}

func isHeaderRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	return normalizer.NormalizeColumnName(row[0]) == "filial"
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func padRow(row []string) []string {
	padded := make([]string, models.OutputColumns)
	copy(padded, row)
	return padded
}
