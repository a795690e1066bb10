package reconciler

import (
	"sort"
	"time"

	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/shopspring/decimal"
)

// Summary gives the totals of one result table
type Summary struct {
	TotalRows  int `json:"total_rows"`
	OK         int `json:"ok"`
	Divergent  int `json:"divergent"`
	OnlyA      int `json:"only_a"`
	OnlyB      int `json:"only_b"`
	Overridden int `json:"overridden"`
	Annotated  int `json:"annotated"`

	RecordsA int `json:"records_a"`
	RecordsB int `json:"records_b"`

	TotalA        decimal.Decimal `json:"total_a"`
	TotalB        decimal.Decimal `json:"total_b"`
	NetDifference decimal.Decimal `json:"net_difference"`
}

// MatchRate is the share of rows computed as OK
func (s *Summary) MatchRate() float64 {
	if s.TotalRows == 0 {
		return 0
	}
	return float64(s.OK) / float64(s.TotalRows)
}

// DailySummary holds the status counts of one emission date. Document
// runs report a single bucket with a zero date.
type DailySummary struct {
	Date      time.Time `json:"date"`
	Total     int       `json:"total"`
	OK        int       `json:"ok"`
	Divergent int       `json:"divergent"`
	OnlyA     int       `json:"only_a"`
	OnlyB     int       `json:"only_b"`
}

func (d *DailySummary) add(status models.Status) {
	d.Total++
	switch status {
	case models.StatusOK:
		d.OK++
	case models.StatusValueDivergent:
		d.Divergent++
	case models.StatusOnlyA:
		d.OnlyA++
	case models.StatusOnlyB:
		d.OnlyB++
	}
}

// BuildSummary counts rows by computed status and totals both ledgers
func BuildSummary(rows []*models.OutputRow, a, b []*models.NormalizedRecord) *Summary {
	s := &Summary{
		TotalRows: len(rows),
		RecordsA:  len(a),
		RecordsB:  len(b),
		TotalA:    sumRecords(a),
		TotalB:    sumRecords(b),
	}
	s.NetDifference = s.TotalA.Sub(s.TotalB)

	for _, row := range rows {
		switch row.Computed {
		case models.StatusOK:
			s.OK++
		case models.StatusValueDivergent:
			s.Divergent++
		case models.StatusOnlyA:
			s.OnlyA++
		case models.StatusOnlyB:
			s.OnlyB++
		}
		if row.Overridden {
			s.Overridden++
		}
		if row.Annotation != "" {
			s.Annotated++
		}
	}
	return s
}

// BuildDailySummary groups rows by date in ascending order
func BuildDailySummary(rows []*models.OutputRow, mode models.PartitionMode) []*DailySummary {
	if mode != models.PartitionBranchDate {
		total := &DailySummary{}
		for _, row := range rows {
			total.add(row.Computed)
		}
		return []*DailySummary{total}
	}

	byDate := make(map[time.Time]*DailySummary)
	for _, row := range rows {
		day, ok := byDate[row.Date]
		if !ok {
			day = &DailySummary{Date: row.Date}
			byDate[row.Date] = day
		}
		day.add(row.Computed)
	}

	days := make([]*DailySummary, 0, len(byDate))
	for _, d := range byDate {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days
}

func sumRecords(records []*models.NormalizedRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount)
	}
	return total
}
