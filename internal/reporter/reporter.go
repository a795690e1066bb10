// Package reporter renders reconciliation results for people and programs.
//
// Supported output formats:
//   - Console: styled summary for a terminal, with the rows that need review
//   - JSON: the summary, daily counts, exclusions and hints as one document
//   - CSV: the result table itself
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
	"github.com/drogcidadeinfo/convenios-2/internal/reconciler"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// IncludeRows lists rows not computed as OK on the console and adds the
	// full table to JSON output.
	IncludeRows        bool `json:"include_rows" mapstructure:"include_rows"`
	IncludeExclusions  bool `json:"include_exclusions" mapstructure:"include_exclusions"`
	IncludeDiagnostics bool `json:"include_diagnostics" mapstructure:"include_diagnostics"`

	// MaxItems caps every console list
	MaxItems  int  `json:"max_items" mapstructure:"max_items"`
	UseColors bool `json:"use_colors" mapstructure:"use_colors"`

	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:             FormatConsole,
		IncludeRows:        true,
		IncludeExclusions:  true,
		IncludeDiagnostics: true,
		MaxItems:           20,
		UseColors:          true,
		CSVDelimiter:       ',',
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxItems < 1 {
		return fmt.Errorf("max items must be positive, got %d", c.MaxItems)
	}
	if c.CSVDelimiter != ',' && c.CSVDelimiter != ';' && c.CSVDelimiter != '\t' {
		return fmt.Errorf("unsupported CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
	styles styles
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{
		config: config,
		styles: newStyles(config.UseColors),
	}, nil
}

// GenerateReport writes a report of result to writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}
	if result.Summary == nil || result.Table == nil {
		return fmt.Errorf("reconciliation result is incomplete")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	var b strings.Builder
	s := rg.styles
	labels := result.Labels

	b.WriteString(s.title.Render(fmt.Sprintf("CONFERÊNCIA %s × %s", labels.A, labels.B)))
	b.WriteString("\n")
	rg.field(&b, "Profile", result.Profile)
	rg.field(&b, "Run", result.RunID.String())
	rg.field(&b, "Mode", string(result.Mode))
	rg.field(&b, "Duration", result.Duration().Round(time.Millisecond).String())
	switch {
	case result.Written:
		rg.field(&b, "Output", result.Output)
	case result.Output != "":
		rg.field(&b, "Output", result.Output+" (dry run, not written)")
	}
	b.WriteString("\n")

	sum := result.Summary
	b.WriteString(s.section.Render("SUMMARY"))
	b.WriteString("\n")
	rg.count(&b, "Rows", sum.TotalRows, sum.TotalRows, s.plain)
	rg.count(&b, models.StatusOK.Display(labels), sum.OK, sum.TotalRows, s.ok)
	rg.count(&b, models.StatusValueDivergent.Display(labels), sum.Divergent, sum.TotalRows, s.warn)
	rg.count(&b, models.StatusOnlyA.Display(labels), sum.OnlyA, sum.TotalRows, s.warn)
	rg.count(&b, models.StatusOnlyB.Display(labels), sum.OnlyB, sum.TotalRows, s.warn)
	rg.field(&b, "Reviewer overrides", fmt.Sprintf("%d", sum.Overridden))
	rg.field(&b, "Annotated rows", fmt.Sprintf("%d", sum.Annotated))
	b.WriteString("\n")

	b.WriteString(s.section.Render("TOTALS"))
	b.WriteString("\n")
	rg.field(&b, fmt.Sprintf("%s (%d records)", labels.A, sum.RecordsA), normalizer.FormatDecimal(sum.TotalA))
	rg.field(&b, fmt.Sprintf("%s (%d records)", labels.B, sum.RecordsB), normalizer.FormatDecimal(sum.TotalB))
	net := normalizer.FormatDecimal(sum.NetDifference)
	if sum.NetDifference.IsZero() {
		rg.field(&b, "Net difference", s.ok.Render(net))
	} else {
		rg.field(&b, "Net difference", s.bad.Render(net))
	}
	b.WriteString("\n")

	if result.Mode == models.PartitionBranchDate && len(result.Daily) > 0 {
		b.WriteString(s.section.Render("BY DATE"))
		b.WriteString("\n")
		rg.writeDaily(&b, result.Daily)
		b.WriteString("\n")
	}

	if rg.config.IncludeExclusions && result.ExcludedTotal() > 0 {
		b.WriteString(s.section.Render("EXCLUDED RECORDS"))
		b.WriteString("\n")
		for _, e := range result.Exclusions {
			if e.Excluded == 0 {
				continue
			}
			rg.field(&b, sideLabel(labels, e.Side), fmt.Sprintf("%d of %d (%s)", e.Excluded, e.Total, reasonList(e.ByReason)))
			for _, sample := range limit(e.Samples, rg.config.MaxItems) {
				b.WriteString("    " + s.muted.Render(sample) + "\n")
			}
		}
		b.WriteString("\n")
	}

	if rg.config.IncludeRows {
		var pending []*models.OutputRow
		for _, row := range result.Table.Rows {
			if row.Computed != models.StatusOK {
				pending = append(pending, row)
			}
		}
		if len(pending) > 0 {
			b.WriteString(s.section.Render(fmt.Sprintf("ROWS TO REVIEW (%d)", len(pending))))
			b.WriteString("\n")
			rg.writeRows(&b, pending)
			b.WriteString("\n")
		}
	}

	if rg.config.IncludeDiagnostics && result.Diagnostics != nil {
		rg.writeDiagnostics(&b, result)
	}

	_, err := io.WriteString(writer, b.String())
	return err
}

func (rg *ReportGenerator) field(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "  %s %s\n", rg.styles.label.Render(pad(name+":", 28)), value)
}

func (rg *ReportGenerator) count(b *strings.Builder, name string, n, total int, style lipgloss.Style) {
	rg.field(b, name, style.Render(fmt.Sprintf("%d (%.1f%%)", n, percentage(n, total))))
}

func (rg *ReportGenerator) writeDaily(b *strings.Builder, days []*reconciler.DailySummary) {
	header := fmt.Sprintf("  %-12s %6s %6s %10s %8s %8s", "Date", "Rows", "OK", "Divergent", "Only A", "Only B")
	b.WriteString(rg.styles.label.Render(header) + "\n")
	for _, d := range limit(days, rg.config.MaxItems) {
		fmt.Fprintf(b, "  %-12s %6d %6d %10d %8d %8d\n",
			d.Date.Format(normalizer.DisplayDateLayout), d.Total, d.OK, d.Divergent, d.OnlyA, d.OnlyB)
	}
	if more := len(days) - rg.config.MaxItems; more > 0 {
		fmt.Fprintf(b, "  ... and %d more\n", more)
	}
}

func (rg *ReportGenerator) writeRows(b *strings.Builder, rows []*models.OutputRow) {
	for i, row := range limit(rows, rg.config.MaxItems) {
		status := rg.styles.warn.Render(row.Status)
		fmt.Fprintf(b, "  %d. [%s %s] %s %s | %s %s  %s\n",
			i+1, models.FormatBranch(row.Branch), row.KeyDisplay,
			row.NameA, row.AmountA, row.NameB, row.AmountB, status)
		if row.Annotation != "" {
			b.WriteString("     " + rg.styles.muted.Render(row.Annotation) + "\n")
		}
	}
	if more := len(rows) - rg.config.MaxItems; more > 0 {
		fmt.Fprintf(b, "  ... and %d more\n", more)
	}
}

func (rg *ReportGenerator) writeDiagnostics(b *strings.Builder, result *reconciler.ReconciliationResult) {
	d := result.Diagnostics
	if len(d.NearMisses) == 0 && len(d.Duplicates) == 0 {
		return
	}
	s := rg.styles

	if len(d.NearMisses) > 0 {
		b.WriteString(s.section.Render(fmt.Sprintf("POSSIBLE MATCHES (%d)", len(d.NearMisses))))
		b.WriteString("\n")
		for _, nm := range limit(d.NearMisses, rg.config.MaxItems) {
			fmt.Fprintf(b, "  %s  %s %s ~ %s %s %s\n",
				s.muted.Render(nm.PartitionKey.String()),
				nm.A.DisplayName(), normalizer.FormatDecimal(nm.A.Amount),
				nm.B.DisplayName(), normalizer.FormatDecimal(nm.B.Amount),
				s.muted.Render(fmt.Sprintf("(distance %d)", nm.Distance)))
		}
		b.WriteString("\n")
	}

	if len(d.Duplicates) > 0 {
		b.WriteString(s.section.Render(fmt.Sprintf("REPEATED RECORDS (%d)", len(d.Duplicates))))
		b.WriteString("\n")
		for _, g := range limit(d.Duplicates, rg.config.MaxItems) {
			first := g.Records[0]
			fmt.Fprintf(b, "  %s  %s: %s %s x%d\n",
				s.muted.Render(g.PartitionKey.String()),
				sideLabel(result.Labels, g.Side),
				first.DisplayName(), normalizer.FormatDecimal(first.Amount), len(g.Records))
		}
		b.WriteString("\n")
	}
}

// jsonReport is the document written by the JSON format
type jsonReport struct {
	*reconciler.ReconciliationResult
	MatchRate   float64          `json:"match_rate"`
	DurationMS  int64            `json:"duration_ms"`
	Diagnostics *jsonDiagnostics `json:"diagnostics,omitempty"`
	Table       [][]string       `json:"table,omitempty"`
}

type jsonDiagnostics struct {
	NearMisses []jsonNearMiss  `json:"near_misses"`
	Duplicates []jsonDuplicate `json:"duplicates"`
}

type jsonNearMiss struct {
	Partition string `json:"partition"`
	NameA     string `json:"name_a"`
	AmountA   string `json:"amount_a"`
	NameB     string `json:"name_b"`
	AmountB   string `json:"amount_b"`
	Distance  int    `json:"distance"`
}

type jsonDuplicate struct {
	Side      models.Side `json:"side"`
	Partition string      `json:"partition"`
	Name      string      `json:"name"`
	Amount    string      `json:"amount"`
	Count     int         `json:"count"`
}

func (rg *ReportGenerator) generateJSONReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	report := jsonReport{
		ReconciliationResult: result,
		MatchRate:            result.Summary.MatchRate(),
		DurationMS:           result.Duration().Milliseconds(),
	}
	if !rg.config.IncludeExclusions {
		trimmed := *result
		trimmed.Exclusions = nil
		report.ReconciliationResult = &trimmed
	}
	if rg.config.IncludeRows {
		report.Table = result.Table.Values()
	}
	if rg.config.IncludeDiagnostics && result.Diagnostics != nil {
		report.Diagnostics = buildJSONDiagnostics(result)
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(report)
}

func buildJSONDiagnostics(result *reconciler.ReconciliationResult) *jsonDiagnostics {
	d := &jsonDiagnostics{
		NearMisses: make([]jsonNearMiss, 0, len(result.Diagnostics.NearMisses)),
		Duplicates: make([]jsonDuplicate, 0, len(result.Diagnostics.Duplicates)),
	}
	for _, nm := range result.Diagnostics.NearMisses {
		d.NearMisses = append(d.NearMisses, jsonNearMiss{
			Partition: nm.PartitionKey.String(),
			NameA:     nm.A.DisplayName(),
			AmountA:   nm.A.Amount.StringFixed(2),
			NameB:     nm.B.DisplayName(),
			AmountB:   nm.B.Amount.StringFixed(2),
			Distance:  nm.Distance,
		})
	}
	for _, g := range result.Diagnostics.Duplicates {
		d.Duplicates = append(d.Duplicates, jsonDuplicate{
			Side:      g.Side,
			Partition: g.PartitionKey.String(),
			Name:      g.Records[0].DisplayName(),
			Amount:    g.Records[0].Amount.StringFixed(2),
			Count:     len(g.Records),
		})
	}
	return d
}

// generateCSVReport writes the result table, header first
func (rg *ReportGenerator) generateCSVReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	if err := csvWriter.WriteAll(result.Table.Values()); err != nil {
		return fmt.Errorf("failed to write CSV report: %w", err)
	}
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func sideLabel(labels models.SideLabels, side models.Side) string {
	if side == models.SideB {
		return labels.B
	}
	return labels.A
}

func reasonList(byReason map[string]int) string {
	parts := make([]string, 0, len(byReason))
	for _, reason := range []string{
		reconciler.ReasonInvalidAmount,
		reconciler.ReasonInvalidDate,
		reconciler.ReasonInvalidDocument,
		reconciler.ReasonMissingBranch,
	} {
		if n := byReason[reason]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
		}
	}
	return strings.Join(parts, ", ")
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func limit[T any](items []T, max int) []T {
	if len(items) > max {
		return items[:max]
	}
	return items
}

// pad fills s with spaces up to a display width
func pad(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
