package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which ledger a record came from
type Side string

const (
	// SideA is the internal system ledger (e.g. TRIER)
	SideA Side = "A"
	// SideB is the partner or processor ledger (e.g. CREDCOM, MINERVA)
	SideB Side = "B"
)

// SideLabels are the display names of both ledgers
type SideLabels struct {
	A string `json:"a" mapstructure:"a"`
	B string `json:"b" mapstructure:"b"`
}

// DefaultSideLabels returns the generic labels used when a profile sets none
func DefaultSideLabels() SideLabels {
	return SideLabels{A: "A", B: "B"}
}

// Validate checks that both labels are set and distinct
func (l SideLabels) Validate() error {
	if strings.TrimSpace(l.A) == "" || strings.TrimSpace(l.B) == "" {
		return fmt.Errorf("both ledger labels must be set")
	}
	if strings.EqualFold(strings.TrimSpace(l.A), strings.TrimSpace(l.B)) {
		return fmt.Errorf("ledger labels must differ: %s", l.A)
	}
	return nil
}

// PartitionMode selects the join key that bounds matching
type PartitionMode string

const (
	// PartitionBranchDate groups records by (branch, date)
	PartitionBranchDate PartitionMode = "branch_date"
	// PartitionDocument groups records by document id
	PartitionDocument PartitionMode = "document"
)

// IsValid checks if the partition mode is supported
func (m PartitionMode) IsValid() bool {
	return m == PartitionBranchDate || m == PartitionDocument
}

// KeyColumnHeader is the header of the second output column for the mode
func (m PartitionMode) KeyColumnHeader() string {
	if m == PartitionBranchDate {
		return "Data Emissão"
	}
	return "CPF"
}

// Status is the computed classification of an output row
type Status string

const (
	StatusOK             Status = "OK"
	StatusValueDivergent Status = "VALUE_DIVERGENT"
	StatusOnlyA          Status = "ONLY_A"
	StatusOnlyB          Status = "ONLY_B"
)

// Display renders the status the way reviewers see it in the table
func (s Status) Display(labels SideLabels) string {
	switch s {
	case StatusOK:
		return "✅ OK"
	case StatusValueDivergent:
		return "⚠️ VALOR DIVERGENTE"
	case StatusOnlyA:
		return "⚠️ SOMENTE " + labels.A
	case StatusOnlyB:
		return "⚠️ SOMENTE " + labels.B
	default:
		return string(s)
	}
}

// StatusOptions lists the display values a reviewer may pick from
func StatusOptions(labels SideLabels) []string {
	return []string{
		StatusOK.Display(labels),
		StatusValueDivergent.Display(labels),
		StatusOnlyA.Display(labels),
		StatusOnlyB.Display(labels),
	}
}

// ParseStatusDisplay maps a display value back to its Status
func ParseStatusDisplay(display string, labels SideLabels) (Status, bool) {
	display = strings.TrimSpace(display)
	for _, s := range []Status{StatusOK, StatusValueDivergent, StatusOnlyA, StatusOnlyB} {
		if s.Display(labels) == display {
			return s, true
		}
	}
	return "", false
}

// RawRecord is one row of a source ledger keyed by normalized column name.
// Values holds typed cells (numbers from JSON payloads) that must not go
// through text parsing.
type RawRecord struct {
	Side   Side
	Source string
	Line   int
	Cells  map[string]string
	Values map[string]interface{}
}

// Get returns the cell for column, preferring a typed value
func (r *RawRecord) Get(column string) (interface{}, bool) {
	if v, ok := r.Values[column]; ok && v != nil {
		return v, true
	}
	v, ok := r.Cells[column]
	return v, ok
}

// Installment is a partial-payment sequence position
type Installment struct {
	Number int    `json:"number"`
	Label  string `json:"label"`
}

// NormalizedRecord is the typed, immutable view of a RawRecord.
// Records reaching the matcher always carry a parsed amount.
type NormalizedRecord struct {
	Side        Side
	Index       int
	Source      string
	Line        int
	Branch      *int
	DocumentID  string
	ClientName  string
	NameTokens  TokenSet
	Amount      decimal.Decimal
	Date        time.Time
	Installment *Installment
}

// HasDate reports whether the record carries a parsed date
func (r *NormalizedRecord) HasDate() bool {
	return !r.Date.IsZero()
}

// DisplayName is the client name with the installment label appended
func (r *NormalizedRecord) DisplayName() string {
	if r.Installment != nil && r.Installment.Label != "" {
		return r.ClientName + " — " + r.Installment.Label
	}
	return r.ClientName
}

// String returns a compact description for logs
func (r *NormalizedRecord) String() string {
	return fmt.Sprintf("%s#%d{branch=%s doc=%s name=%q amount=%s}",
		r.Side, r.Index, FormatBranch(r.Branch), r.DocumentID, r.ClientName, r.Amount.StringFixed(2))
}

// FormatBranch renders an optional branch, "-" when absent
func FormatBranch(branch *int) string {
	if branch == nil {
		return "-"
	}
	return strconv.Itoa(*branch)
}

// TokenSet is a set of uppercase name tokens
type TokenSet map[string]struct{}

// NewTokenSet builds a set from tokens
func NewTokenSet(tokens ...string) TokenSet {
	s := make(TokenSet, len(tokens))
	for _, t := range tokens {
		s[t] = struct{}{}
	}
	return s
}

// Has reports membership
func (s TokenSet) Has(token string) bool {
	_, ok := s[token]
	return ok
}

// IntersectionSize counts tokens present in both sets
func (s TokenSet) IntersectionSize(other TokenSet) int {
	if len(s) == 0 || len(other) == 0 {
		return 0
	}
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	n := 0
	for t := range small {
		if large.Has(t) {
			n++
		}
	}
	return n
}

// OutputColumns is the width of the persisted table
const OutputColumns = 8

// OutputRow is one reconciliation line of the result table
type OutputRow struct {
	Branch     *int
	Key        string
	KeyDisplay string
	Date       time.Time
	NameA      string
	AmountA    string
	NameB      string
	AmountB    string
	Computed   Status
	Status     string
	Annotation string
	Overridden bool
}

// Values renders the row as the eight table cells
func (r *OutputRow) Values() []string {
	return []string{
		FormatBranch(r.Branch),
		r.KeyDisplay,
		r.NameA,
		r.AmountA,
		r.NameB,
		r.AmountB,
		r.Status,
		r.Annotation,
	}
}

// Header returns the table header for the given labels and mode
func Header(labels SideLabels, mode PartitionMode) []string {
	return []string{
		"Filial",
		mode.KeyColumnHeader(),
		labels.A,
		"Valor",
		labels.B,
		"Valor",
		"STATUS",
		"Anotações",
	}
}
