package errors

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// RecordLocation points at a single source cell
type RecordLocation struct {
	Source string `json:"source"`
	Line   int    `json:"line"`
	Column string `json:"column"`
	Value  string `json:"value"`
}

// RecordError describes a record that was excluded from matching.
// It never aborts a run; it is collected for reporting.
type RecordError struct {
	*ReconcilerError
	Location *RecordLocation `json:"location"`
	Reason   string          `json:"reason"`
}

// Error implements the error interface with the record location appended
func (e *RecordError) Error() string {
	if e.Location == nil {
		return e.ReconcilerError.Error()
	}
	location := fmt.Sprintf("at %s", filepath.Base(e.Location.Source))
	if e.Location.Line > 0 {
		location += fmt.Sprintf(":%d", e.Location.Line)
	}
	if e.Location.Column != "" {
		location += fmt.Sprintf(" column '%s'", e.Location.Column)
	}
	return e.ReconcilerError.Message + " " + location
}

// NewRecordError builds an exclusion error for the given reason.
func NewRecordError(reason string, loc *RecordLocation) *RecordError {
	if loc == nil {
		loc = &RecordLocation{}
	}
	base := ParseError(CodeUnparsableValue, loc.Source, loc.Line, loc.Column, loc.Value, nil).
		WithContext("reason", reason)
	return &RecordError{
		ReconcilerError: base,
		Location:        loc,
		Reason:          reason,
	}
}

// RecordErrorCollector keeps exclusion counts by reason plus a bounded sample
type RecordErrorCollector struct {
	counts     map[string]int
	samples    []*RecordError
	maxSamples int
}

// NewRecordErrorCollector creates a collector keeping up to maxSamples errors
func NewRecordErrorCollector(maxSamples int) *RecordErrorCollector {
	if maxSamples < 0 {
		maxSamples = 0
	}
	return &RecordErrorCollector{
		counts:     make(map[string]int),
		maxSamples: maxSamples,
	}
}

// Add records one excluded record
func (c *RecordErrorCollector) Add(err *RecordError) {
	if err == nil {
		return
	}
	c.counts[err.Reason]++
	if len(c.samples) < c.maxSamples {
		c.samples = append(c.samples, err)
	}
}

// Total returns the number of excluded records
func (c *RecordErrorCollector) Total() int {
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

// Counts returns a copy of the per-reason counters
func (c *RecordErrorCollector) Counts() map[string]int {
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Samples returns the retained errors
func (c *RecordErrorCollector) Samples() []*RecordError {
	return c.samples
}

// Summary returns an ErrorSummary over the retained samples
func (c *RecordErrorCollector) Summary() *ErrorSummary {
	errs := make([]*ReconcilerError, len(c.samples))
	for i, s := range c.samples {
		errs[i] = s.ReconcilerError
	}
	return NewErrorSummary(errs)
}

// String renders the counters as "reason=n" pairs sorted by reason
func (c *RecordErrorCollector) String() string {
	if len(c.counts) == 0 {
		return "no excluded records"
	}
	reasons := make([]string, 0, len(c.counts))
	for r := range c.counts {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = fmt.Sprintf("%s=%d", r, c.counts[r])
	}
	return strings.Join(parts, ", ")
}
