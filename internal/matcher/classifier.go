package matcher

import (
	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/shopspring/decimal"
)

// Classifier turns match results into status tags
type Classifier struct {
	tolerance decimal.Decimal
	labels    models.SideLabels
}

// NewClassifier creates a classifier; a matched pair is OK while
// |diff| <= tolerance.
func NewClassifier(tolerance decimal.Decimal, labels models.SideLabels) *Classifier {
	return &Classifier{tolerance: tolerance.Abs(), labels: labels}
}

// Classify computes the status of a result
func (c *Classifier) Classify(r *MatchResult) models.Status {
	switch r.Kind {
	case KindOnlyA:
		return models.StatusOnlyA
	case KindOnlyB:
		return models.StatusOnlyB
	}
	if r.Diff.Abs().LessThanOrEqual(c.tolerance) {
		return models.StatusOK
	}
	return models.StatusValueDivergent
}

// Display renders the status of r with the configured labels
func (c *Classifier) Display(r *MatchResult) string {
	return c.Classify(r).Display(c.labels)
}

// Labels returns the ledger labels used for display
func (c *Classifier) Labels() models.SideLabels {
	return c.labels
}
