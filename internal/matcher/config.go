// Package matcher pairs ledger A records with ledger B records.
//
// Matching is greedy and local: records are first grouped into partitions
// (branch+date or document id), then, inside each partition, ledger A
// records are visited in input order and each one takes the best still-unused
// ledger B candidate. Ties go to the candidate seen first, so the output is
// the same run to run.
//
// Three scoring modes are supported:
//   - name_tokens: shared name tokens, with an acceptance floor and an
//     optional equal-installment constraint
//   - value_closest: smallest absolute amount difference within a document id
//   - aggregate: per document id, the sum of A lines against the sum of B lines
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	engine := matcher.NewMatchingEngine(config)
//	result, err := engine.Match(ctx, recordsA, recordsB)
//
//	classifier := matcher.NewClassifier(config.Tolerance, labels)
//	status := classifier.Classify(result.Results[0])
package matcher

import (
	"fmt"

	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/shopspring/decimal"
)

// ScoringMode selects how candidates inside a partition are ranked
type ScoringMode string

const (
	// ScoringNameTokens ranks candidates by shared name tokens
	ScoringNameTokens ScoringMode = "name_tokens"
	// ScoringValueClosest ranks candidates by amount proximity
	ScoringValueClosest ScoringMode = "value_closest"
	// ScoringAggregate compares per-document sums instead of pairing lines
	ScoringAggregate ScoringMode = "aggregate"
)

// IsValid checks if the scoring mode is supported
func (s ScoringMode) IsValid() bool {
	switch s {
	case ScoringNameTokens, ScoringValueClosest, ScoringAggregate:
		return true
	}
	return false
}

// DefaultMinTokenOverlap is the fewest shared name tokens accepted as a match
const DefaultMinTokenOverlap = 2

// DefaultTolerance is the largest difference still classified as OK
var DefaultTolerance = decimal.New(5, -2)

// MatchingConfig holds the parameters of one reconciliation flavour
type MatchingConfig struct {
	Partition models.PartitionMode `json:"partition" mapstructure:"partition"`
	Scoring   ScoringMode          `json:"scoring" mapstructure:"scoring"`

	// MinTokenOverlap applies to name_tokens scoring only
	MinTokenOverlap int `json:"min_token_overlap" mapstructure:"min_token_overlap"`

	// InstallmentGuard skips candidates whose installment number differs
	InstallmentGuard bool `json:"installment_guard" mapstructure:"installment_guard"`

	Tolerance decimal.Decimal `json:"tolerance" mapstructure:"tolerance"`

	// Workers > 1 matches partitions concurrently
	Workers int `json:"workers" mapstructure:"workers"`
}

// DefaultMatchingConfig returns the branch+date, name-token configuration
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		Partition:        models.PartitionBranchDate,
		Scoring:          ScoringNameTokens,
		MinTokenOverlap:  DefaultMinTokenOverlap,
		InstallmentGuard: true,
		Tolerance:        DefaultTolerance,
		Workers:          1,
	}
}

// DocumentMatchingConfig returns the document-id, closest-value configuration
func DocumentMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		Partition:        models.PartitionDocument,
		Scoring:          ScoringValueClosest,
		MinTokenOverlap:  DefaultMinTokenOverlap,
		InstallmentGuard: true,
		Tolerance:        DefaultTolerance,
		Workers:          1,
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if !mc.Partition.IsValid() {
		return fmt.Errorf("unknown partition mode: %q", mc.Partition)
	}
	if !mc.Scoring.IsValid() {
		return fmt.Errorf("unknown scoring mode: %q", mc.Scoring)
	}
	if mc.Scoring != ScoringNameTokens && mc.Partition != models.PartitionDocument {
		return fmt.Errorf("scoring %s requires document partitioning, got %s", mc.Scoring, mc.Partition)
	}
	if mc.Scoring == ScoringNameTokens && mc.MinTokenOverlap < 1 {
		return fmt.Errorf("min token overlap must be positive: %d", mc.MinTokenOverlap)
	}
	if mc.Tolerance.IsNegative() {
		return fmt.Errorf("tolerance cannot be negative: %s", mc.Tolerance)
	}
	if mc.Workers < 0 {
		return fmt.Errorf("workers cannot be negative: %d", mc.Workers)
	}
	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Partition: %s, Scoring: %s, MinTokenOverlap: %d, Tolerance: %s, Workers: %d}",
		mc.Partition, mc.Scoring, mc.MinTokenOverlap, mc.Tolerance.StringFixed(2), mc.Workers)
}
