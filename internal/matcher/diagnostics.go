package matcher

import (
	"fmt"

	"github.com/agnivade/levenshtein"
	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

// DiagnosticsConfig bounds the hints produced after matching
type DiagnosticsConfig struct {
	// MaxDistance is the largest edit distance between folded names
	// reported as a near miss.
	MaxDistance int `json:"max_distance" mapstructure:"max_distance"`
	MaxHints    int `json:"max_hints" mapstructure:"max_hints"`
}

// DefaultDiagnosticsConfig returns conservative hint limits
func DefaultDiagnosticsConfig() *DiagnosticsConfig {
	return &DiagnosticsConfig{MaxDistance: 3, MaxHints: 50}
}

// NearMiss is an unmatched A record and an unmatched B record of the same
// partition whose names look alike. It is a hint for reviewers and never
// changes the matching outcome.
type NearMiss struct {
	PartitionKey PartitionKey
	A            *models.NormalizedRecord
	B            *models.NormalizedRecord
	Distance     int
	SharedTokens int
}

// DuplicateGroup lists records of one ledger that share partition, name,
// amount and installment.
type DuplicateGroup struct {
	Side         models.Side
	PartitionKey PartitionKey
	Records      []*models.NormalizedRecord
	Reason       string
}

// DiagnosticsReport is the output of Analyze
type DiagnosticsReport struct {
	NearMisses []NearMiss
	Duplicates []DuplicateGroup
}

// Diagnostics inspects match results for likely review work
type Diagnostics struct {
	config *DiagnosticsConfig
	logger logger.Logger
}

// NewDiagnostics creates a diagnostics pass
func NewDiagnostics(config *DiagnosticsConfig) *Diagnostics {
	if config == nil {
		config = DefaultDiagnosticsConfig()
	}
	return &Diagnostics{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("diagnostics"),
	}
}

// Analyze finds near misses and duplicate records in results
func (d *Diagnostics) Analyze(results []*MatchResult) *DiagnosticsReport {
	report := &DiagnosticsReport{
		NearMisses: d.nearMisses(results),
		Duplicates: d.duplicates(results),
	}

	if len(report.NearMisses) > 0 || len(report.Duplicates) > 0 {
		d.logger.WithFields(logger.Fields{
			"near_misses": len(report.NearMisses),
			"duplicates":  len(report.Duplicates),
		}).Info("Review hints found")
	}
	return report
}

func (d *Diagnostics) nearMisses(results []*MatchResult) []NearMiss {
	type group struct {
		key PartitionKey
		a   []*models.NormalizedRecord
		b   []*models.NormalizedRecord
	}
	var order []string
	groups := make(map[string]*group)

	for _, r := range results {
		if r.Kind == KindMatched {
			continue
		}
		k := r.PartitionKey.String()
		g, ok := groups[k]
		if !ok {
			g = &group{key: r.PartitionKey}
			groups[k] = g
			order = append(order, k)
		}
		if r.Kind == KindOnlyA {
			g.a = append(g.a, r.A)
		} else {
			g.b = append(g.b, r.B)
		}
	}

	var hints []NearMiss
	for _, k := range order {
		g := groups[k]
		for _, a := range g.a {
			nameA := normalizer.NormalizeNameForKey(a.ClientName)
			best := NearMiss{Distance: -1}
			for _, b := range g.b {
				dist := levenshtein.ComputeDistance(nameA, normalizer.NormalizeNameForKey(b.ClientName))
				if dist > d.config.MaxDistance {
					continue
				}
				if best.Distance < 0 || dist < best.Distance {
					best = NearMiss{
						PartitionKey: g.key,
						A:            a,
						B:            b,
						Distance:     dist,
						SharedTokens: a.NameTokens.IntersectionSize(b.NameTokens),
					}
				}
			}
			if best.Distance >= 0 {
				hints = append(hints, best)
				if d.config.MaxHints > 0 && len(hints) >= d.config.MaxHints {
					return hints
				}
			}
		}
	}
	return hints
}

func (d *Diagnostics) duplicates(results []*MatchResult) []DuplicateGroup {
	var order []string
	groups := make(map[string]*DuplicateGroup)
	seen := make(map[*models.NormalizedRecord]bool)

	add := func(r *models.NormalizedRecord, key PartitionKey) {
		if r == nil || seen[r] {
			return
		}
		seen[r] = true

		label := ""
		if r.Installment != nil {
			label = r.Installment.Label
		}
		k := fmt.Sprintf("%s|%s|%s|%s|%s", r.Side, key, normalizer.NormalizeNameForKey(r.ClientName), r.Amount.StringFixed(2), label)
		g, ok := groups[k]
		if !ok {
			g = &DuplicateGroup{Side: r.Side, PartitionKey: key}
			groups[k] = g
			order = append(order, k)
		}
		g.Records = append(g.Records, r)
	}

	for _, r := range results {
		add(r.A, r.PartitionKey)
		add(r.B, r.PartitionKey)
	}

	var dups []DuplicateGroup
	for _, k := range order {
		g := groups[k]
		if len(g.Records) < 2 {
			continue
		}
		first := g.Records[0]
		g.Reason = fmt.Sprintf("%d records named %q with amount %s", len(g.Records), first.ClientName, normalizer.FormatDecimal(first.Amount))
		dups = append(dups, *g)
	}
	return dups
}
