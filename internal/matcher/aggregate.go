package matcher

import (
	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/shopspring/decimal"
)

// matchAggregate compares the sum of a document's A lines against the sum
// of its B lines once, then fans the group outcome back out to one result
// per A line. Every line carries the first B record as display name, the B
// total as its B amount and the group difference, so all lines of a group
// classify alike. A group with only B lines yields a single OnlyB result.
func (me *MatchingEngine) matchAggregate(p *Partition) []*MatchResult {
	if len(p.B) == 0 {
		results := make([]*MatchResult, 0, len(p.A))
		for _, a := range p.A {
			results = append(results, onlyA(p.Key, a))
		}
		return results
	}

	totalB := sumAmounts(p.B)
	if len(p.A) == 0 {
		r := onlyB(p.Key, p.B[0])
		r.AmountB = decimal.NewNullDecimal(totalB)
		return []*MatchResult{r}
	}

	diff := sumAmounts(p.A).Sub(totalB)
	results := make([]*MatchResult, 0, len(p.A))
	for _, a := range p.A {
		results = append(results, &MatchResult{
			Kind:         KindMatched,
			A:            a,
			B:            p.B[0],
			AmountA:      decimal.NewNullDecimal(a.Amount),
			AmountB:      decimal.NewNullDecimal(totalB),
			Diff:         diff,
			Score:        len(p.B),
			PartitionKey: p.Key,
		})
	}
	return results
}

func sumAmounts(records []*models.NormalizedRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount)
	}
	return total
}
