package matcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/pkg/errors"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
	"github.com/shopspring/decimal"
)

// ResultKind tells whether a result pairs two records or reports one side
type ResultKind int

const (
	KindMatched ResultKind = iota
	KindOnlyA
	KindOnlyB
)

// String returns the string representation of ResultKind
func (k ResultKind) String() string {
	switch k {
	case KindMatched:
		return "Matched"
	case KindOnlyA:
		return "OnlyA"
	case KindOnlyB:
		return "OnlyB"
	default:
		return "Unknown"
	}
}

// MatchResult is one outcome of matching. A is nil for OnlyB, B is nil for
// OnlyA. AmountA and AmountB are the amounts to display, which in aggregate
// mode is the per-line A amount and the B total.
type MatchResult struct {
	Kind         ResultKind
	A            *models.NormalizedRecord
	B            *models.NormalizedRecord
	AmountA      decimal.NullDecimal
	AmountB      decimal.NullDecimal
	Diff         decimal.Decimal
	Score        int
	PartitionKey PartitionKey
}

// MatchingSummary provides aggregate statistics about one matching run
type MatchingSummary struct {
	RecordsA   int
	RecordsB   int
	Partitions int
	Matched    int
	OnlyA      int
	OnlyB      int
	ExcludedA  int
	ExcludedB  int
}

// MatchingResult is the ordered output of a matching run
type MatchingResult struct {
	Results []*MatchResult
	Summary MatchingSummary
}

// MatchingEngine runs the partitioned greedy matcher
type MatchingEngine struct {
	Config      *MatchingConfig
	partitioner *Partitioner
	logger      logger.Logger
}

// NewMatchingEngine creates a new matching engine with the specified configuration
func NewMatchingEngine(config *MatchingConfig) *MatchingEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &MatchingEngine{
		Config:      config,
		partitioner: NewPartitioner(config.Partition),
		logger:      logger.GetGlobalLogger().WithComponent("matcher"),
	}
}

// Match partitions both ledgers and matches every partition. The result
// order is partition-key order regardless of the worker count.
func (me *MatchingEngine) Match(ctx context.Context, a, b []*models.NormalizedRecord) (*MatchingResult, error) {
	if err := me.Config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", me.Config.String(), err)
	}

	set := me.partitioner.Partition(a, b)
	perPartition := make([][]*MatchResult, len(set.Partitions))

	if err := me.run(ctx, set.Partitions, perPartition); err != nil {
		return nil, err
	}

	result := &MatchingResult{
		Summary: MatchingSummary{
			RecordsA:   len(a),
			RecordsB:   len(b),
			Partitions: len(set.Partitions),
			ExcludedA:  set.Excluded[models.SideA],
			ExcludedB:  set.Excluded[models.SideB],
		},
	}
	for _, results := range perPartition {
		for _, r := range results {
			switch r.Kind {
			case KindMatched:
				result.Summary.Matched++
			case KindOnlyA:
				result.Summary.OnlyA++
			case KindOnlyB:
				result.Summary.OnlyB++
			}
		}
		result.Results = append(result.Results, results...)
	}

	me.logger.WithFields(logger.Fields{
		"scoring":    me.Config.Scoring,
		"partitions": result.Summary.Partitions,
		"matched":    result.Summary.Matched,
		"only_a":     result.Summary.OnlyA,
		"only_b":     result.Summary.OnlyB,
	}).Info("Matching completed")

	return result, nil
}

func (me *MatchingEngine) run(ctx context.Context, partitions []*Partition, out [][]*MatchResult) error {
	workers := me.Config.Workers
	if workers <= 1 || len(partitions) < 2 {
		for i, p := range partitions {
			if err := ctx.Err(); err != nil {
				return errors.ReconciliationError(errors.CodeCancelled, "matching", err)
			}
			out[i] = me.MatchPartition(p)
		}
		return nil
	}

	if workers > len(partitions) {
		workers = len(partitions)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = me.MatchPartition(partitions[i])
			}
		}()
	}

	var cancelled error
feed:
	for i := range partitions {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled != nil {
		return errors.ReconciliationError(errors.CodeCancelled, "matching", cancelled)
	}
	return nil
}

// MatchPartition matches a single partition with a fresh used set
func (me *MatchingEngine) MatchPartition(p *Partition) []*MatchResult {
	switch me.Config.Scoring {
	case ScoringValueClosest:
		return me.matchValueClosest(p)
	case ScoringAggregate:
		return me.matchAggregate(p)
	default:
		return me.matchNameTokens(p)
	}
}

func (me *MatchingEngine) matchNameTokens(p *Partition) []*MatchResult {
	results := make([]*MatchResult, 0, len(p.A)+len(p.B))
	used := make([]bool, len(p.B))

	for _, a := range p.A {
		best, bestScore := -1, 0
		for j, b := range p.B {
			if used[j] {
				continue
			}
			if me.Config.InstallmentGuard && installmentsConflict(a, b) {
				continue
			}
			score := a.NameTokens.IntersectionSize(b.NameTokens)
			if score > bestScore {
				best, bestScore = j, score
			}
		}

		if best >= 0 && bestScore >= me.Config.MinTokenOverlap {
			used[best] = true
			r := matched(p.Key, a, p.B[best])
			r.Score = bestScore
			results = append(results, r)
			continue
		}
		results = append(results, onlyA(p.Key, a))
	}

	return appendLeftoverB(results, p, used)
}

func (me *MatchingEngine) matchValueClosest(p *Partition) []*MatchResult {
	results := make([]*MatchResult, 0, len(p.A)+len(p.B))
	used := make([]bool, len(p.B))

	byDocument := make(map[string][]int)
	for j, b := range p.B {
		byDocument[b.DocumentID] = append(byDocument[b.DocumentID], j)
	}

	for _, a := range p.A {
		best := -1
		var bestDiff decimal.Decimal
		for _, j := range byDocument[a.DocumentID] {
			if used[j] {
				continue
			}
			diff := a.Amount.Sub(p.B[j].Amount).Abs()
			if best < 0 || diff.LessThan(bestDiff) {
				best, bestDiff = j, diff
			}
		}

		if best >= 0 {
			used[best] = true
			results = append(results, matched(p.Key, a, p.B[best]))
			continue
		}
		results = append(results, onlyA(p.Key, a))
	}

	return appendLeftoverB(results, p, used)
}

func installmentsConflict(a, b *models.NormalizedRecord) bool {
	return a.Installment != nil && b.Installment != nil && a.Installment.Number != b.Installment.Number
}

func matched(key PartitionKey, a, b *models.NormalizedRecord) *MatchResult {
	return &MatchResult{
		Kind:         KindMatched,
		A:            a,
		B:            b,
		AmountA:      decimal.NewNullDecimal(a.Amount),
		AmountB:      decimal.NewNullDecimal(b.Amount),
		Diff:         a.Amount.Sub(b.Amount),
		PartitionKey: key,
	}
}

func onlyA(key PartitionKey, a *models.NormalizedRecord) *MatchResult {
	return &MatchResult{
		Kind:         KindOnlyA,
		A:            a,
		AmountA:      decimal.NewNullDecimal(a.Amount),
		PartitionKey: key,
	}
}

func onlyB(key PartitionKey, b *models.NormalizedRecord) *MatchResult {
	return &MatchResult{
		Kind:         KindOnlyB,
		B:            b,
		AmountB:      decimal.NewNullDecimal(b.Amount),
		PartitionKey: key,
	}
}

func appendLeftoverB(results []*MatchResult, p *Partition, used []bool) []*MatchResult {
	for j, b := range p.B {
		if !used[j] {
			results = append(results, onlyB(p.Key, b))
		}
	}
	return results
}

// String returns a compact description for logs
func (r *MatchResult) String() string {
	return fmt.Sprintf("%s{partition=%s a=%v b=%v diff=%s}", r.Kind, r.PartitionKey, r.A, r.B, r.Diff.StringFixed(2))
}
