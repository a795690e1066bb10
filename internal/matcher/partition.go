package matcher

import (
	"fmt"
	"sort"
	"time"

	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/pkg/logger"
)

// PartitionKey identifies one group of comparable records
type PartitionKey struct {
	Mode       models.PartitionMode
	Branch     int
	Date       time.Time
	DocumentID string
}

// String renders the key as "branch|yyyy-mm-dd" or the document id
func (k PartitionKey) String() string {
	if k.Mode == models.PartitionBranchDate {
		return fmt.Sprintf("%d|%s", k.Branch, k.Date.Format("2006-01-02"))
	}
	return k.DocumentID
}

// Less orders branch+date keys by (date, branch) and document keys by id
func (k PartitionKey) Less(other PartitionKey) bool {
	if k.Mode == models.PartitionBranchDate {
		if !k.Date.Equal(other.Date) {
			return k.Date.Before(other.Date)
		}
		return k.Branch < other.Branch
	}
	return k.DocumentID < other.DocumentID
}

// Partition holds the records of both ledgers that share a key, each side
// in input order.
type Partition struct {
	Key PartitionKey
	A   []*models.NormalizedRecord
	B   []*models.NormalizedRecord
}

// PartitionSet is the ordered list of partitions of one run
type PartitionSet struct {
	Mode       models.PartitionMode
	Partitions []*Partition
	Excluded   map[models.Side]int
}

// Partitioner groups records by the join key of its mode
type Partitioner struct {
	mode   models.PartitionMode
	logger logger.Logger
}

// NewPartitioner creates a partitioner for the given mode
func NewPartitioner(mode models.PartitionMode) *Partitioner {
	return &Partitioner{
		mode:   mode,
		logger: logger.GetGlobalLogger().WithComponent("partitioner"),
	}
}

// KeyOf returns the partition key of r, or false when r lacks the fields
// the mode needs.
func (p *Partitioner) KeyOf(r *models.NormalizedRecord) (PartitionKey, bool) {
	switch p.mode {
	case models.PartitionBranchDate:
		if r.Branch == nil || !r.HasDate() {
			return PartitionKey{}, false
		}
		return PartitionKey{Mode: p.mode, Branch: *r.Branch, Date: r.Date}, true
	case models.PartitionDocument:
		if r.DocumentID == "" {
			return PartitionKey{}, false
		}
		return PartitionKey{Mode: p.mode, DocumentID: r.DocumentID}, true
	}
	return PartitionKey{}, false
}

// Partition groups both ledgers. Keys are the sorted union of the keys
// present on either side.
func (p *Partitioner) Partition(a, b []*models.NormalizedRecord) *PartitionSet {
	set := &PartitionSet{
		Mode:     p.mode,
		Excluded: map[models.Side]int{models.SideA: 0, models.SideB: 0},
	}
	byKey := make(map[string]*Partition)

	add := func(records []*models.NormalizedRecord, side models.Side) {
		for _, r := range records {
			key, ok := p.KeyOf(r)
			if !ok {
				set.Excluded[side]++
				continue
			}
			part, exists := byKey[key.String()]
			if !exists {
				part = &Partition{Key: key}
				byKey[key.String()] = part
				set.Partitions = append(set.Partitions, part)
			}
			if side == models.SideA {
				part.A = append(part.A, r)
			} else {
				part.B = append(part.B, r)
			}
		}
	}
	add(a, models.SideA)
	add(b, models.SideB)

	sort.SliceStable(set.Partitions, func(i, j int) bool {
		return set.Partitions[i].Key.Less(set.Partitions[j].Key)
	})

	p.logger.WithFields(logger.Fields{
		"mode":       p.mode,
		"partitions": len(set.Partitions),
		"excluded_a": set.Excluded[models.SideA],
		"excluded_b": set.Excluded[models.SideB],
	}).Debug("Partitioned ledgers")

	return set
}
