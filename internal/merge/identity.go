// Package merge turns match results into the persisted result table while
// keeping the status and annotation edits reviewers made in earlier runs.
//
// Every row gets an identity key built from the fields that do not change
// between runs for the same underlying records: branch, document id or date,
// both display names and both display amounts. Status and annotation are
// never part of the key, so editing them does not orphan the row.
package merge

import (
	"strconv"
	"strings"

	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/drogcidadeinfo/convenios-2/internal/normalizer"
)

// IdentityFields are the display cells that identify a row across runs
type IdentityFields struct {
	Branch  string
	Key     string
	NameA   string
	AmountA string
	NameB   string
	AmountB string
}

// BuildIdentityKey renders branch|key|NAME_A|amountA|NAME_B|amountB.
// Names are folded, amounts are re-parsed and fixed to two decimals, and
// absent values ("-" or empty) become empty segments.
func BuildIdentityKey(f IdentityFields) string {
	parts := []string{
		identityBranch(f.Branch),
		strings.TrimSpace(f.Key),
		identityName(f.NameA),
		identityAmount(f.AmountA),
		identityName(f.NameB),
		identityAmount(f.AmountB),
	}
	return strings.Join(parts, "|")
}

// RowIdentity returns the identity fields of a freshly computed row
func RowIdentity(row *models.OutputRow) IdentityFields {
	return IdentityFields{
		Branch:  models.FormatBranch(row.Branch),
		Key:     row.Key,
		NameA:   row.NameA,
		AmountA: row.AmountA,
		NameB:   row.NameB,
		AmountB: row.AmountB,
	}
}

// CellsIdentity reads the identity fields of a persisted row. The key cell
// must parse as a document id or a date depending on mode.
func CellsIdentity(cells []string, mode models.PartitionMode) (IdentityFields, bool) {
	if len(cells) < models.OutputColumns {
		return IdentityFields{}, false
	}

	var key string
	switch mode {
	case models.PartitionDocument:
		digits, ok := normalizer.NormalizeDocumentID(cells[1])
		if !ok {
			return IdentityFields{}, false
		}
		key = digits
	case models.PartitionBranchDate:
		date, ok := normalizer.ParseDateBR(cells[1])
		if !ok {
			return IdentityFields{}, false
		}
		key = date.Format(normalizer.KeyDateLayout)
	default:
		return IdentityFields{}, false
	}

	return IdentityFields{
		Branch:  cells[0],
		Key:     key,
		NameA:   cells[2],
		AmountA: cells[3],
		NameB:   cells[4],
		AmountB: cells[5],
	}, true
}

func identityBranch(raw string) string {
	branch, ok := normalizer.ParseBranch(raw)
	if !ok {
		return ""
	}
	return strconv.Itoa(branch)
}

func identityName(raw string) string {
	name := normalizer.NormalizeNameForKey(raw)
	if name == "-" {
		return ""
	}
	return name
}

func identityAmount(raw string) string {
	amount := normalizer.ParseAmount(raw)
	if !amount.Valid {
		return ""
	}
	return amount.Decimal.StringFixed(2)
}
