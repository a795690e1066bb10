// Package normalizer converts raw ledger cells into canonical typed values.
//
// Every function here is pure: no logging, no configuration, no I/O. Invalid
// input yields an explicit "absent" result (a false flag or an invalid
// decimal.NullDecimal); dash placeholders are a presentation concern and never
// leave this package as values.
package normalizer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/drogcidadeinfo/convenios-2/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	nonTokenChars = regexp.MustCompile(`[^A-Z0-9\s]`)
)

// MinTokenLength is the shortest name fragment kept as a token
const MinTokenLength = 2

// StripAccents removes combining marks after compatibility decomposition
func StripAccents(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// NormalizeColumnName folds a header cell so "Data  Emissão " (with a
// non-breaking space) and "data emissao" compare equal.
func NormalizeColumnName(raw string) string {
	s := strings.ReplaceAll(raw, "\u00a0", " ")
	s = StripAccents(strings.TrimSpace(s))
	return strings.ToLower(collapseSpaces(s))
}

// NormalizeNameForKey folds a display name for use inside identity keys
func NormalizeNameForKey(raw string) string {
	return collapseSpaces(strings.ToUpper(StripAccents(raw)))
}

// NameTokens splits a client name into its comparable tokens
func NameTokens(raw string) models.TokenSet {
	s := strings.ToUpper(StripAccents(raw))
	s = nonTokenChars.ReplaceAllString(s, " ")
	tokens := models.NewTokenSet()
	for _, tok := range strings.Fields(s) {
		if len(tok) >= MinTokenLength {
			tokens[tok] = struct{}{}
		}
	}
	return tokens
}

// CellText renders a typed cell as text without scientific notation, so
// numeric document ids and branches survive the trip through JSON.
func CellText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case json.Number:
		return t.String()
	case decimal.Decimal:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// ParseBranch reads a branch code such as "12", " 12 " or "12.0".
// Non-integral or empty values are absent.
func ParseBranch(v interface{}) (int, bool) {
	s := strings.TrimSpace(CellText(v))
	if s == "" || s == "-" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() {
		return 0, false
	}
	return int(d.IntPart()), true
}
