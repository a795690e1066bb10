package normalizer

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	plainDecimal = regexp.MustCompile(`^\d+\.\d+$`)
	nonDigits    = regexp.MustCompile(`\D`)
)

// wholeUnitDigits is the longest bare digit run read as whole currency
// units; longer runs are read as cents.
const wholeUnitDigits = 3

// ParseAmount parses Brazilian monetary text such as "R$ 1.234,56",
// "150.00", "250" (whole units) or "15000" (cents).
func ParseAmount(raw string) decimal.NullDecimal {
	s := strings.TrimSpace(raw)
	if s == "" || s == "-" {
		return decimal.NullDecimal{}
	}

	s = strings.ReplaceAll(s, "R$", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")

	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
		return fromString(s)
	}

	if plainDecimal.MatchString(s) {
		return fromString(s)
	}

	digits := nonDigits.ReplaceAllString(s, "")
	if digits == "" {
		return decimal.NullDecimal{}
	}
	n, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.NullDecimal{}
	}
	if len(digits) <= wholeUnitDigits {
		return decimal.NewNullDecimal(n)
	}
	return decimal.NewNullDecimal(n.Shift(-2))
}

// ParseAmountValue accepts numeric cells directly and falls back to
// ParseAmount for text.
func ParseAmountValue(v interface{}) decimal.NullDecimal {
	switch t := v.(type) {
	case nil:
		return decimal.NullDecimal{}
	case decimal.Decimal:
		return decimal.NewNullDecimal(t)
	case decimal.NullDecimal:
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(decimal.NewFromFloat(t))
	case float32:
		return ParseAmountValue(float64(t))
	case int:
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(t)))
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(t))
	case json.Number:
		return fromString(t.String())
	case string:
		return ParseAmount(t)
	default:
		return ParseAmount(CellText(t))
	}
}

func fromString(s string) decimal.NullDecimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// FormatAmount renders "R$ 1.234,56"; invalid amounts render as "-".
func FormatAmount(amount decimal.NullDecimal) string {
	if !amount.Valid {
		return "-"
	}
	return FormatDecimal(amount.Decimal)
}

// FormatDecimal renders a present amount in the BRL display convention
func FormatDecimal(d decimal.Decimal) string {
	fixed := d.StringFixed(2)

	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}

	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	return "R$ " + sign + b.String() + "," + frac
}
