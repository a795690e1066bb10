package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/drogcidadeinfo/convenios-2/internal/models"
)

// InstallmentStyle names how a ledger encodes partial payments
type InstallmentStyle string

const (
	// StyleNone disables installment extraction for a ledger
	StyleNone InstallmentStyle = ""
	// StyleFraction reads "PARCELA 8/10" or "8/10"
	StyleFraction InstallmentStyle = "fraction"
	// StyleNumber reads a bare sequence number such as "7"
	StyleNumber InstallmentStyle = "number"
)

// IsValid checks if the style is supported
func (s InstallmentStyle) IsValid() bool {
	return s == StyleNone || s == StyleFraction || s == StyleNumber
}

var (
	fractionPattern = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)
	integerPattern  = regexp.MustCompile(`\d+`)
)

// ParseInstallment extracts the sequence number and a display label
func ParseInstallment(raw string, style InstallmentStyle) (models.Installment, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || s == "-" || style == StyleNone {
		return models.Installment{}, false
	}

	if style == StyleFraction {
		if m := fractionPattern.FindStringSubmatch(s); m != nil {
			n, errN := strconv.Atoi(m[1])
			total, errT := strconv.Atoi(m[2])
			if errN == nil && errT == nil {
				return models.Installment{Number: n, Label: fmt.Sprintf("PARCELA %d/%d", n, total)}, true
			}
		}
	}

	m := integerPattern.FindString(s)
	if m == "" {
		return models.Installment{}, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return models.Installment{}, false
	}
	return models.Installment{Number: n, Label: fmt.Sprintf("PARCELA %d", n)}, true
}
