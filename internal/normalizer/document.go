package normalizer

import "strings"

// DocumentIDLength is the digit count of a CPF
const DocumentIDLength = 11

// NormalizeDocumentID keeps the digits of raw and left-pads them to eleven.
// Anything that does not end up as exactly eleven digits is rejected.
func NormalizeDocumentID(raw string) (string, bool) {
	digits := nonDigits.ReplaceAllString(raw, "")
	if digits == "" {
		return "", false
	}
	if len(digits) < DocumentIDLength {
		digits = strings.Repeat("0", DocumentIDLength-len(digits)) + digits
	}
	if len(digits) != DocumentIDLength {
		return "", false
	}
	return digits, true
}

// FormatDocumentID renders eleven digits as ###.###.###-##, or "-".
func FormatDocumentID(digits string) string {
	if len(digits) != DocumentIDLength || nonDigits.MatchString(digits) {
		return "-"
	}
	return digits[0:3] + "." + digits[3:6] + "." + digits[6:9] + "-" + digits[9:11]
}
