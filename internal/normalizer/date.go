package normalizer

import (
	"strings"
	"time"
)

// dateLayouts are tried in order; day always comes before month.
var dateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2006-01-02",
}

// DisplayDateLayout is how dates appear in the output table
const DisplayDateLayout = "02/01/2006"

// KeyDateLayout is how dates appear inside identity keys
const KeyDateLayout = "2006-01-02"

// ParseDateBR parses a day-first date, ignoring any time-of-day suffix
func ParseDateBR(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "-" {
		return time.Time{}, false
	}
	if i := strings.IndexAny(s, " T"); i > 0 {
		s = s[:i]
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseDateValue accepts time.Time cells directly
func ParseDateValue(v interface{}) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		if t.IsZero() {
			return time.Time{}, false
		}
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	return ParseDateBR(CellText(v))
}
