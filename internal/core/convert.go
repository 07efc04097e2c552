package core

// convert.go turns raw cell text into typed values.
//
// These functions handle the messy reality of user-provided spreadsheets:
//   - Multiple date formats (US, EU, ISO, etc.)
//   - Currency symbols, ISO currency codes and thousand separators in numbers
//   - European decimal commas ("1.234,56")
//   - Excel formula prefixes (="value")
//
// Nothing here fails: unparsable amounts are zero and unparsable dates are the
// zero time, leaving the business rules to decide what an empty value means.

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
)

var currencyMarks = []string{"$", "€", "£", "¥", "USD", "EUR", "MXN", "GBP"}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	// Remove leading '='
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	// Remove any surrounding quotes
	s = strings.Trim(s, `"'`)

	return strings.TrimSpace(s)
}

// Fold normalizes a natural-key value for comparison: diacritics are removed,
// case is folded and runs of whitespace collapse to a single space.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// ParseAmount converts a cell to a decimal amount. It strips currency symbols,
// whitespace and thousands separators, accepts accounting parentheses for
// negatives and European decimal commas. Unparsable input is zero.
func ParseAmount(s string) decimal.Decimal {
	s = CleanCell(s)
	if s == "" {
		return decimal.Zero
	}

	// Detect negative accounting format "(123.45)"
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.ToUpper(s)
	for _, mark := range currencyMarks {
		s = strings.ReplaceAll(s, mark, "")
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}

	s = normalizeSeparators(s)
	if !numericRegex.MatchString(s) {
		return decimal.Zero
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	if negative {
		d = d.Neg()
	}
	return d
}

// normalizeSeparators rewrites thousands and decimal separators so the value
// uses '.' as its only decimal separator.
func normalizeSeparators(s string) string {
	commas := strings.Count(s, ",")
	dots := strings.Count(s, ".")

	switch {
	case commas > 0 && dots > 0:
		// Whichever separator comes last is the decimal one.
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")

	case commas == 1:
		// "1,234" is a thousands group; "12,5", "1234,56" and "0,125" are
		// decimals. A thousands group never follows a zero or more than
		// three digits.
		i := strings.Index(s, ",")
		if intPart := s[:i]; len(s)-i-1 == 3 && len(intPart) >= 1 && len(intPart) <= 3 && intPart[0] != '0' {
			return strings.Replace(s, ",", "", 1)
		}
		return strings.Replace(s, ",", ".", 1)

	case commas > 1:
		return strings.ReplaceAll(s, ",", "")

	case dots > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

// ParseDate converts a cell to a date. Supports multiple date formats and
// handles 2-digit years with a pivot. Unparsable input is the zero time.
func ParseDate(s string) time.Time {
	s = CleanCell(s)
	if s == "" {
		return time.Time{}
	}

	// Try 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	// Try 2-digit year layouts with pivot year adjustment
	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t
		}
	}

	return time.Time{}
}

// ParseKind maps a record-kind cell to a Kind. An empty cell is an origin;
// anything unrecognised is KindUnknown.
func ParseKind(s string) Kind {
	switch Fold(CleanCell(s)) {
	case "", "origin", "origen", "original", "o":
		return KindOrigin
	case "revision", "rev", "r", "ampliacion":
		return KindRevision
	default:
		return KindUnknown
	}
}
