package core

import (
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// ParseAmount Tests
// ----------------------------------------------------------------------------

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string // String representation of expected decimal value
	}{
		// Basic integers and decimals
		{name: "positive integer", input: "123", want: "123"},
		{name: "zero", input: "0", want: "0"},
		{name: "negative integer", input: "-456", want: "-456"},
		{name: "decimal number", input: "123.45", want: "123.45"},
		{name: "leading decimal point", input: ".99", want: "0.99"},

		// Currency symbols and codes
		{name: "dollar sign", input: "$1,234.56", want: "1234.56"},
		{name: "euro sign", input: "€1234.56", want: "1234.56"},
		{name: "pound sign", input: "£1234.56", want: "1234.56"},
		{name: "iso code suffix", input: "1500.00 MXN", want: "1500"},
		{name: "iso code prefix lowercase", input: "usd 20", want: "20"},

		// Thousands separators
		{name: "thousands separator", input: "1,234,567.89", want: "1234567.89"},
		{name: "millions with separators", input: "1,000,000", want: "1000000"},
		{name: "single comma thousands group", input: "1,234", want: "1234"},
		{name: "space thousands separator", input: "1 234 567", want: "1234567"},

		// European formats
		{name: "european decimal comma", input: "1.234,56", want: "1234.56"},
		{name: "comma decimal", input: "12,5", want: "12.5"},
		{name: "comma decimal two places", input: "1234,56", want: "1234.56"},
		{name: "comma decimal after zero", input: "0,125", want: "0.125"},
		{name: "negative comma decimal after zero", input: "-0,125", want: "-0.125"},
		{name: "comma decimal after four digits", input: "1234,567", want: "1234.567"},
		{name: "dot thousands groups", input: "1.234.567", want: "1234567"},

		// Accounting format (parentheses for negative)
		{name: "accounting negative parentheses", input: "(123.45)", want: "-123.45"},
		{name: "accounting negative with currency", input: "($1,234.56)", want: "-1234.56"},
		{name: "accounting negative with spaces", input: "( 999.99 )", want: "-999.99"},

		// Scientific notation
		{name: "scientific notation", input: "1.5e3", want: "1500"},

		// Spreadsheet artifacts
		{name: "excel formula prefix", input: `="250.00"`, want: "250"},
		{name: "surrounding whitespace", input: "  42  ", want: "42"},

		// Unparsable input is zero
		{name: "empty", input: "", want: "0"},
		{name: "whitespace only", input: "   ", want: "0"},
		{name: "text", input: "abc", want: "0"},
		{name: "mixed garbage", input: "12abc", want: "0"},
		{name: "currency only", input: "$", want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAmount(tt.input)
			if got.String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got.String(), tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseDate Tests
// ----------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantZero bool
		wantDate string // YYYY-MM-DD
	}{
		// ISO formats
		{name: "iso date", input: "2024-03-15", wantDate: "2024-03-15"},
		{name: "iso datetime", input: "2024-03-15T10:30:00", wantDate: "2024-03-15"},
		{name: "rfc3339", input: "2024-03-15T10:30:00Z", wantDate: "2024-03-15"},
		{name: "sql datetime", input: "2024-03-15 10:30:00", wantDate: "2024-03-15"},
		{name: "slash year first", input: "2024/03/15", wantDate: "2024-03-15"},
		{name: "compact", input: "20240315", wantDate: "2024-03-15"},

		// US formats
		{name: "us with slashes", input: "03/15/2024", wantDate: "2024-03-15"},
		{name: "us single digits", input: "3/5/2024", wantDate: "2024-03-05"},

		// Written formats
		{name: "month name", input: "Mar 15, 2024", wantDate: "2024-03-15"},
		{name: "day month year", input: "15 Mar 2024", wantDate: "2024-03-15"},

		// Excel artifacts
		{name: "formula prefix", input: `="2024-03-15"`, wantDate: "2024-03-15"},

		// Invalid
		{name: "empty", input: "", wantZero: true},
		{name: "text", input: "not a date", wantZero: true},
		{name: "impossible month", input: "2024-13-01", wantZero: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDate(tt.input)
			if tt.wantZero {
				if !got.IsZero() {
					t.Errorf("ParseDate(%q) = %v, want zero time", tt.input, got)
				}
				return
			}
			if got.Format("2006-01-02") != tt.wantDate {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.input, got.Format("2006-01-02"), tt.wantDate)
			}
		})
	}
}

func TestParseDate_TwoDigitYear(t *testing.T) {
	pivot := time.Now().Year() + TwoDigitYearPivot

	got := ParseDate("1/2/99")
	if got.IsZero() {
		t.Fatal("ParseDate(1/2/99) returned zero time")
	}
	if got.Year() > pivot {
		t.Errorf("year %d is beyond pivot %d", got.Year(), pivot)
	}
	if got.Year() != 1999 {
		t.Errorf("ParseDate(1/2/99) year = %d, want 1999", got.Year())
	}

	got = ParseDate("1/2/24")
	if got.Year() != 2024 {
		t.Errorf("ParseDate(1/2/24) year = %d, want 2024", got.Year())
	}
}

// ----------------------------------------------------------------------------
// ParseKind Tests
// ----------------------------------------------------------------------------

func TestParseKind(t *testing.T) {
	tests := []struct {
		input string
		want  Kind
	}{
		{"", KindOrigin},
		{"ORIGIN", KindOrigin},
		{"origen", KindOrigin},
		{"Original", KindOrigin},
		{"o", KindOrigin},
		{"REVISION", KindRevision},
		{"Revisión", KindRevision},
		{"rev", KindRevision},
		{"Ampliación", KindRevision},
		{"adjustment", KindUnknown},
		{"X", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseKind(tt.input); got != tt.want {
				t.Errorf("ParseKind(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// Fold Tests
// ----------------------------------------------------------------------------

func TestFold(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Seguros Atlántico", "seguros atlantico"},
		{"  ACME   Insurance ", "acme insurance"},
		{"Ñandú", "nandu"},
		{"José\tPérez", "jose perez"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Fold(tt.input); got != tt.want {
				t.Errorf("Fold(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain text", input: "hello", want: "hello"},
		{name: "trims whitespace", input: "  hello  ", want: "hello"},
		{name: "excel formula string", input: `="00123"`, want: "00123"},
		{name: "formula prefix", input: "=SUM", want: "SUM"},
		{name: "double quotes", input: `"quoted"`, want: "quoted"},
		{name: "single quotes", input: `'quoted'`, want: "quoted"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
