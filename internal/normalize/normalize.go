// Package normalize coerces raw spreadsheet cell values into the canonical
// forms stored in the staging layer.
//
// It handles the messy reality of tax-bureau spreadsheet exports:
//   - mixed date formats, including Excel serial-number dates
//   - thousands separators (ASCII and full-width) and percent signs
//   - tax rates expressed as exemption text (免税/不征税/免征)
//   - numeric year values coerced upstream into "2023.0" style strings
//
// Normalization never fails a row; values that cannot be coerced keep their
// original text and are counted in the per-column cast statistics.
package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Date layouts tried for string date values, most common export formats first.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"20060102",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006年01月02日",
	"2006年1月2日",
}

// excelEpoch is the zero day of the 1900 Excel date system. Day 1 maps to
// 1899-12-31, with the system's historical leap-year quirk folded in by
// using December 30 as the origin.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// Date parses a date cell into ISO form ("2006-01-02").
// Numeric values inside the plausible serial range are treated as Excel
// serial dates. Returns ok=false when the value cannot be parsed.
func Date(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}

	// Excel serial date: days since the 1900 epoch, possibly fractional.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f > 59 && f < 200000 {
			t := excelEpoch.Add(time.Duration(f * 24 * float64(time.Hour)))
			return t.Format("2006-01-02"), true
		}
	}

	return "", false
}

// Numeric parses a numeric cell after stripping separators and percent
// signs. Returns ok=false for empty or unparseable values.
func Numeric(s string) (decimal.Decimal, bool) {
	s = cleanNumeric(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// taxExemptionTokens are the textual tax-rate values that mean "no tax".
var taxExemptionTokens = map[string]bool{
	"免税":  true,
	"不征税": true,
	"免征":  true,
}

// TaxRate parses a tax-rate cell. isText reports that the cell held a
// recognised exemption token rather than a number; callers decide whether
// those map to zero.
func TaxRate(s string) (d decimal.Decimal, isText bool, ok bool) {
	trimmed := strings.TrimSpace(s)
	if taxExemptionTokens[trimmed] {
		return decimal.Zero, true, false
	}
	d, ok = Numeric(strings.TrimRight(trimmed, "%％"))
	return d, false, ok
}

// cleanNumeric strips thousands separators, full-width variants, and
// percent signs from a numeric string.
func cleanNumeric(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "，", "")
	s = strings.ReplaceAll(s, "%", "")
	s = strings.ReplaceAll(s, "％", "")
	return strings.TrimSpace(s)
}

// Year reduces an arbitrarily formatted year value to its 4-digit form.
// Upstream numeric coercion produces strings like "2023.0"; those collapse
// to "2023". Returns ok=false for values that are not a 4-digit year.
func Year(v string) (string, bool) {
	s := strings.TrimSpace(v)
	if s == "" {
		return "", false
	}

	if strings.Contains(s, ".") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return "", false
		}
		s = strconv.Itoa(int(f))
	}

	if len(s) != 4 {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return s, true
}

// YearFromDate extracts the partition year from an ISO date string.
func YearFromDate(date string) (string, bool) {
	if len(date) < 4 {
		return "", false
	}
	return Year(date[:4])
}

// CleanCell trims whitespace and strips spreadsheet artifacts (formula
// prefixes, surrounding quotes) from a raw cell value.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}
	return strings.Trim(s, `"'`)
}
