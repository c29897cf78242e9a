package util

import (
	"regexp"
	"strconv"
	"strings"
)

func SafeAtoi(s string) int {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return i
}

var nonNumericRegex = regexp.MustCompile(`[^\d]`)

func CleanNumericString(s string) string {
	return nonNumericRegex.ReplaceAllString(s, "")
}

// priceRegex matches the first money-looking number, with or without a
// currency symbol and thousands separators.
var priceRegex = regexp.MustCompile(`[$€£]?\s*([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]+)?|[0-9]+(?:\.[0-9]+)?)`)

// ParsePrice extracts a positive price from free-form text such as
// "$1,234.56" or "Last Bottle $39.99". Returns false when no positive
// number is found.
func ParsePrice(s string) (float64, bool) {
	m := priceRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

var vintageRegex = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// ParseVintage returns the first plausible vintage year in s, or 0.
func ParseVintage(s string) int {
	m := vintageRegex.FindString(s)
	if m == "" {
		return 0
	}
	return SafeAtoi(m)
}

// StripVintage removes the vintage year from a title, collapsing the
// leftover whitespace. Used to build the overall (non-vintage) catalog
// query.
func StripVintage(s string) string {
	out := vintageRegex.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(out), " ")
}
