// Package core provides amount parsing and formatting.
//
// Amounts are kept as the numeric strings Directus returns and are only
// turned into decimals when totals are computed or a form is validated.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string to a decimal.Decimal.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators.
// Negative values are rejected: the entry type carries the sign.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,34") -> 12.34, nil
//	ParseAmount("abc")   -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := ParseStoredAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseStoredAmount reads an amount already saved in Directus. Any number
// decimal accepts is kept, including negative values and exponents; only
// non-numeric text is an error.
func ParseStoredAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders an amount with two decimals and no currency symbol.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
