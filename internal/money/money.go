// Package money holds the decimal helpers shared by the parser, the bill
// model and the split calculator.
package money

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when no currency is known for a bill.
const DefaultCurrency = money.USD

var (
	nonNumeric    = regexp.MustCompile(`[^0-9.\-]+`)
	amountPrefix  = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)`)
	integerPrefix = regexp.MustCompile(`^-?\d+`)
)

// Clean strips every character that is not a digit, '.' or '-'.
// "$1,234.50" becomes "1234.50".
func Clean(s string) string {
	return nonNumeric.ReplaceAllString(s, "")
}

// ParseAmount parses a price-like string after cleaning it. Only the leading
// numeric run is used, so "12.50.3" is 12.50. Anything unparsable is zero.
func ParseAmount(s string) decimal.Decimal {
	m := amountPrefix.FindString(Clean(s))
	if m == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(m, "."))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseQuantity parses a quantity-like string after cleaning it. Fractions
// are truncated ("1.5" is 1). Anything unparsable is zero.
func ParseQuantity(s string) int {
	m := integerPrefix.FindString(Clean(s))
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// Format renders an amount for display in the default currency, e.g. "$15.17".
func Format(amount decimal.Decimal) string {
	return FormatCurrency(amount, DefaultCurrency)
}

// FormatCurrency renders an amount with the ISO 4217 rules of code. Unknown
// codes fall back to the default currency. Rounding happens here and nowhere
// earlier so that re-edited totals never accumulate rounding error.
func FormatCurrency(amount decimal.Decimal, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if money.GetCurrency(code) == nil {
		code = DefaultCurrency
	}
	places := int32(fraction(code))
	minor := amount.Round(places).Shift(places).IntPart()
	return money.New(minor, code).Display()
}

func fraction(code string) int {
	c := money.GetCurrency(code)
	if c == nil {
		return 2
	}
	return c.Fraction
}
