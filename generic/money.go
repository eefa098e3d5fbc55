/*
money.go - Decimal money helpers

PURPOSE:
  Every monetary value in the engine is a decimal.Decimal in the school's
  single currency (UZS). No floats touch an amount: values arrive as strings
  from JSON or as integers from code and stay exact through every sum.

USAGE:
  amt, err := generic.ParseAmount("300000")
  left := generic.ClampZero(obligation.Amount.Sub(obligation.PaidAmount))

SEE ALSO:
  - types.go: Obligation / Contribution use these amounts
  - settlement.go: min/clamp arithmetic of the applier
*/
package generic

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the only currency the engine records.
const Currency = "UZS"

// AmountScale is the number of fractional digits kept on stored amounts.
const AmountScale = 2

// MaxAmountDigits bounds the significant digits of a parsed amount,
// fractional digits included.
const MaxAmountDigits = 18

// ParseAmount parses a decimal string. Empty strings and non-numbers are
// rejected; the sign is left to the caller.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, &ValidationError{Field: "amount", Message: "amount is required"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Message: fmt.Sprintf("invalid amount %q", s)}
	}
	if d.Exponent() < -AmountScale {
		return decimal.Zero, &ValidationError{Field: "amount", Message: fmt.Sprintf("amount %q has more than %d decimals", s, AmountScale)}
	}
	// checked on the exponent first so "1e10000000" never gets expanded
	digits := int64(len(d.Abs().Coefficient().String()))
	if exp := int64(d.Exponent()); exp > 0 {
		digits += exp
	}
	if digits > MaxAmountDigits {
		return decimal.Zero, &ValidationError{Field: "amount", Message: fmt.Sprintf("amount has more than %d digits", MaxAmountDigits)}
	}
	return d, nil
}

// MustParseDecimal is for literals in tests and presets.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("invalid decimal literal %q: %v", s, err))
	}
	return d
}

// UZS builds an amount from whole units.
func UZS(units int64) decimal.Decimal {
	return decimal.NewFromInt(units)
}

// ClampZero returns d, or zero when d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Sum adds amounts exactly.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// FormatAmount renders an amount for notes and logs, e.g. "300000 UZS".
func FormatAmount(d decimal.Decimal) string {
	return d.String() + " " + Currency
}
