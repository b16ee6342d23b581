// Package decimal wraps shopspring/decimal with Guaraní conventions.
// Amounts are whole numbers (the Guaraní has no minor unit) and VAT is
// included in the price at the 10% general or 5% reduced rate.
package decimal

import (
	"github.com/shopspring/decimal"
)

// Zero is decimal zero
var Zero = decimal.Zero

// VAT rates in percent
const (
	VATRateGeneral = 10
	VATRateReduced = 5
	VATRateExempt  = 0
)

// FromInt creates a decimal from an integer amount
func FromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// FromString parses a decimal from a string
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustFromString parses a decimal from a string, panics on error
func MustFromString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Mul multiplies two decimals and rounds to a whole amount
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Round(0)
}

// Div divides a by b, rounds to a whole amount. Division by zero
// returns zero rather than panicking.
func Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return Zero
	}
	return a.Div(b).Round(0)
}

// IncludedVAT extracts the VAT contained in a gross amount at the
// given rate: amount * rate / (100 + rate). At the 10% general rate
// this is the familiar amount/11.
func IncludedVAT(amount decimal.Decimal, ratePercent int) decimal.Decimal {
	if ratePercent == 0 {
		return Zero
	}
	rate := decimal.NewFromInt(int64(ratePercent))
	base := decimal.NewFromInt(int64(100 + ratePercent))
	return amount.Mul(rate).Div(base).Round(0)
}

// Sum sums a slice of decimals
func Sum(values []decimal.Decimal) decimal.Decimal {
	result := Zero
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}

// IsPositive returns true if the decimal is greater than zero
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(Zero)
}

// IsNonNegative returns true if the decimal is >= zero
func IsNonNegative(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(Zero)
}

// RoundGs rounds to a whole Guaraní amount
func RoundGs(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}
