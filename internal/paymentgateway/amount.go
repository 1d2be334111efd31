package paymentgateway

import (
	"math"

	"github.com/shopspring/decimal"
)

const minorUnitExponent = 2

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// ToMinorUnits converts a two-decimal amount to the gateway's integer
// representation (kobo for NGN). It refuses any value that would lose
// precision.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, &ConversionError{Amount: amount, Reason: "amount must be positive"}
	}
	minor := amount.Shift(minorUnitExponent)
	if !minor.IsInteger() {
		return 0, &ConversionError{Amount: amount, Reason: "more than 2 decimal places"}
	}
	if minor.GreaterThan(maxMinor) {
		return 0, &ConversionError{Amount: amount, Reason: "amount out of range"}
	}
	return minor.IntPart(), nil
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorUnitExponent)
}
