package domain

import (
	"github.com/shopspring/decimal"

	dErrors "trustcore/pkg/domain-errors"
)

// BasisPoints expresses a ratio in 1/10000 units. 10000 bp = 100%.
type BasisPoints uint32

// BasisPointsDenominator is the value of 100% in basis points.
const BasisPointsDenominator = 10000

var bpDenominator = decimal.NewFromInt(BasisPointsDenominator)

// Valid reports whether b lies within [0, 100%].
func (b BasisPoints) Valid() bool {
	return b <= BasisPointsDenominator
}

// Of returns floor(amount * b / 10000). Protocol amounts are integral base
// units, so fractional results are always rounded toward zero.
func (b BasisPoints) Of(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(b))).Div(bpDenominator).Floor()
}

// Decimal returns b as a plain decimal number of basis points.
func (b BasisPoints) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(b))
}

// ParseAmount parses a base-unit amount. Amounts must be integral and
// non-negative; positivity is a rule of the individual operation.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidInput, "invalid amount")
	}
	if d.IsNegative() {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidInput, "amount cannot be negative")
	}
	if !d.IsInteger() {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidInput, "amount must be a whole number of base units")
	}
	return d, nil
}
