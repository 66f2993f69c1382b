// Package ledger provides the numeric and time primitives shared by every
// protocol pool: exact decimal amounts, monotonic elapsed time, lazy accrual
// and identifier generation.
package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept when an operation has to
// round (division, square root). Results are truncated toward zero.
const Scale int32 = 18

var (
	// Zero is the additive identity, exported for readability at call sites.
	Zero = decimal.Zero

	// ErrNegativeAmount is returned when parsing a negative amount.
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// Parse converts a decimal string into an amount. Negative values are rejected.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", s, ErrNegativeAmount)
	}
	return d, nil
}

// MustParse is Parse for constants and tests. It panics on bad input.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DivDown divides a by b and truncates the quotient at Scale digits.
// b must not be zero.
func DivDown(a, b decimal.Decimal) decimal.Decimal {
	q, _ := a.QuoRem(b, Scale)
	return q
}

// SqrtDown returns the square root of x truncated at Scale digits.
// Negative input yields zero.
func SqrtDown(x decimal.Decimal) decimal.Decimal {
	if x.Sign() <= 0 {
		return Zero
	}
	// sqrt(x * 10^(2*Scale)) * 10^(-Scale) keeps the root exact to Scale digits.
	scaled := x.Shift(2 * Scale).BigInt()
	root := new(big.Int).Sqrt(scaled)
	return decimal.NewFromBigInt(root, -Scale)
}

// MinOf returns the smaller of a and b.
func MinOf(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Positive reports whether d is strictly greater than zero.
func Positive(d decimal.Decimal) bool {
	return d.Sign() > 0
}
