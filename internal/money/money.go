// Package money provides shared parsing and formatting for platform amounts.
//
// Both currencies (deposit and silver) use 2 decimal places. Amounts are
// carried as decimal.Decimal and serialized as quoted strings ("16.00").
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept for every amount.
const Places = 2

var (
	ErrMalformed = errors.New("malformed amount")
	ErrNegative  = errors.New("amount must not be negative")
	ErrPrecision = errors.New("amount has more than 2 decimal places")
)

// Zero is the canonical zero amount.
var Zero = decimal.Zero

// Parse converts a decimal string (e.g. "1.50") to an amount.
//
// Rules:
//   - Empty string returns zero
//   - Negative amounts are rejected
//   - More than 2 fractional digits are rejected rather than rounded
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrMalformed
	}
	if err := Validate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// MustParse is Parse for constants and tests. It panics on bad input.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic("money: " + s + ": " + err.Error())
	}
	return d
}

// Validate checks an amount is non-negative and representable in cents.
func Validate(d decimal.Decimal) error {
	if d.IsNegative() {
		return ErrNegative
	}
	if !d.Equal(d.Truncate(Places)) {
		return ErrPrecision
	}
	return nil
}

// Format renders an amount with exactly 2 decimal places (e.g. "16.00").
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// Floor rounds toward zero to cents. Used for ratio-derived payouts so the
// platform never pays out more than it collected.
func Floor(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Places)
}

// Min returns the smaller of two amounts.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
