// Package money holds amounts in integer minor units (cents).
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor units. It marshals to JSON as a decimal
// number with two fractional digits ("59.99").
type Money int64

const minorExp = -2

// FromDecimal converts a major-unit decimal, rejecting sub-cent precision.
func FromDecimal(d decimal.Decimal) (Money, error) {
	minor := d.Shift(-minorExp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than 2 fractional digits", d.String())
	}
	return Money(minor.IntPart()), nil
}

// Parse reads a major-unit string such as "19.99".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), minorExp)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Float64 is for metrics only; never feed it back into arithmetic.
func (m Money) Float64() float64 {
	f, _ := m.Decimal().Float64()
	return f
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	v, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Sum adds amounts.
func Sum(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		total += a
	}
	return total
}
