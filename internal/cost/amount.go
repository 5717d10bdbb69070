// Package cost tracks what an episode spends on external calls and enforces
// its budget.
//
// Amounts are held as integer ten-thousandths of a dollar so that summing
// many small entries cannot drift. Totals are reported rounded to cents.
package cost

import "math"

// Amount is a quantity of USD in units of 1/10000 dollar.
type Amount int64

// FromUSD converts dollars to an Amount, rounding half away from zero.
func FromUSD(usd float64) Amount {
	return Amount(math.Round(usd * 10000))
}

// USD returns the amount in dollars at full precision.
func (a Amount) USD() float64 {
	return float64(a) / 10000
}

// Cents returns the amount rounded half up to whole cents.
func (a Amount) Cents() int64 {
	if a >= 0 {
		return (int64(a) + 50) / 100
	}
	return -((-int64(a) + 50) / 100)
}

// Rounded returns the amount in dollars rounded to cents.
func (a Amount) Rounded() float64 {
	return float64(a.Cents()) / 100
}

// RoundUSD rounds dollars to cents.
func RoundUSD(usd float64) float64 {
	return FromUSD(usd).Rounded()
}
