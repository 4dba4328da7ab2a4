// Package money converts between fractional currency amounts and the
// integer micro-unit representation stored in the balance counter.
// All functions are pure.
package money

import "math"

// MicrosPerUnit is the fixed-point scale: one currency unit is one
// million micro-units.
const MicrosPerUnit = 1_000_000

// ToMicros encodes a currency amount as integer micro-units.
// Encoding rounds up so a debit is never smaller than the amount owed.
func ToMicros(amount float64) int64 {
	return int64(math.Ceil(amount * MicrosPerUnit))
}

// FromMicros decodes a stored micro-unit counter value into a currency
// amount.
func FromMicros(v int64) float64 {
	return float64(v) / MicrosPerUnit
}

// PerSecond converts a per-minute rate into a per-second rate.
func PerSecond(ratePerMinute float64) float64 {
	return ratePerMinute / 60
}
