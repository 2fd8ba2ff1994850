package finance

import "github.com/shopspring/decimal"

// =============================================================================
// MONEY HELPERS - Minor-unit conversion for tolerance comparison
// =============================================================================

// Cents converts a currency amount to integer minor units, rounding half
// away from zero. Price comparisons always happen in this space; raw
// decimal (let alone binary float) differencing is never used for
// tolerance checks.
func Cents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// CentsDelta returns a minus b in minor units. Converting each side before
// differencing keeps a half-cent representation wobble on both sides from
// showing up as a full-cent delta.
func CentsDelta(a, b decimal.Decimal) int64 {
	return Cents(a) - Cents(b)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
