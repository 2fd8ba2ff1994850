/*
invariant.go - Locked-snapshot drift detection

PURPOSE:
  Compares simulated totals against a program's locked financial snapshot.
  Price drift is measured in integer minor currency units, margin drift in
  percentage points; each has its own tolerance.

WHY MINOR UNITS:
  Prices are converted to integer cents before differencing. Comparing raw
  decimal (or worse, binary float) values against a tolerance invites
  representation noise; integers cannot wobble.

MARGIN DURING ITEM EDITS:
  The contractual price does not move when items change - only cost can.
  Margin is therefore always re-derived against the LOCKED price here:
  ((lockedPrice - projectedCost) / lockedPrice) * 100.
*/
package finance

import "github.com/shopspring/decimal"

// =============================================================================
// TOLERANCE
// =============================================================================

// Tolerance bounds the allowed drift between locked and projected figures
// before a change batch is rejected.
type Tolerance struct {
	PriceCents int64           // integer minor currency units
	MarginPts  decimal.Decimal // percentage points
}

// DefaultTolerance is one cent of price drift and a tenth of a margin point.
func DefaultTolerance() Tolerance {
	return Tolerance{
		PriceCents: 1,
		MarginPts:  decimal.NewFromFloat(0.1),
	}
}

// =============================================================================
// INVARIANT CHECK
// =============================================================================

// CheckResult reports projected figures and their drift from the locked
// snapshot. Deltas are populated on both pass and fail.
type CheckResult struct {
	OK bool

	ProjectedPrice  decimal.Decimal
	ProjectedMargin decimal.Decimal

	PriceDeltaCents int64
	MarginDelta     decimal.Decimal
}

// CheckLockedInvariant verifies that a simulated (charge, cost) pair keeps
// the program within tolerance of its locked snapshot.
//
// Projected price is charge plus finance charges plus discounts; taxes are
// not re-derived during item edits. Projected margin is computed against
// the locked price (zero when the locked price is not positive).
func CheckLockedInvariant(projectedCharge, projectedCost decimal.Decimal, snap *FinancialSnapshot, tol Tolerance) CheckResult {
	projectedPrice := projectedCharge.Add(snap.FinanceCharges).Add(snap.Discounts)

	projectedMargin := decimal.Zero
	if snap.FinalTotalPrice.Sign() > 0 {
		projectedMargin = snap.FinalTotalPrice.Sub(projectedCost).
			Div(snap.FinalTotalPrice).Mul(hundred)
	}

	res := CheckResult{
		ProjectedPrice:  projectedPrice,
		ProjectedMargin: projectedMargin,
		PriceDeltaCents: CentsDelta(projectedPrice, snap.FinalTotalPrice),
		MarginDelta:     projectedMargin.Sub(snap.Margin),
	}
	res.OK = absInt64(res.PriceDeltaCents) <= tol.PriceCents &&
		res.MarginDelta.Abs().LessThanOrEqual(tol.MarginPts)
	return res
}

// Violation converts a failed check into its error form. Partial marks
// fallback-path failures raised after writes already landed.
func (r CheckResult) Violation(partial bool) *InvariantViolationError {
	return &InvariantViolationError{
		PriceDeltaCents: r.PriceDeltaCents,
		MarginDelta:     r.MarginDelta,
		Partial:         partial,
	}
}
