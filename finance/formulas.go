/*
formulas.go - Pure financial calculations

PURPOSE:
  Tax, projected price, and projected margin from raw charge/cost figures.
  Pure functions, no I/O; everything else in the package builds on these.

FORMULAS:
  Tax:    prorate |discounts| across the taxable fraction of revenue,
          subtract from taxable charge, multiply by rate
  Price:  charge + taxes + financeCharges + discounts (discounts <= 0)
  Margin: ((preTaxRevenue - adjustedCost) / preTaxRevenue) * 100
          where negative finance charges count as added cost

MARGIN BASIS:
  An active program with a contracted margin computes margin against the
  LOCKED final price - the contract froze the price, so margin must reflect
  reality against that frozen number. A quote computes margin against the
  live projected price, which moves as items and discounts change.

SEE ALSO:
  - invariant.go: uses these figures to detect locked-snapshot drift
*/
package finance

import "github.com/shopspring/decimal"

// DefaultTaxRate is the sales tax rate applied to taxable therapy revenue.
var DefaultTaxRate = decimal.NewFromFloat(0.0825)

var hundred = decimal.NewFromInt(100)

// TaxOnTaxableItems computes tax owed on the taxable portion of a program's
// charge. Discounts are stored non-positive; their magnitude is prorated
// across the taxable fraction of total charge before tax is applied.
//
// Returns zero when there is no charge or no taxable charge.
func TaxOnTaxableItems(totalCharge, taxableCharge, discounts, rate decimal.Decimal) decimal.Decimal {
	if totalCharge.Sign() <= 0 || taxableCharge.Sign() <= 0 {
		return decimal.Zero
	}
	taxableFraction := taxableCharge.Div(totalCharge)
	proratedDiscount := discounts.Abs().Mul(taxableFraction)
	return taxableCharge.Sub(proratedDiscount).Mul(rate)
}

// ProjectedPrice is the price a member would pay: charge plus taxes and
// finance charges, less discounts (which arrive as non-positive values).
func ProjectedPrice(totalCharge, taxes, financeCharges, discounts decimal.Decimal) decimal.Decimal {
	return totalCharge.Add(taxes).Add(financeCharges).Add(discounts)
}

// ProjectedMargin returns the margin percentage for a given price and cost.
// Taxes are pass-through revenue and are excluded before the calculation.
// Negative finance charges are financing fees absorbed by the seller and
// are treated as an added cost.
//
// Returns zero when pre-tax revenue is not positive.
func ProjectedMargin(price, totalCost, financeCharges, taxes decimal.Decimal) decimal.Decimal {
	preTaxRevenue := price.Sub(taxes)
	if preTaxRevenue.Sign() <= 0 {
		return decimal.Zero
	}
	adjustedCost := totalCost
	if financeCharges.Sign() < 0 {
		adjustedCost = totalCost.Add(financeCharges.Abs())
	}
	return preTaxRevenue.Sub(adjustedCost).Div(preTaxRevenue).Mul(hundred)
}

// MarginBasis returns the price a program's margin is computed against:
// the locked final price once the program is active and contracted, the
// live projected price while it is still a quote.
func MarginBasis(p *Program, snap *FinancialSnapshot, projectedPrice decimal.Decimal) decimal.Decimal {
	if p.Contracted(snap) {
		return snap.FinalTotalPrice
	}
	return projectedPrice
}
