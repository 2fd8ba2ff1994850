package finance_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/meridian/program-engine/finance"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// decEqual compares decimals by value, ignoring representation.
func decEqual(t *testing.T, expected, actual decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, expected.Equal(actual),
		"expected %s, got %s %v", expected, actual, msgAndArgs)
}

// =============================================================================
// TAX TESTS
// =============================================================================

func TestTaxOnTaxableItems_ProratesDiscounts(t *testing.T) {
	// GIVEN: $1000 total charge, $400 of it taxable, $100 discount
	// WHEN: Computing tax at 8.25%
	tax := finance.TaxOnTaxableItems(dec("1000"), dec("400"), dec("-100"), finance.DefaultTaxRate)

	// THEN: 40% of the discount offsets taxable charge: (400 - 40) * 0.0825
	decEqual(t, dec("29.7"), tax)
}

func TestTaxOnTaxableItems_NoDiscount(t *testing.T) {
	tax := finance.TaxOnTaxableItems(dec("1000"), dec("400"), decimal.Zero, finance.DefaultTaxRate)
	decEqual(t, dec("33"), tax)
}

func TestTaxOnTaxableItems_FullyTaxable(t *testing.T) {
	// GIVEN: Everything taxable, discount prorated at 100%
	tax := finance.TaxOnTaxableItems(dec("1000"), dec("1000"), dec("-100"), finance.DefaultTaxRate)
	decEqual(t, dec("74.25"), tax)
}

func TestTaxOnTaxableItems_ZeroWhenNothingTaxable(t *testing.T) {
	decEqual(t, decimal.Zero,
		finance.TaxOnTaxableItems(dec("1000"), decimal.Zero, decimal.Zero, finance.DefaultTaxRate))
	decEqual(t, decimal.Zero,
		finance.TaxOnTaxableItems(decimal.Zero, dec("400"), decimal.Zero, finance.DefaultTaxRate))
	decEqual(t, decimal.Zero,
		finance.TaxOnTaxableItems(dec("-10"), dec("400"), decimal.Zero, finance.DefaultTaxRate))
}

// =============================================================================
// PRICE TESTS
// =============================================================================

func TestProjectedPrice_SumsComponents(t *testing.T) {
	// GIVEN: charge 1000, taxes 29.70, finance charges 25, discounts -100
	price := finance.ProjectedPrice(dec("1000"), dec("29.70"), dec("25"), dec("-100"))
	decEqual(t, dec("954.70"), price)
}

// =============================================================================
// MARGIN TESTS
// =============================================================================

func TestProjectedMargin_ExcludesTaxes(t *testing.T) {
	// GIVEN: price 1100 of which 100 is pass-through tax, cost 600
	margin := finance.ProjectedMargin(dec("1100"), dec("600"), decimal.Zero, dec("100"))

	// THEN: (1000 - 600) / 1000 * 100
	decEqual(t, dec("40"), margin)
}

func TestProjectedMargin_NegativeFinanceChargesAreCost(t *testing.T) {
	// GIVEN: A $50 financing fee absorbed by the seller
	margin := finance.ProjectedMargin(dec("1000"), dec("600"), dec("-50"), decimal.Zero)

	// THEN: (1000 - 650) / 1000 * 100
	decEqual(t, dec("35"), margin)
}

func TestProjectedMargin_PositiveFinanceChargesIgnored(t *testing.T) {
	// Positive finance charges are revenue already inside price; cost unchanged
	margin := finance.ProjectedMargin(dec("1000"), dec("600"), dec("50"), decimal.Zero)
	decEqual(t, dec("40"), margin)
}

func TestProjectedMargin_ZeroWhenNoPreTaxRevenue(t *testing.T) {
	decEqual(t, decimal.Zero, finance.ProjectedMargin(dec("100"), dec("600"), decimal.Zero, dec("100")))
	decEqual(t, decimal.Zero, finance.ProjectedMargin(decimal.Zero, dec("600"), decimal.Zero, decimal.Zero))
}

// =============================================================================
// MARGIN BASIS TESTS
// =============================================================================

func TestMarginBasis_ContractedUsesLockedPrice(t *testing.T) {
	// GIVEN: An active program whose margin was frozen at contract time
	contracted := dec("42")
	p := &finance.Program{Status: finance.StatusActive, StartDate: time.Now()}
	snap := &finance.FinancialSnapshot{
		FinalTotalPrice:    dec("5000"),
		ContractedAtMargin: &contracted,
	}

	// WHEN/THEN: Margin basis is the locked price, not the live projection
	decEqual(t, dec("5000"), finance.MarginBasis(p, snap, dec("5250")))
}

func TestMarginBasis_QuoteUsesProjectedPrice(t *testing.T) {
	p := &finance.Program{Status: finance.StatusQuote}
	snap := &finance.FinancialSnapshot{FinalTotalPrice: dec("5000")}

	decEqual(t, dec("5250"), finance.MarginBasis(p, snap, dec("5250")))
}

func TestMarginBasis_ActiveButUncontractedUsesProjectedPrice(t *testing.T) {
	// Active status alone is not enough; the margin must have been frozen
	p := &finance.Program{Status: finance.StatusActive}
	snap := &finance.FinancialSnapshot{FinalTotalPrice: dec("5000")}

	decEqual(t, dec("5250"), finance.MarginBasis(p, snap, dec("5250")))
}
