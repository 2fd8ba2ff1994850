package finance_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/program-engine/finance"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// catalog is a map-backed TherapyLookup for simulation tests.
type catalog map[int64]finance.Therapy

func (c catalog) Therapy(_ context.Context, id int64) (*finance.Therapy, error) {
	if t, ok := c[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func testCatalog() catalog {
	return catalog{
		1: {ID: 1, Name: "IV Vitamin Drip", Cost: dec("40"), Charge: dec("100"), Taxable: true, Active: true},
		2: {ID: 2, Name: "Massage", Cost: dec("60"), Charge: dec("150"), Active: true},
		3: {ID: 3, Name: "Consultation", Cost: dec("0"), Charge: dec("250"), Active: true},
	}
}

func item(id, therapyID int64, cost, charge string, qty int) finance.LineItem {
	return finance.LineItem{
		ID:        id,
		TherapyID: therapyID,
		Cost:      dec(cost),
		Charge:    dec(charge),
		Quantity:  qty,
		Active:    true,
	}
}

func intPtr(n int) *int       { return &n }
func int64Ptr(n int64) *int64 { return &n }
func strPtr(s string) *string { return &s }

// =============================================================================
// ORDERING CONTRACT TESTS
// =============================================================================

func TestWorkingSet_RemoveThenUpdate_UpdateIsNoOp(t *testing.T) {
	// GIVEN: One item, removed first in the batch
	ws := finance.NewWorkingSet([]finance.LineItem{item(5, 1, "40", "100", 1)})

	// WHEN: The same batch later updates the removed id
	err := ws.Apply(context.Background(), []finance.Change{
		{Kind: finance.ChangeRemove, ItemID: 5},
		{Kind: finance.ChangeUpdate, ItemID: 5, Quantity: intPtr(3)},
	}, testCatalog())

	// THEN: No error, item stays gone
	require.NoError(t, err)
	assert.Equal(t, 0, ws.Len())
	assert.False(t, ws.Contains(5))
}

func TestWorkingSet_UpdateUnknownID_IsNoOp(t *testing.T) {
	ws := finance.NewWorkingSet([]finance.LineItem{item(1, 1, "40", "100", 1)})

	err := ws.Apply(context.Background(), []finance.Change{
		{Kind: finance.ChangeUpdate, ItemID: 999, Quantity: intPtr(3)},
	}, testCatalog())

	require.NoError(t, err)
	charge, _ := ws.Totals()
	decEqual(t, dec("100"), charge)
}

func TestWorkingSet_RemoveUnknownID_IsNoOp(t *testing.T) {
	ws := finance.NewWorkingSet([]finance.LineItem{item(1, 1, "40", "100", 1)})

	err := ws.Apply(context.Background(), []finance.Change{
		{Kind: finance.ChangeRemove, ItemID: 999},
	}, testCatalog())

	require.NoError(t, err)
	assert.Equal(t, 1, ws.Len())
}

// =============================================================================
// ADD TESTS
// =============================================================================

func TestWorkingSet_Add_StagesUnderNegativeID(t *testing.T) {
	// GIVEN: An empty program
	ws := finance.NewWorkingSet(nil)

	// WHEN: Adding two therapies
	err := ws.Apply(context.Background(), []finance.Change{
		{Kind: finance.ChangeAdd, TherapyID: int64Ptr(1)},
		{Kind: finance.ChangeAdd, TherapyID: int64Ptr(2), Quantity: intPtr(2)},
	}, testCatalog())

	// THEN: Both staged under distinct negative ids with catalog pricing
	require.NoError(t, err)
	assert.Equal(t, 2, ws.Len())
	for _, it := range ws.Items() {
		assert.Negative(t, it.ID)
	}

	charge, cost := ws.Totals()
	decEqual(t, dec("400"), charge) // 100 + 150*2
	decEqual(t, dec("160"), cost)   // 40 + 60*2
}

func TestWorkingSet_Add_UnknownTherapyFailsBatch(t *testing.T) {
	ws := finance.NewWorkingSet(nil)

	err := ws.Apply(context.Background(), []finance.Change{
		{Kind: finance.ChangeAdd, TherapyID: int64Ptr(404)},
	}, testCatalog())

	var tnf *finance.TherapyNotFoundError
	require.ErrorAs(t, err, &tnf)
	assert.Equal(t, int64(404), tnf.TherapyID)
	assert.ErrorIs(t, err, finance.ErrTherapyNotFound)
}

func TestWorkingSet_Add_DefaultsQuantityToOne(t *testing.T) {
	ws := finance.NewWorkingSet(nil)

	require.NoError(t, ws.Apply(context.Background(), []finance.Change{
		{Kind: finance.ChangeAdd, TherapyID: int64Ptr(3)},
	}, testCatalog()))

	items := ws.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Quantity)
}

// =============================================================================
// UPDATE TESTS
// =============================================================================

func TestWorkingSet_Update_OverwritesOnlySuppliedFields(t *testing.T) {
	// GIVEN: An item with instructions and scheduling metadata
	it := item(1, 1, "40", "100", 2)
	it.Instructions = "morning only"
	it.DaysFromStart = 7
	ws := finance.NewWorkingSet([]finance.LineItem{it})

	// WHEN: Updating just the quantity
	require.NoError(t, ws.Apply(context.Background(), []finance.Change{
		{Kind: finance.ChangeUpdate, ItemID: 1, Quantity: intPtr(5)},
	}, testCatalog()))

	// THEN: Everything else survives
	got := ws.Items()[0]
	assert.Equal(t, 5, got.Quantity)
	assert.Equal(t, "morning only", got.Instructions)
	assert.Equal(t, 7, got.DaysFromStart)
	decEqual(t, dec("100"), got.Charge)
}

func TestWorkingSet_Update_TherapyChangeReprices(t *testing.T) {
	// GIVEN: An item priced from therapy 1
	ws := finance.NewWorkingSet([]finance.LineItem{item(1, 1, "40", "100", 1)})

	// WHEN: Swapping it to therapy 2
	require.NoError(t, ws.Apply(context.Background(), []finance.Change{
		{Kind: finance.ChangeUpdate, ItemID: 1, TherapyID: int64Ptr(2)},
	}, testCatalog()))

	// THEN: The item takes the new catalog pricing
	got := ws.Items()[0]
	assert.Equal(t, int64(2), got.TherapyID)
	decEqual(t, dec("150"), got.Charge)
	decEqual(t, dec("60"), got.Cost)
	assert.False(t, got.Taxable)
}

func TestWorkingSet_Update_SameTherapyDoesNotReprice(t *testing.T) {
	// GIVEN: An item whose snapshotted price drifted from the catalog
	ws := finance.NewWorkingSet([]finance.LineItem{item(1, 1, "35", "90", 1)})

	// WHEN: An update that names the same therapy id
	require.NoError(t, ws.Apply(context.Background(), []finance.Change{
		{Kind: finance.ChangeUpdate, ItemID: 1, TherapyID: int64Ptr(1), Instructions: strPtr("pm")},
	}, testCatalog()))

	// THEN: Snapshotted pricing is preserved
	got := ws.Items()[0]
	decEqual(t, dec("90"), got.Charge)
	decEqual(t, dec("35"), got.Cost)
}

// =============================================================================
// CONSTRUCTION AND TOTALS
// =============================================================================

func TestNewWorkingSet_ExcludesInactiveItems(t *testing.T) {
	inactive := item(2, 2, "60", "150", 1)
	inactive.Active = false

	ws := finance.NewWorkingSet([]finance.LineItem{item(1, 1, "40", "100", 1), inactive})

	assert.Equal(t, 1, ws.Len())
	charge, _ := ws.Totals()
	decEqual(t, dec("100"), charge)
}

func TestWorkingSet_TaxableCharge(t *testing.T) {
	taxable := item(1, 1, "40", "100", 2)
	taxable.Taxable = true

	ws := finance.NewWorkingSet([]finance.LineItem{taxable, item(2, 2, "60", "150", 1)})

	decEqual(t, dec("200"), ws.TaxableCharge())
}

func TestWorkingSet_EmptyTotalsAreZero(t *testing.T) {
	ws := finance.NewWorkingSet(nil)
	charge, cost := ws.Totals()
	assert.True(t, charge.IsZero())
	assert.True(t, cost.IsZero())
	assert.True(t, decimal.Zero.Equal(ws.TaxableCharge()))
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidateChanges_RejectsMalformed(t *testing.T) {
	cases := []struct {
		name   string
		change finance.Change
	}{
		{"add without therapy", finance.Change{Kind: finance.ChangeAdd}},
		{"add with zero quantity", finance.Change{Kind: finance.ChangeAdd, TherapyID: int64Ptr(1), Quantity: intPtr(0)}},
		{"update without item id", finance.Change{Kind: finance.ChangeUpdate}},
		{"update with negative quantity", finance.Change{Kind: finance.ChangeUpdate, ItemID: 1, Quantity: intPtr(-1)}},
		{"remove without item id", finance.Change{Kind: finance.ChangeRemove}},
		{"unknown kind", finance.Change{Kind: "replace", ItemID: 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := finance.ValidateChanges([]finance.Change{tc.change})
			assert.True(t, finance.IsMalformed(err), "expected malformed error, got %v", err)
		})
	}
}
