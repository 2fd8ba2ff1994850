package finance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/program-engine/finance"
)

func TestGuardSnapshot_MatchPasses(t *testing.T) {
	snap := &finance.FinancialSnapshot{FinalTotalPrice: dec("1000"), Margin: dec("40")}

	err := finance.GuardSnapshot(finance.ExpectedLocked{Price: dec("1000"), Margin: dec("40")}, snap)

	assert.NoError(t, err)
}

func TestGuardSnapshot_EquivalentRepresentationsPass(t *testing.T) {
	// GIVEN: The caller echoes "1000.00" against a stored "1000"
	snap := &finance.FinancialSnapshot{FinalTotalPrice: dec("1000"), Margin: dec("40.0")}

	err := finance.GuardSnapshot(finance.ExpectedLocked{Price: dec("1000.00"), Margin: dec("40")}, snap)

	// THEN: Value equality, not string equality
	assert.NoError(t, err)
}

func TestGuardSnapshot_PriceDriftRejected(t *testing.T) {
	// GIVEN: Storage moved one cent since the caller previewed
	snap := &finance.FinancialSnapshot{FinalTotalPrice: dec("1000.01"), Margin: dec("40")}

	err := finance.GuardSnapshot(finance.ExpectedLocked{Price: dec("1000"), Margin: dec("40")}, snap)

	var stale *finance.StaleSnapshotError
	require.ErrorAs(t, err, &stale)
	decEqual(t, dec("1000"), stale.ExpectedPrice)
	decEqual(t, dec("1000.01"), stale.CurrentPrice)
	assert.ErrorIs(t, err, finance.ErrStaleSnapshot)
}

func TestGuardSnapshot_MarginDriftRejected(t *testing.T) {
	// Margin comparison has no tolerance at all
	snap := &finance.FinancialSnapshot{FinalTotalPrice: dec("1000"), Margin: dec("40.01")}

	err := finance.GuardSnapshot(finance.ExpectedLocked{Price: dec("1000"), Margin: dec("40")}, snap)

	assert.ErrorIs(t, err, finance.ErrStaleSnapshot)
}

func TestGuardSnapshot_SubCentPriceDriftPasses(t *testing.T) {
	// Price compares as integer minor units; sub-cent noise rounds away
	snap := &finance.FinancialSnapshot{FinalTotalPrice: dec("1000.001"), Margin: dec("40")}

	err := finance.GuardSnapshot(finance.ExpectedLocked{Price: dec("1000"), Margin: dec("40")}, snap)

	assert.NoError(t, err)
}
