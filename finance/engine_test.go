package finance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/program-engine/finance"
	"github.com/meridian/program-engine/finance/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================
// The memory store implements Store but not AtomicStore, so every Apply in
// this file exercises the fallback commit path. Atomic-path coverage lives
// in the sqlite package tests.

// newTestEngine seeds one program in a consistent locked state:
// a single item (charge 1000, cost 600), snapshot price 1000, margin 40.
func newTestEngine(t *testing.T) (*finance.Engine, *store.Memory) {
	t.Helper()
	m := store.NewMemory()

	m.PutProgram(finance.Program{
		ID:        1,
		Name:      "Recovery Program",
		Status:    finance.StatusActive,
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	m.PutSnapshot(finance.FinancialSnapshot{
		ProgramID:       1,
		FinalTotalPrice: dec("1000"),
		Margin:          dec("40"),
	})
	m.PutTherapy(finance.Therapy{ID: 1, Name: "Full Package", Cost: dec("600"), Charge: dec("1000"), Active: true})
	m.PutTherapy(finance.Therapy{ID: 2, Name: "Add-On", Cost: dec("100"), Charge: dec("500"), Active: true})
	m.PutItem(finance.LineItem{
		ID: 10, ProgramID: 1, TherapyID: 1,
		Cost: dec("600"), Charge: dec("1000"), Quantity: 1, Active: true,
	})

	return finance.NewEngine(m), m
}

func lockedFigures() finance.ExpectedLocked {
	return finance.ExpectedLocked{Price: dec("1000"), Margin: dec("40")}
}

// =============================================================================
// PREVIEW TESTS
// =============================================================================

func TestPreview_EmptyBatchMatchesLockedFigures(t *testing.T) {
	eng, _ := newTestEngine(t)

	res, err := eng.Preview(context.Background(), finance.PreviewInput{ProgramID: 1})

	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, int64(0), res.Deltas.PriceCents)
	assert.True(t, res.Deltas.Margin.IsZero())
	decEqual(t, dec("1000"), res.Locked.Price)
}

func TestPreview_DriftingBatchRejectedWithDeltas(t *testing.T) {
	// GIVEN: A batch adding a $500 therapy to a locked $1000 program
	eng, _ := newTestEngine(t)

	res, err := eng.Preview(context.Background(), finance.PreviewInput{
		ProgramID: 1,
		Changes:   []finance.Change{{Kind: finance.ChangeAdd, TherapyID: int64Ptr(2)}},
	})

	// THEN: Rejected, with the drift quantified for the caller
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, int64(50000), res.Deltas.PriceCents)
	decEqual(t, dec("1500"), res.Projected.Price)
}

func TestPreview_NeverMutatesStorage(t *testing.T) {
	eng, m := newTestEngine(t)
	ctx := context.Background()

	in := finance.PreviewInput{
		ProgramID: 1,
		Changes: []finance.Change{
			{Kind: finance.ChangeRemove, ItemID: 10},
			{Kind: finance.ChangeAdd, TherapyID: int64Ptr(2)},
		},
	}
	first, err := eng.Preview(ctx, in)
	require.NoError(t, err)

	// Storage unchanged: the original item is still the only active one
	items, err := m.ActiveItems(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(10), items[0].ID)

	// A second identical preview reports identical figures
	second, err := eng.Preview(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.Deltas, second.Deltas)
	assert.Equal(t, first.OK, second.OK)
}

func TestPreview_UnknownProgram(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Preview(context.Background(), finance.PreviewInput{ProgramID: 404})

	assert.ErrorIs(t, err, finance.ErrProgramNotFound)
}

func TestPreview_ProgramWithoutSnapshot(t *testing.T) {
	eng, m := newTestEngine(t)
	m.PutProgram(finance.Program{ID: 2, Name: "No Finances Yet", Status: finance.StatusQuote})

	_, err := eng.Preview(context.Background(), finance.PreviewInput{ProgramID: 2})

	assert.ErrorIs(t, err, finance.ErrSnapshotNotFound)
}

func TestPreview_MalformedBatchRejectedUpFront(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Preview(context.Background(), finance.PreviewInput{
		ProgramID: 1,
		Changes:   []finance.Change{{Kind: finance.ChangeAdd}}, // no therapy id
	})

	assert.True(t, finance.IsMalformed(err))
}

// =============================================================================
// APPLY TESTS - Fallback path semantics
// =============================================================================

func TestApply_NeutralSwapCommits(t *testing.T) {
	// GIVEN: Swapping the item for an identically priced therapy
	eng, m := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.Apply(ctx, finance.ApplyInput{
		ProgramID: 1,
		Changes: []finance.Change{
			{Kind: finance.ChangeRemove, ItemID: 10},
			{Kind: finance.ChangeAdd, TherapyID: int64Ptr(1)},
		},
		Expected: lockedFigures(),
	})

	// THEN: Committed on the fallback path with zero drift
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, int64(0), res.Deltas.PriceCents)

	// The old item is gone, the replacement persisted under a real id
	items, err := m.ActiveItems(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NotEqual(t, int64(10), items[0].ID)
	assert.Positive(t, items[0].ID)

	// Aggregate totals refreshed
	p, err := m.GetProgram(ctx, 1)
	require.NoError(t, err)
	decEqual(t, dec("1000"), p.TotalCharge)
	decEqual(t, dec("600"), p.TotalCost)
}

func TestApply_MetadataOnlyUpdateCommits(t *testing.T) {
	eng, m := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Apply(ctx, finance.ApplyInput{
		ProgramID: 1,
		Changes: []finance.Change{
			{Kind: finance.ChangeUpdate, ItemID: 10, Instructions: strPtr("fasted, am")},
		},
		Expected: lockedFigures(),
	})

	require.NoError(t, err)
	it, err := m.GetItem(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "fasted, am", it.Instructions)
}

func TestApply_StaleSnapshotRejectedBeforeWrites(t *testing.T) {
	// GIVEN: The caller previewed against figures that have since moved
	eng, m := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Apply(ctx, finance.ApplyInput{
		ProgramID: 1,
		Changes:   []finance.Change{{Kind: finance.ChangeRemove, ItemID: 10}},
		Expected:  finance.ExpectedLocked{Price: dec("999"), Margin: dec("40")},
	})

	// THEN: Rejected as stale, nothing written
	assert.ErrorIs(t, err, finance.ErrStaleSnapshot)
	assert.False(t, finance.MayHavePartiallyApplied(err))

	items, _ := m.ActiveItems(ctx, 1)
	assert.Len(t, items, 1)
}

func TestApply_PostWriteViolationIsTainted(t *testing.T) {
	// GIVEN: A batch that drifts the price far outside tolerance
	eng, m := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Apply(ctx, finance.ApplyInput{
		ProgramID: 1,
		Changes:   []finance.Change{{Kind: finance.ChangeAdd, TherapyID: int64Ptr(2)}},
		Expected:  lockedFigures(),
	})

	// THEN: The fallback path rejects AFTER writing; the error says so
	var iv *finance.InvariantViolationError
	require.ErrorAs(t, err, &iv)
	assert.True(t, iv.Partial)
	assert.True(t, finance.MayHavePartiallyApplied(err))

	// The write really did land; callers must reload before acting further
	items, _ := m.ActiveItems(ctx, 1)
	assert.Len(t, items, 2)
}

func TestApply_MidBatchFailureReportsPartialWrite(t *testing.T) {
	// GIVEN: A valid first change followed by an add of an unknown therapy
	eng, m := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Apply(ctx, finance.ApplyInput{
		ProgramID: 1,
		Changes: []finance.Change{
			{Kind: finance.ChangeUpdate, ItemID: 10, Instructions: strPtr("pm")},
			{Kind: finance.ChangeAdd, TherapyID: int64Ptr(404)},
		},
		Expected: lockedFigures(),
	})

	// THEN: The partial-write error counts what landed
	var pw *finance.PartialWriteError
	require.ErrorAs(t, err, &pw)
	assert.Equal(t, 1, pw.Applied)
	assert.Equal(t, 2, pw.Total)
	assert.ErrorIs(t, err, finance.ErrPartialWrite)
	assert.True(t, finance.MayHavePartiallyApplied(err))

	// The first write survived
	it, _ := m.GetItem(ctx, 1, 10)
	assert.Equal(t, "pm", it.Instructions)
}

func TestApply_FirstChangeFailureIsClean(t *testing.T) {
	// An unknown therapy as the FIRST change fails before anything lands
	eng, _ := newTestEngine(t)

	_, err := eng.Apply(context.Background(), finance.ApplyInput{
		ProgramID: 1,
		Changes:   []finance.Change{{Kind: finance.ChangeAdd, TherapyID: int64Ptr(404)}},
		Expected:  lockedFigures(),
	})

	assert.ErrorIs(t, err, finance.ErrTherapyNotFound)
	assert.False(t, finance.MayHavePartiallyApplied(err))
}

func TestApply_RemoveThenUpdateOfSameID(t *testing.T) {
	// GIVEN: A second equally priced item so totals stay inside tolerance
	eng, m := newTestEngine(t)
	ctx := context.Background()
	m.PutItem(finance.LineItem{
		ID: 11, ProgramID: 1, TherapyID: 1,
		Cost: dec("0"), Charge: dec("0"), Quantity: 1, Active: true,
	})

	_, err := eng.Apply(ctx, finance.ApplyInput{
		ProgramID: 1,
		Changes: []finance.Change{
			{Kind: finance.ChangeRemove, ItemID: 11},
			{Kind: finance.ChangeUpdate, ItemID: 11, Quantity: intPtr(5)},
		},
		Expected: lockedFigures(),
	})

	// THEN: The update is a silent no-op; item 11 stays removed
	require.NoError(t, err)
	it, _ := m.GetItem(ctx, 1, 11)
	require.NotNil(t, it)
	assert.False(t, it.Active)
	assert.Equal(t, 1, it.Quantity)
}

func TestApply_WiderToleranceAcceptsDrift(t *testing.T) {
	eng, _ := newTestEngine(t)

	res, err := eng.Apply(context.Background(), finance.ApplyInput{
		ProgramID: 1,
		Changes:   []finance.Change{{Kind: finance.ChangeAdd, TherapyID: int64Ptr(2)}},
		Expected:  lockedFigures(),
		Tolerance: &finance.Tolerance{PriceCents: 100000, MarginPts: dec("100")},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(50000), res.Deltas.PriceCents)
}
