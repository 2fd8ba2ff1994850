/*
preview.go - Read-only dry run of a change batch

PURPOSE:
  Answers "would this batch be accepted?" without persisting anything.
  Reads the locked snapshot and current items fresh from storage, simulates
  the batch, runs the invariant check, and returns projected totals plus
  deltas. An editing UI calls this before offering Apply.

GUARANTEE:
  Preview never mutates storage. Two Previews with identical inputs against
  an unchanged program return identical results.
*/
package finance

import "context"

// Engine orchestrates Preview and Apply against a Store.
type Engine struct {
	Store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{Store: store}
}

// PreviewInput is one read-only simulation request.
type PreviewInput struct {
	ProgramID int64
	Changes   []Change

	// Tolerance overrides the default when non-nil.
	Tolerance *Tolerance
}

// PreviewResult reports what Apply would decide, without committing.
type PreviewResult struct {
	OK        bool
	Locked    LockedFigures
	Projected ProjectedFigures
	Deltas    Deltas
}

// Preview simulates the batch against a fresh read of the program's items
// and locked snapshot.
func (e *Engine) Preview(ctx context.Context, in PreviewInput) (*PreviewResult, error) {
	if err := ValidateChanges(in.Changes); err != nil {
		return nil, err
	}

	snap, items, err := e.loadProgramState(ctx, in.ProgramID)
	if err != nil {
		return nil, err
	}

	ws := NewWorkingSet(items)
	if err := ws.Apply(ctx, in.Changes, e.Store); err != nil {
		return nil, err
	}

	charge, cost := ws.Totals()
	check := CheckLockedInvariant(charge, cost, snap, e.tolerance(in.Tolerance))

	return &PreviewResult{
		OK: check.OK,
		Locked: LockedFigures{
			Price:  snap.FinalTotalPrice,
			Margin: snap.Margin,
		},
		Projected: ProjectedFigures{
			Price:  check.ProjectedPrice,
			Margin: check.ProjectedMargin,
			Charge: charge,
			Cost:   cost,
		},
		Deltas: Deltas{
			PriceCents: check.PriceDeltaCents,
			Margin:     check.MarginDelta,
		},
	}, nil
}

// loadProgramState fetches the snapshot and active items, translating
// missing records into the engine's not-found errors.
func (e *Engine) loadProgramState(ctx context.Context, programID int64) (*FinancialSnapshot, []LineItem, error) {
	program, err := e.Store.GetProgram(ctx, programID)
	if err != nil {
		return nil, nil, err
	}
	if program == nil {
		return nil, nil, ErrProgramNotFound
	}

	snap, err := e.Store.GetSnapshot(ctx, programID)
	if err != nil {
		return nil, nil, err
	}
	if snap == nil {
		return nil, nil, ErrSnapshotNotFound
	}

	items, err := e.Store.ActiveItems(ctx, programID)
	if err != nil {
		return nil, nil, err
	}
	return snap, items, nil
}

func (e *Engine) tolerance(override *Tolerance) Tolerance {
	if override != nil {
		return *override
	}
	return DefaultTolerance()
}
