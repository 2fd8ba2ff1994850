/*
apply.go - Transactional commit of a change batch

PURPOSE:
  The write half of the two-phase protocol. Runs the staleness guard, then
  commits the batch through one of two paths:

  PREFERRED (atomic): the store's ApplyChangeSet procedure performs the
  staleness re-check, simulation, invariant check, and every write inside
  one database transaction. A rejection means nothing was written; the
  caller may simply re-preview and retry.

  FALLBACK (non-atomic): used only when the store cannot run the atomic
  procedure. One write per change in caller order, then a post-hoc re-read
  and invariant check. A failure here does NOT roll back the writes that
  already landed; such errors are tainted (MayHavePartiallyApplied) and
  callers must reload program state before acting further.

STATE MACHINE:
  Received -> StalenessChecked -> {Rejected(stale)}
                               |> Committing -> {Committed | RejectedInvariant | Failed}

CONCURRENCY:
  Cross-request consistency rests on the staleness guard: optimistic
  concurrency on the locked snapshot, no pessimistic row lock. The atomic
  path closes the remaining race window by re-checking staleness inside
  the same transaction as the writes. The fallback path cannot, which is
  one more reason it is not the production path.
*/
package finance

import "context"

// ApplyInput is one commit request.
type ApplyInput struct {
	ProgramID int64
	Changes   []Change

	// Expected echoes the locked figures the caller previewed against.
	Expected ExpectedLocked

	Tolerance *Tolerance
}

// ApplyResult reports the committed totals.
type ApplyResult struct {
	Projected ProjectedFigures
	Deltas    Deltas

	// Fallback is true when the non-atomic path committed the batch.
	Fallback bool
}

// Apply validates, guards, and commits the batch. On success the program's
// aggregate totals reflect the new item set.
func (e *Engine) Apply(ctx context.Context, in ApplyInput) (*ApplyResult, error) {
	if err := ValidateChanges(in.Changes); err != nil {
		return nil, err
	}

	snap, items, err := e.loadProgramState(ctx, in.ProgramID)
	if err != nil {
		return nil, err
	}

	// Optimistic concurrency: fail fast before any write is attempted.
	if err := GuardSnapshot(in.Expected, snap); err != nil {
		return nil, err
	}

	tol := e.tolerance(in.Tolerance)

	if atomic, ok := e.Store.(AtomicStore); ok {
		return e.applyAtomic(ctx, atomic, in, tol)
	}
	return e.applyFallback(ctx, in, snap, items, tol)
}

// =============================================================================
// PREFERRED PATH - Single authoritative transaction
// =============================================================================

func (e *Engine) applyAtomic(ctx context.Context, store AtomicStore, in ApplyInput, tol Tolerance) (*ApplyResult, error) {
	res, err := store.ApplyChangeSet(ctx, in.ProgramID, in.Changes, in.Expected, tol)
	if err != nil {
		return nil, err
	}
	if !res.Check.OK {
		// Nothing was written; safe to re-preview and retry.
		return nil, res.Check.Violation(false)
	}
	return &ApplyResult{
		Projected: ProjectedFigures{
			Price:  res.Check.ProjectedPrice,
			Margin: res.Check.ProjectedMargin,
			Charge: res.ProjectedCharge,
			Cost:   res.ProjectedCost,
		},
		Deltas: Deltas{
			PriceCents: res.Check.PriceDeltaCents,
			Margin:     res.Check.MarginDelta,
		},
	}, nil
}

// =============================================================================
// FALLBACK PATH - Sequential writes, post-hoc validation, no rollback
// =============================================================================

func (e *Engine) applyFallback(ctx context.Context, in ApplyInput, snap *FinancialSnapshot, items []LineItem, tol Tolerance) (*ApplyResult, error) {
	applied := 0
	for _, c := range in.Changes {
		if err := e.writeChange(ctx, in.ProgramID, c); err != nil {
			if applied > 0 {
				return nil, &PartialWriteError{Applied: applied, Total: len(in.Changes), Cause: err}
			}
			return nil, err
		}
		applied++
	}

	// Re-read everything the writes touched and validate after the fact.
	current, err := e.Store.ActiveItems(ctx, in.ProgramID)
	if err != nil {
		return nil, &PartialWriteError{Applied: applied, Total: len(in.Changes), Cause: err}
	}

	ws := NewWorkingSet(current)
	charge, cost := ws.Totals()
	check := CheckLockedInvariant(charge, cost, snap, tol)
	if !check.OK {
		// The writes are NOT rolled back. Louder than a plain rejection.
		return nil, check.Violation(true)
	}

	if err := e.Store.UpdateProgramTotals(ctx, in.ProgramID, charge, cost); err != nil {
		return nil, &PartialWriteError{Applied: applied, Total: len(in.Changes), Cause: err}
	}

	return &ApplyResult{
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
		Fallback: true,
	}, nil
}

// writeChange performs one direct storage write, mirroring the working-set
// semantics: removes and updates of unknown ids are no-ops, adds re-fetch
// therapy pricing.
func (e *Engine) writeChange(ctx context.Context, programID int64, c Change) error {
	switch c.Kind {
	case ChangeRemove:
		return e.Store.DeactivateItem(ctx, programID, c.ItemID)

	case ChangeUpdate:
		// Re-validate ownership: only items belonging to this program mutate.
		it, err := e.Store.GetItem(ctx, programID, c.ItemID)
		if err != nil {
			return err
		}
		if it == nil || !it.Active {
			return nil // absent or already removed: no-op
		}
		ws := &WorkingSet{}
		if err := ws.applyUpdate(ctx, it, c, e.Store); err != nil {
			return err
		}
		return e.Store.UpdateItem(ctx, *it)

	case ChangeAdd:
		t, err := e.Store.Therapy(ctx, *c.TherapyID)
		if err != nil {
			return err
		}
		if t == nil {
			return &TherapyNotFoundError{TherapyID: *c.TherapyID}
		}
		qty := 1
		if c.Quantity != nil {
			qty = *c.Quantity
		}
		it := LineItem{
			ProgramID: programID,
			TherapyID: t.ID,
			Cost:      t.Cost,
			Charge:    t.Charge,
			Taxable:   t.Taxable,
			Quantity:  qty,
			Active:    true,
		}
		if c.DaysFromStart != nil {
			it.DaysFromStart = *c.DaysFromStart
		}
		if c.DaysBetween != nil {
			it.DaysBetween = *c.DaysBetween
		}
		if c.Instructions != nil {
			it.Instructions = *c.Instructions
		}
		_, err = e.Store.InsertItem(ctx, it)
		return err
	}
	return nil
}
