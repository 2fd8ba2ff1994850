/*
workingset.go - In-memory simulation of a line-item change batch

PURPOSE:
  Builds a copy of a program's current active line items, applies a batch
  of proposed changes to the copy, and recomputes aggregate charge/cost.
  Storage is never touched; this is the dry-run half of the two-phase
  preview/commit protocol.

ORDERING CONTRACT:
  Changes apply in strict caller order. A remove of id 5 followed by an
  update of id 5 succeeds with item 5 absent - the update is a no-op, not
  an error. Removes and updates of unknown ids are likewise no-ops. Only
  an add referencing a missing therapy fails the whole batch.

STAGED ADDS:
  Not-yet-persisted adds are keyed under synthetic negative ids allocated
  from a local counter. Persisted ids are positive, so collisions are
  impossible. Temporary ids never leak past the Preview/Apply boundary.
*/
package finance

import (
	"context"

	"github.com/shopspring/decimal"
)

// TherapyLookup resolves therapy ids referenced by add/update changes.
// Implementations return (nil, nil) when the therapy does not exist.
type TherapyLookup interface {
	Therapy(ctx context.Context, id int64) (*Therapy, error)
}

// WorkingSet is the ephemeral post-simulation view of a program's line
// items. It exists only during one Preview or Apply call.
type WorkingSet struct {
	items    map[int64]LineItem
	nextTemp int64
}

// NewWorkingSet clones the given items into a fresh working set. Inactive
// items are excluded; they contribute nothing to projected totals.
func NewWorkingSet(items []LineItem) *WorkingSet {
	ws := &WorkingSet{
		items:    make(map[int64]LineItem, len(items)),
		nextTemp: -1,
	}
	for _, it := range items {
		if it.Active {
			ws.items[it.ID] = it
		}
	}
	return ws
}

// Apply runs the change batch against the working set in caller order.
// On error the working set may be partially mutated and must be discarded;
// callers always rebuild from storage before retrying.
func (ws *WorkingSet) Apply(ctx context.Context, changes []Change, therapies TherapyLookup) error {
	for _, c := range changes {
		switch c.Kind {
		case ChangeRemove:
			delete(ws.items, c.ItemID)

		case ChangeUpdate:
			it, ok := ws.items[c.ItemID]
			if !ok {
				continue // absent (possibly removed earlier in this batch): no-op
			}
			if err := ws.applyUpdate(ctx, &it, c, therapies); err != nil {
				return err
			}
			ws.items[c.ItemID] = it

		case ChangeAdd:
			if err := ws.applyAdd(ctx, c, therapies); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ws *WorkingSet) applyUpdate(ctx context.Context, it *LineItem, c Change, therapies TherapyLookup) error {
	if c.TherapyID != nil && *c.TherapyID != it.TherapyID {
		// Explicit re-price: the item takes the catalog's current values.
		t, err := therapies.Therapy(ctx, *c.TherapyID)
		if err != nil {
			return err
		}
		if t == nil {
			return &TherapyNotFoundError{TherapyID: *c.TherapyID}
		}
		it.TherapyID = t.ID
		it.Cost = t.Cost
		it.Charge = t.Charge
		it.Taxable = t.Taxable
	}
	if c.Quantity != nil {
		it.Quantity = *c.Quantity
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
	return nil
}

func (ws *WorkingSet) applyAdd(ctx context.Context, c Change, therapies TherapyLookup) error {
	t, err := therapies.Therapy(ctx, *c.TherapyID)
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
		ID:        ws.nextTemp,
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

	ws.items[ws.nextTemp] = it
	ws.nextTemp--
	return nil
}

// Totals returns the projected (charge, cost) sums over the working set.
func (ws *WorkingSet) Totals() (charge, cost decimal.Decimal) {
	for _, it := range ws.items {
		charge = charge.Add(it.ChargeTotal())
		cost = cost.Add(it.CostTotal())
	}
	return charge, cost
}

// TaxableCharge returns the charge subtotal over taxable items, the input
// to TaxOnTaxableItems.
func (ws *WorkingSet) TaxableCharge() decimal.Decimal {
	total := decimal.Zero
	for _, it := range ws.items {
		if it.Taxable {
			total = total.Add(it.ChargeTotal())
		}
	}
	return total
}

// Len returns the number of items currently in the set.
func (ws *WorkingSet) Len() int { return len(ws.items) }

// Contains reports whether an item id is present.
func (ws *WorkingSet) Contains(id int64) bool {
	_, ok := ws.items[id]
	return ok
}

// Items returns the working set's items. Staged adds keep their negative
// ids; callers must not persist them as-is.
func (ws *WorkingSet) Items() []LineItem {
	out := make([]LineItem, 0, len(ws.items))
	for _, it := range ws.items {
		out = append(out, it)
	}
	return out
}
