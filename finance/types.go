/*
Package finance contains the invariant-preserving change engine for
contracted programs.

PURPOSE:
  A program is sold to a member with a priced set of line items (therapies)
  and a financial snapshot that is contractually locked once the deal is
  struck. Subsequent edits to line items must not silently change what the
  member was promised. This package provides:

  - Money: exact currency math on decimal.Decimal (formulas.go)
  - WorkingSet: dry-run simulation of a batch of line-item edits (workingset.go)
  - Invariant checker: locked price/margin drift detection (invariant.go)
  - Staleness guard: optimistic concurrency on the locked snapshot (staleness.go)
  - Engine: Preview and Apply orchestration (preview.go, apply.go)

KEY CONCEPTS IN THIS FILE (types.go):
  - Program: a contracted engagement with aggregate charge/cost totals
  - FinancialSnapshot: the locked price/margin/charges figures
  - LineItem: a priced therapy instance with pricing snapshotted at add time
  - Change: one ephemeral add/update/remove instruction in a batch

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money and percentages; prices are
     compared as integer minor units, never as raw floats
  2. Snapshot pricing: a LineItem carries the therapy's cost/charge as of
     the moment it was added or last explicitly re-priced, not a live join
  3. Ephemerality: Changes and WorkingSets live only for the duration of
     one Preview or Apply call

SEE ALSO:
  - formulas.go: tax/price/margin calculations
  - workingset.go: batch simulation
  - store.go: persistence interfaces
*/
package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROGRAM - A contracted engagement
// =============================================================================

type ProgramStatus string

const (
	StatusQuote     ProgramStatus = "quote"
	StatusActive    ProgramStatus = "active"
	StatusPaused    ProgramStatus = "paused"
	StatusCompleted ProgramStatus = "completed"
	StatusCancelled ProgramStatus = "cancelled"
)

// ValidStatus reports whether s is one of the known program statuses.
func ValidStatus(s ProgramStatus) bool {
	switch s {
	case StatusQuote, StatusActive, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Program identifies a contracted engagement. TotalCharge and TotalCost are
// maintained aggregates over the active line items; they are refreshed by a
// successful Apply, never edited directly.
type Program struct {
	ID         int64
	Name       string
	MemberName string
	Status     ProgramStatus
	StartDate  time.Time

	TotalCharge decimal.Decimal
	TotalCost   decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contracted reports whether the program's margin is frozen against the
// locked final price rather than the live projected price.
func (p *Program) Contracted(snap *FinancialSnapshot) bool {
	return p.Status == StatusActive && snap != nil && snap.ContractedAtMargin != nil
}

// =============================================================================
// FINANCIAL SNAPSHOT - Contractually locked figures
// =============================================================================

// FinancialSnapshot holds the locked financial figures for a program.
// Owned exclusively by the program; mutated only through the Apply path or
// the explicit finances-update endpoint.
//
// INVARIANT: once ContractedAtMargin is non-nil for an active program it is
// never overwritten.
type FinancialSnapshot struct {
	ProgramID int64

	FinalTotalPrice decimal.Decimal
	Margin          decimal.Decimal // percentage points
	FinanceCharges  decimal.Decimal
	Discounts       decimal.Decimal // stored non-positive
	Taxes           decimal.Decimal
	Variance        decimal.Decimal

	// ContractedAtMargin is the margin captured at first lock. Set once.
	ContractedAtMargin *decimal.Decimal

	UpdatedAt time.Time
}

// =============================================================================
// THERAPY - Catalog entry (read-only from the engine's perspective)
// =============================================================================

type Therapy struct {
	ID      int64
	Name    string
	Cost    decimal.Decimal
	Charge  decimal.Decimal
	Taxable bool
	Active  bool
}

// =============================================================================
// LINE ITEM - A priced therapy instance belonging to one program
// =============================================================================

// LineItem carries its own snapshotted cost/charge/taxable flag, copied from
// the therapy catalog when the item was added or last explicitly re-priced.
// The catalog may drift afterwards; the item does not follow it.
type LineItem struct {
	ID        int64
	ProgramID int64
	TherapyID int64

	Cost     decimal.Decimal
	Charge   decimal.Decimal
	Taxable  bool
	Quantity int

	// Scheduling metadata, consumed by the (external) cascade subsystem.
	DaysFromStart int
	DaysBetween   int
	Instructions  string

	Active bool
}

// ChargeTotal returns charge * quantity.
func (li LineItem) ChargeTotal() decimal.Decimal {
	return li.Charge.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// CostTotal returns cost * quantity.
func (li LineItem) CostTotal() decimal.Decimal {
	return li.Cost.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// =============================================================================
// CHANGE - One proposed edit in a batch
// =============================================================================

type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeUpdate ChangeKind = "update"
	ChangeRemove ChangeKind = "remove"
)

// Change is one ephemeral, request-scoped edit instruction. It is never
// persisted; it exists only for the duration of a Preview or Apply call.
//
// Pointer fields on update mean "overwrite only what was supplied".
// Changes are applied in strict caller order; an update or remove naming an
// id already removed earlier in the same batch is a no-op, not an error.
type Change struct {
	Kind ChangeKind

	// ItemID identifies the target of update/remove. Ignored for add.
	ItemID int64

	// TherapyID is required for add. On update, a non-nil value re-prices
	// the item from the catalog.
	TherapyID *int64

	Quantity      *int
	DaysFromStart *int
	DaysBetween   *int
	Instructions  *string
}

// Validate checks structural well-formedness (not catalog existence).
func (c Change) Validate() error {
	switch c.Kind {
	case ChangeAdd:
		if c.TherapyID == nil {
			return &MalformedChangeError{Kind: c.Kind, Reason: "add requires therapy_id"}
		}
		if c.Quantity != nil && *c.Quantity <= 0 {
			return &MalformedChangeError{Kind: c.Kind, Reason: "quantity must be positive"}
		}
	case ChangeUpdate, ChangeRemove:
		if c.ItemID <= 0 {
			return &MalformedChangeError{Kind: c.Kind, Reason: "item_id required"}
		}
		if c.Kind == ChangeUpdate && c.Quantity != nil && *c.Quantity <= 0 {
			return &MalformedChangeError{Kind: c.Kind, Reason: "quantity must be positive"}
		}
	default:
		return &MalformedChangeError{Kind: c.Kind, Reason: "unknown change kind"}
	}
	return nil
}

// ValidateChanges validates a whole batch.
func ValidateChanges(changes []Change) error {
	for _, c := range changes {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PROJECTED / LOCKED FIGURES - Result shapes shared by Preview and Apply
// =============================================================================

// LockedFigures is the caller-visible slice of the locked snapshot.
type LockedFigures struct {
	Price  decimal.Decimal
	Margin decimal.Decimal
}

// ProjectedFigures are the simulated totals after a change batch.
type ProjectedFigures struct {
	Price  decimal.Decimal
	Margin decimal.Decimal
	Charge decimal.Decimal
	Cost   decimal.Decimal
}

// Deltas report drift between projected and locked figures.
type Deltas struct {
	PriceCents int64           // projected minus locked, integer minor units
	Margin     decimal.Decimal // percentage points
}
