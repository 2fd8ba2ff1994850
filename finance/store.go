/*
store.go - Persistence interfaces for the change engine

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never sees SQL; it sees programs, snapshots, items, and therapies.

KEY INTERFACES:
  Store:       reads plus the per-change writes the fallback path needs
  AtomicStore: adds ApplyChangeSet, the authoritative single-transaction
               commit procedure

COMMIT PATHS:
  A store implementing AtomicStore gets the preferred path: staleness
  re-check, simulation, invariant check, and every write inside ONE
  database transaction. Rejection means nothing was written.

  A store implementing only Store forces the engine onto the fallback
  path: one write per change in caller order, then post-hoc validation.
  The fallback cannot roll back, which is exactly why ApplyChangeSet is
  the production path.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite, implements AtomicStore
  - finance/store/memory.go: in-memory Store for engine unit tests
*/
package finance

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Reads plus per-change writes (fallback path)
// =============================================================================

// Store is the minimal persistence surface for Preview and fallback Apply.
// Lookup methods return (nil, nil) when the record does not exist.
type Store interface {
	TherapyLookup

	GetProgram(ctx context.Context, id int64) (*Program, error)
	GetSnapshot(ctx context.Context, programID int64) (*FinancialSnapshot, error)

	// ActiveItems returns the program's active line items.
	ActiveItems(ctx context.Context, programID int64) ([]LineItem, error)

	// GetItem returns an item only if it belongs to the program.
	GetItem(ctx context.Context, programID, itemID int64) (*LineItem, error)

	// InsertItem persists a new item and returns its assigned id.
	// The item's ID field (a synthetic negative id from simulation) is ignored.
	InsertItem(ctx context.Context, item LineItem) (int64, error)

	// UpdateItem overwrites a persisted item in place.
	UpdateItem(ctx context.Context, item LineItem) error

	// DeactivateItem soft-removes an item. No-op if absent.
	DeactivateItem(ctx context.Context, programID, itemID int64) error

	// UpdateProgramTotals refreshes the program's aggregate charge/cost.
	UpdateProgramTotals(ctx context.Context, programID int64, charge, cost decimal.Decimal) error
}

// =============================================================================
// ATOMIC STORE - Single-transaction commit procedure
// =============================================================================

// ChangeSetResult is what the atomic procedure reports back.
type ChangeSetResult struct {
	Check           CheckResult
	ProjectedCharge decimal.Decimal
	ProjectedCost   decimal.Decimal
}

// AtomicStore extends Store with the authoritative commit procedure.
type AtomicStore interface {
	Store

	// ApplyChangeSet re-checks staleness, simulates the batch, validates the
	// locked invariant, and performs all writes in one database transaction.
	//
	// Returns (result, nil) with result.Check.OK=false when the invariant
	// fails - nothing was written. Staleness and therapy-lookup failures
	// return errors; in every error case nothing was written.
	ApplyChangeSet(ctx context.Context, programID int64, changes []Change, expected ExpectedLocked, tol Tolerance) (*ChangeSetResult, error)
}
