/*
errors.go - Centralized error types for the change engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP statuses; nothing here knows about HTTP.

ERROR CATEGORIES:
  1. Lookup errors   - program / snapshot / therapy / item missing
  2. Protocol errors - stale snapshot, rejected invariant
  3. Write errors    - partial application on the fallback commit path

PROPAGATION POLICY:
  Lookup and protocol errors raised before any write are always safe to
  retry after correction. A rejection from the atomic commit path is also
  safe - nothing was written. An InvariantViolationError or
  PartialWriteError with Partial writes already landed is NOT a plain
  rejection: the caller must reload program state and re-preview.

USAGE:
  if errors.Is(err, finance.ErrStaleSnapshot) { ... }

  var inv *finance.InvariantViolationError
  if errors.As(err, &inv) && inv.Partial { ... }
*/
package finance

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrProgramNotFound is returned when the referenced program doesn't exist.
	ErrProgramNotFound = errors.New("program not found")

	// ErrSnapshotNotFound is returned when a program has no locked financial
	// snapshot yet. Preview/Apply require one.
	ErrSnapshotNotFound = errors.New("locked financial snapshot not found")

	// ErrTherapyNotFound is returned when an add/update references a therapy
	// missing from the catalog. The whole batch fails.
	ErrTherapyNotFound = errors.New("therapy not found")

	// ErrItemNotFound is returned by the fallback path when an update targets
	// an item that does not belong to the program.
	ErrItemNotFound = errors.New("line item not found")

	// ErrStaleSnapshot is returned when the caller's expected locked figures
	// disagree with the snapshot currently in storage.
	ErrStaleSnapshot = errors.New("locked snapshot is stale")

	// ErrInvariantViolated is returned when simulated or post-write totals
	// drift outside tolerance from the locked snapshot.
	ErrInvariantViolated = errors.New("locked financial invariant violated")

	// ErrPartialWrite is returned by the fallback path when some writes
	// landed before a later one failed. Nothing is rolled back.
	ErrPartialWrite = errors.New("change batch partially written")

	// ErrContractLocked is returned when an explicit finances update tries
	// to overwrite a contracted-at margin that is already set.
	ErrContractLocked = errors.New("contracted margin already locked")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MalformedChangeError reports a structurally invalid proposed change.
type MalformedChangeError struct {
	Kind   ChangeKind
	Reason string
}

func (e *MalformedChangeError) Error() string {
	return fmt.Sprintf("malformed %s change: %s", e.Kind, e.Reason)
}

// TherapyNotFoundError identifies the missing catalog entry.
type TherapyNotFoundError struct {
	TherapyID int64
}

func (e *TherapyNotFoundError) Error() string {
	return fmt.Sprintf("therapy %d not found", e.TherapyID)
}

func (e *TherapyNotFoundError) Unwrap() error { return ErrTherapyNotFound }

// StaleSnapshotError carries both sides of the disagreement.
type StaleSnapshotError struct {
	ExpectedPrice  decimal.Decimal
	CurrentPrice   decimal.Decimal
	ExpectedMargin decimal.Decimal
	CurrentMargin  decimal.Decimal
}

func (e *StaleSnapshotError) Error() string {
	return fmt.Sprintf("stale snapshot: expected price %s margin %s, current price %s margin %s",
		e.ExpectedPrice, e.ExpectedMargin, e.CurrentPrice, e.CurrentMargin)
}

func (e *StaleSnapshotError) Unwrap() error { return ErrStaleSnapshot }

// InvariantViolationError reports how far the simulated totals drifted from
// the locked snapshot. Partial is true when it was raised after fallback-path
// writes already landed; the caller must reload and re-preview.
type InvariantViolationError struct {
	PriceDeltaCents int64
	MarginDelta     decimal.Decimal
	Partial         bool
}

func (e *InvariantViolationError) Error() string {
	msg := fmt.Sprintf("invariant violated: price delta %d cents, margin delta %s points",
		e.PriceDeltaCents, e.MarginDelta)
	if e.Partial {
		msg += " (changes may have partially applied - reload and re-preview)"
	}
	return msg
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolated }

// PartialWriteError reports a fallback-path write failure after earlier
// writes in the same batch succeeded.
type PartialWriteError struct {
	Applied int // writes that landed before the failure
	Total   int
	Cause   error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write: %d of %d changes applied before failure: %v - reload and re-preview",
		e.Applied, e.Total, e.Cause)
}

func (e *PartialWriteError) Unwrap() error { return ErrPartialWrite }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether err indicates a missing program, snapshot,
// therapy, or item.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProgramNotFound) ||
		errors.Is(err, ErrSnapshotNotFound) ||
		errors.Is(err, ErrTherapyNotFound) ||
		errors.Is(err, ErrItemNotFound)
}

// IsConflict reports whether err is a concurrency or invariant rejection,
// the HTTP-409 family.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStaleSnapshot) || errors.Is(err, ErrInvariantViolated)
}

// IsMalformed reports whether err is caused by structurally invalid input.
func IsMalformed(err error) bool {
	var m *MalformedChangeError
	return errors.As(err, &m)
}

// MayHavePartiallyApplied reports whether err could have left the program's
// line items mutated despite the operation failing. Only fallback-path
// failures qualify; atomic-path rejections never do.
func MayHavePartiallyApplied(err error) bool {
	if errors.Is(err, ErrPartialWrite) {
		return true
	}
	var inv *InvariantViolationError
	return errors.As(err, &inv) && inv.Partial
}
