/*
staleness.go - Optimistic concurrency on the locked snapshot

PURPOSE:
  A caller submitting an Apply is usually acting on figures it obtained from
  an earlier Preview. Another request (a concurrent coordinator, a finance
  charge edit) may have changed the locked snapshot since. The guard
  compares what the caller believes is locked against what storage holds
  right now and rejects the whole operation on any disagreement - before a
  single write is attempted.

COMPARISON:
  Price compares as integer minor units. Margin compares with zero
  tolerance: the locked margin is an exact contractual figure, not a
  measurement.
*/
package finance

import "github.com/shopspring/decimal"

// ExpectedLocked is the caller's belief about the locked snapshot, echoed
// back from a prior Preview.
type ExpectedLocked struct {
	Price  decimal.Decimal
	Margin decimal.Decimal
}

// GuardSnapshot rejects with a StaleSnapshotError when the caller's
// expected figures disagree with the freshly-read snapshot.
func GuardSnapshot(expected ExpectedLocked, current *FinancialSnapshot) error {
	if CentsDelta(expected.Price, current.FinalTotalPrice) != 0 ||
		!expected.Margin.Equal(current.Margin) {
		return &StaleSnapshotError{
			ExpectedPrice:  expected.Price,
			CurrentPrice:   current.FinalTotalPrice,
			ExpectedMargin: expected.Margin,
			CurrentMargin:  current.Margin,
		}
	}
	return nil
}
