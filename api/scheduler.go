/*
scheduler.go - Automated variance audit scheduler

PURPOSE:
  Periodically re-derives every active program's projected figures from its
  line items and compares them against the locked financial snapshot. The
  measured price drift is recorded on the snapshot's variance column so
  coordinators see slippage without running a preview by hand.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Audits only active programs; quotes are expected to float
  - Records variance on every pass; logs loudly when drift exceeds the
    default tolerance (which indicates writes bypassed the engine)

CONFIGURATION:
  - CheckInterval: How often to audit (default: 1 hour)
  - Enabled: Whether the auditor is active (default: true)

USAGE:
  auditor := NewVarianceAuditor(store)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - finance/invariant.go: the drift check this reuses
  - handlers.go: the preview endpoint exposing the same figures on demand
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian/program-engine/finance"
	"github.com/meridian/program-engine/store/sqlite"
)

// VarianceAuditor periodically measures locked-snapshot drift.
type VarianceAuditor struct {
	Store         *sqlite.Store
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewVarianceAuditor creates a new auditor.
func NewVarianceAuditor(store *sqlite.Store) *VarianceAuditor {
	return &VarianceAuditor{
		Store:         store,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the audit loop.
func (va *VarianceAuditor) Start() {
	va.mu.Lock()
	defer va.mu.Unlock()

	if !va.Enabled {
		log.Println("[Auditor] Disabled, not starting")
		return
	}

	va.ticker = time.NewTicker(va.CheckInterval)
	va.wg.Add(1)

	go va.run()

	log.Printf("[Auditor] Started with check interval: %v", va.CheckInterval)
}

// Stop stops the audit loop.
func (va *VarianceAuditor) Stop() {
	va.mu.Lock()
	defer va.mu.Unlock()

	if va.ticker != nil {
		va.ticker.Stop()
		close(va.stop)
		va.wg.Wait()
		log.Println("[Auditor] Stopped")
	}
}

func (va *VarianceAuditor) run() {
	defer va.wg.Done()

	// Run immediately on start
	va.auditAll()

	for {
		select {
		case <-va.ticker.C:
			va.auditAll()
		case <-va.stop:
			return
		}
	}
}

func (va *VarianceAuditor) auditAll() {
	ctx := context.Background()

	programs, err := va.Store.ListPrograms(ctx)
	if err != nil {
		log.Printf("[Auditor] Error listing programs: %v", err)
		return
	}

	audited := 0
	drifted := 0

	for _, p := range programs {
		if p.Status != finance.StatusActive {
			continue
		}
		moved, err := va.auditProgram(ctx, p.ID)
		if err != nil {
			log.Printf("[Auditor] Error auditing program %d: %v", p.ID, err)
			continue
		}
		audited++
		if moved {
			drifted++
		}
	}

	if audited > 0 {
		log.Printf("[Auditor] Completed: %d audited, %d outside tolerance", audited, drifted)
	}
}

// auditProgram recomputes drift for one program and records it on the
// snapshot's variance column. Returns true when the drift exceeds the
// default tolerance.
func (va *VarianceAuditor) auditProgram(ctx context.Context, programID int64) (bool, error) {
	snap, err := va.Store.GetSnapshot(ctx, programID)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, finance.ErrSnapshotNotFound
	}

	items, err := va.Store.ActiveItems(ctx, programID)
	if err != nil {
		return false, err
	}

	ws := finance.NewWorkingSet(items)
	charge, cost := ws.Totals()
	check := finance.CheckLockedInvariant(charge, cost, snap, finance.DefaultTolerance())

	// Variance is the price drift in currency units
	snap.Variance = decimal.New(check.PriceDeltaCents, -2)
	if err := va.Store.SaveSnapshot(ctx, *snap); err != nil {
		return false, err
	}

	if !check.OK {
		log.Printf("[Auditor] Program %d drifted outside tolerance: %d cents, %s margin points - writes may have bypassed the change engine",
			programID, check.PriceDeltaCents, check.MarginDelta)
	}
	return !check.OK, nil
}
