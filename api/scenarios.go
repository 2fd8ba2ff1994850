/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates therapies, programs,
	line items, and locked finances that demonstrate specific features.

AVAILABLE SCENARIOS:

	fresh-catalog:      Therapy catalog only, no programs
	quote-in-progress:  A quote whose figures still float with edits
	contracted-program: An active program with a locked, contracted margin
	financed-program:   Finance charges, discounts, and taxable items

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create the therapy catalog
 3. Create programs with line items
 4. Lock financial snapshots and, where applicable, the contracted margin

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "contracted-program"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Program and finances handlers the demos exercise
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian/program-engine/finance"
)

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-catalog",
		Name:        "Fresh Catalog",
		Description: "Therapy catalog only; build programs from scratch",
	},
	{
		ID:          "quote-in-progress",
		Name:        "Quote In Progress",
		Description: "A quoted program whose finances still float with item edits",
	},
	{
		ID:          "contracted-program",
		Name:        "Contracted Program",
		Description: "An active program with a locked price and contracted margin",
	},
	{
		ID:          "financed-program",
		Name:        "Financed Program",
		Description: "Finance charges, discounts, and taxable items in the locked snapshot",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:   h.currentScenario,
		Name: h.currentScenario,
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "fresh-catalog":
		_, err = h.loadCatalog(ctx)
	case "quote-in-progress":
		err = h.loadQuoteScenario(ctx)
	case "contracted-program":
		err = h.loadContractedScenario(ctx)
	case "financed-program":
		err = h.loadFinancedScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadCatalog seeds the therapy catalog shared by every scenario and
// returns the assigned ids keyed by name.
func (h *Handler) loadCatalog(ctx context.Context) (map[string]finance.Therapy, error) {
	entries := []finance.Therapy{
		{Name: "Initial Consultation", Cost: decimal.NewFromInt(0), Charge: decimal.NewFromInt(250), Active: true},
		{Name: "IV Vitamin Drip", Cost: decimal.NewFromInt(40), Charge: decimal.NewFromInt(180), Taxable: true, Active: true},
		{Name: "Physical Therapy Session", Cost: decimal.NewFromInt(65), Charge: decimal.NewFromInt(150), Active: true},
		{Name: "Massage Therapy", Cost: decimal.NewFromInt(60), Charge: decimal.NewFromInt(140), Taxable: true, Active: true},
		{Name: "Lab Panel", Cost: decimal.NewFromInt(85), Charge: decimal.NewFromInt(220), Active: true},
	}

	catalog := make(map[string]finance.Therapy, len(entries))
	for _, t := range entries {
		id, err := h.Store.SaveTherapy(ctx, t)
		if err != nil {
			return nil, err
		}
		t.ID = id
		catalog[t.Name] = t
	}
	return catalog, nil
}

// seedScenarioProgram creates a program with one item per named therapy and
// locks a snapshot derived from the item totals.
func (h *Handler) seedScenarioProgram(ctx context.Context, catalog map[string]finance.Therapy, name, member string, status finance.ProgramStatus, therapyNames []string) (int64, error) {
	id, err := h.Store.CreateProgram(ctx, finance.Program{
		Name:       name,
		MemberName: member,
		Status:     finance.StatusQuote,
		StartDate:  time.Now().AddDate(0, 0, 14),
	})
	if err != nil {
		return 0, err
	}

	for _, tn := range therapyNames {
		t, ok := catalog[tn]
		if !ok {
			return 0, fmt.Errorf("scenario references unknown therapy %q", tn)
		}
		_, err := h.Store.InsertItem(ctx, finance.LineItem{
			ProgramID: id,
			TherapyID: t.ID,
			Cost:      t.Cost,
			Charge:    t.Charge,
			Taxable:   t.Taxable,
			Quantity:  1,
			Active:    true,
		})
		if err != nil {
			return 0, err
		}
	}

	if err := h.initializeFinances(ctx, id); err != nil {
		return 0, err
	}
	if status != finance.StatusQuote {
		if err := h.Store.UpdateProgramStatus(ctx, id, status); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (h *Handler) loadQuoteScenario(ctx context.Context) error {
	catalog, err := h.loadCatalog(ctx)
	if err != nil {
		return err
	}
	_, err = h.seedScenarioProgram(ctx, catalog, "Spring Recovery Quote", "Alice Johnson",
		finance.StatusQuote,
		[]string{"Initial Consultation", "Physical Therapy Session", "Physical Therapy Session"})
	return err
}

func (h *Handler) loadContractedScenario(ctx context.Context) error {
	catalog, err := h.loadCatalog(ctx)
	if err != nil {
		return err
	}
	id, err := h.seedScenarioProgram(ctx, catalog, "Post-Surgery Program", "Bob Smith",
		finance.StatusActive,
		[]string{"Initial Consultation", "Physical Therapy Session", "Massage Therapy", "Lab Panel"})
	if err != nil {
		return err
	}

	// Freeze the margin as a contract would
	snap, err := h.Store.GetSnapshot(ctx, id)
	if err != nil {
		return err
	}
	contracted := snap.Margin
	snap.ContractedAtMargin = &contracted
	return h.Store.SaveSnapshot(ctx, *snap)
}

func (h *Handler) loadFinancedScenario(ctx context.Context) error {
	catalog, err := h.loadCatalog(ctx)
	if err != nil {
		return err
	}
	id, err := h.seedScenarioProgram(ctx, catalog, "Wellness Package (Financed)", "Carol Davis",
		finance.StatusActive,
		[]string{"IV Vitamin Drip", "IV Vitamin Drip", "Massage Therapy", "Lab Panel"})
	if err != nil {
		return err
	}

	// Rebuild the snapshot with financing terms: a seller-absorbed finance
	// fee and a goodwill discount, taxes prorated accordingly.
	items, err := h.Store.ActiveItems(ctx, id)
	if err != nil {
		return err
	}
	ws := finance.NewWorkingSet(items)
	charge, cost := ws.Totals()

	financeCharges := decimal.NewFromInt(-45)
	discounts := decimal.NewFromInt(-50)
	taxes := finance.TaxOnTaxableItems(charge, ws.TaxableCharge(), discounts, finance.DefaultTaxRate)
	price := finance.ProjectedPrice(charge, decimal.Zero, financeCharges, discounts)
	margin := finance.ProjectedMargin(price, cost, decimal.Zero, decimal.Zero)

	return h.Store.SaveSnapshot(ctx, finance.FinancialSnapshot{
		ProgramID:       id,
		FinalTotalPrice: price,
		Margin:          margin,
		FinanceCharges:  financeCharges,
		Discounts:       discounts,
		Taxes:           taxes,
	})
}
