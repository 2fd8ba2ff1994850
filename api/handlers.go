/*
handlers.go - HTTP API handlers for the program change engine

PURPOSE:
  Exposes the change engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Sessions:
    POST   /api/sessions                Open a session (returns bearer token)

  Programs:
    GET    /api/programs                List programs
    POST   /api/programs                Create program (optionally seeded)
    GET    /api/programs/{id}           Program with finances and items
    PUT    /api/programs/{id}/status    Lifecycle transition

  Changes (the two-phase protocol):
    POST   /api/programs/{id}/changes/preview  Dry-run a batch
    POST   /api/programs/{id}/changes/apply    Commit a batch

  Finances:
    GET    /api/programs/{id}/finances  Locked snapshot
    PUT    /api/programs/{id}/finances  Overwrite locked figures

  Therapies:
    GET    /api/therapies               Catalog
    POST   /api/therapies               Create catalog entry
    PUT    /api/therapies/{id}          Update catalog entry

ERROR HANDLING:
  Domain errors map to HTTP status in exactly one place (writeEngineError):
  - 400: malformed change batches, invalid input
  - 401: missing/unknown/expired session token
  - 404: program, snapshot, item, or therapy not found
  - 409: stale snapshot, invariant violation, locked contract margin
  - 500: internal errors; partial-write taint is called out loudly

AUTHENTICATION:
  Bearer tokens issued by POST /api/sessions. Every other endpoint sits
  behind RequireSession.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - finance/: domain logic the handlers delegate to
*/
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian/program-engine/finance"
	"github.com/meridian/program-engine/store/sqlite"
)

// sessionTTL bounds how long an issued token stays valid.
const sessionTTL = 24 * time.Hour

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Engine *finance.Engine

	// Track currently loaded demo scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:  store,
		Engine: finance.NewEngine(store),
	}
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// CreateSession issues a bearer token.
// POST /api/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.UserName) == "" {
		writeError(w, http.StatusBadRequest, "user_name is required", nil)
		return
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate token", err)
		return
	}

	sess := sqlite.Session{
		Token:     hex.EncodeToString(buf),
		UserName:  req.UserName,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(sessionTTL),
	}
	if err := h.Store.CreateSession(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session", err)
		return
	}

	writeJSON(w, http.StatusCreated, SessionDTO{
		Token:     sess.Token,
		UserName:  sess.UserName,
		ExpiresAt: sess.ExpiresAt.Format(time.RFC3339),
	})
}

// RequireSession rejects requests that do not carry a live bearer token.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}
		sess, err := h.Store.GetSession(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to check session", err)
			return
		}
		if sess == nil {
			writeError(w, http.StatusUnauthorized, "Unknown or expired session", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// PROGRAM HANDLERS
// =============================================================================

// ListPrograms returns all programs.
// GET /api/programs
func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := h.Store.ListPrograms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list programs", err)
		return
	}

	dtos := make([]ProgramDTO, len(programs))
	for i, p := range programs {
		dtos[i] = toProgramDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProgram creates a program, optionally seeded with line items from
// the therapy catalog, and initializes its financial snapshot from the
// seeded totals.
// POST /api/programs
func (h *Handler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD", err)
		return
	}

	id, err := h.Store.CreateProgram(ctx, finance.Program{
		Name:       req.Name,
		MemberName: req.MemberName,
		Status:     finance.StatusQuote,
		StartDate:  startDate,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create program", err)
		return
	}

	for _, therapyID := range req.TherapyIDs {
		t, err := h.Store.Therapy(ctx, therapyID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to look up therapy", err)
			return
		}
		if t == nil {
			writeError(w, http.StatusNotFound, "Unknown therapy", &finance.TherapyNotFoundError{TherapyID: therapyID})
			return
		}
		_, err = h.Store.InsertItem(ctx, finance.LineItem{
			ProgramID: id,
			TherapyID: t.ID,
			Cost:      t.Cost,
			Charge:    t.Charge,
			Taxable:   t.Taxable,
			Quantity:  1,
			Active:    true,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to seed line item", err)
			return
		}
	}

	if err := h.initializeFinances(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to initialize finances", err)
		return
	}

	p, err := h.Store.GetProgram(ctx, id)
	if err != nil || p == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload program", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProgramDTO(*p))
}

// initializeFinances derives the snapshot from the current item set and
// locks it in. The locked price excludes pass-through taxes (they are
// recorded separately on the snapshot), keeping the figures consistent
// with how drift is measured during later item edits. Margin is measured
// against the program's margin basis: the live projected price for a
// quote, the already-locked price for a contracted program.
func (h *Handler) initializeFinances(ctx context.Context, programID int64) error {
	program, err := h.Store.GetProgram(ctx, programID)
	if err != nil {
		return err
	}
	if program == nil {
		return finance.ErrProgramNotFound
	}
	snap, err := h.Store.GetSnapshot(ctx, programID)
	if err != nil {
		return err
	}

	items, err := h.Store.ActiveItems(ctx, programID)
	if err != nil {
		return err
	}

	ws := finance.NewWorkingSet(items)
	charge, cost := ws.Totals()
	taxes := finance.TaxOnTaxableItems(charge, ws.TaxableCharge(), decimal.Zero, finance.DefaultTaxRate)
	price := finance.ProjectedPrice(charge, decimal.Zero, decimal.Zero, decimal.Zero)
	basis := finance.MarginBasis(program, snap, price)
	margin := finance.ProjectedMargin(basis, cost, decimal.Zero, decimal.Zero)

	if err := h.Store.UpdateProgramTotals(ctx, programID, charge, cost); err != nil {
		return err
	}
	return h.Store.SaveSnapshot(ctx, finance.FinancialSnapshot{
		ProgramID:       programID,
		FinalTotalPrice: price,
		Margin:          margin,
		Taxes:           taxes,
	})
}

// GetProgram returns a program with its finances and active items.
// GET /api/programs/{id}
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	p, err := h.Store.GetProgram(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get program", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Program not found", nil)
		return
	}

	snap, err := h.Store.GetSnapshot(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get finances", err)
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "Finances not found", nil)
		return
	}

	items, err := h.Store.ActiveItems(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get items", err)
		return
	}

	writeJSON(w, http.StatusOK, ProgramDetailDTO{
		Program:  toProgramDTO(*p),
		Finances: toFinancesDTO(*snap),
		Items:    toLineItemDTOs(items),
	})
}

// UpdateProgramStatus transitions a program's lifecycle status. The
// quote-to-active transition freezes the snapshot's margin as the
// contracted-at margin; once set it never changes.
// PUT /api/programs/{id}/status
func (h *Handler) UpdateProgramStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	status := finance.ProgramStatus(req.Status)
	if !finance.ValidStatus(status) {
		writeError(w, http.StatusBadRequest, "Unknown status", nil)
		return
	}

	p, err := h.Store.GetProgram(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get program", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Program not found", nil)
		return
	}

	if p.Status == finance.StatusQuote && status == finance.StatusActive {
		snap, err := h.Store.GetSnapshot(ctx, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to get finances", err)
			return
		}
		if snap == nil {
			writeError(w, http.StatusNotFound, "Finances not found", nil)
			return
		}
		contracted := snap.Margin
		snap.ContractedAtMargin = &contracted
		if err := h.Store.SaveSnapshot(ctx, *snap); err != nil {
			writeEngineError(w, err)
			return
		}
	}

	if err := h.Store.UpdateProgramStatus(ctx, id, status); err != nil {
		writeEngineError(w, err)
		return
	}

	p, err = h.Store.GetProgram(ctx, id)
	if err != nil || p == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload program", err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDTO(*p))
}

// =============================================================================
// CHANGE HANDLERS - The two-phase protocol
// =============================================================================

// PreviewChanges dry-runs a change batch. Never writes.
// POST /api/programs/{id}/changes/preview
func (h *Handler) PreviewChanges(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Engine.Preview(r.Context(), finance.PreviewInput{
		ProgramID: id,
		Changes:   toChanges(req.Changes),
		Tolerance: toTolerance(req.Tolerance),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewResponse(res))
}

// ApplyChanges commits a change batch previously previewed.
// POST /api/programs/{id}/changes/apply
func (h *Handler) ApplyChanges(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Engine.Apply(r.Context(), finance.ApplyInput{
		ProgramID: id,
		Changes:   toChanges(req.Changes),
		Expected: finance.ExpectedLocked{
			Price:  decimal.NewFromFloat(req.Expected.FinalTotalPrice),
			Margin: decimal.NewFromFloat(req.Expected.Margin),
		},
		Tolerance: toTolerance(req.Tolerance),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplyResponse(res))
}

// =============================================================================
// FINANCES HANDLERS
// =============================================================================

// ListItems returns the program's active line items.
// GET /api/programs/{id}/items
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	program, err := h.Store.GetProgram(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get program", err)
		return
	}
	if program == nil {
		writeError(w, http.StatusNotFound, "Program not found", nil)
		return
	}

	items, err := h.Store.ActiveItems(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list items", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTOs(items))
}

// GetFinances returns the locked snapshot.
// GET /api/programs/{id}/finances
func (h *Handler) GetFinances(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	snap, err := h.Store.GetSnapshot(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get finances", err)
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "Finances not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toFinancesDTO(*snap))
}

// UpdateFinances overwrites the locked figures. The contracted-at margin
// is not settable here and survives the overwrite untouched.
// PUT /api/programs/{id}/finances
func (h *Handler) UpdateFinances(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req UpdateFinancesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.Store.SaveSnapshot(r.Context(), finance.FinancialSnapshot{
		ProgramID:       id,
		FinalTotalPrice: decimal.NewFromFloat(req.FinalTotalPrice),
		Margin:          decimal.NewFromFloat(req.Margin),
		FinanceCharges:  decimal.NewFromFloat(req.FinanceCharges),
		Discounts:       decimal.NewFromFloat(req.Discounts),
		Taxes:           decimal.NewFromFloat(req.Taxes),
		Variance:        decimal.NewFromFloat(req.Variance),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	snap, err := h.Store.GetSnapshot(r.Context(), id)
	if err != nil || snap == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload finances", err)
		return
	}
	writeJSON(w, http.StatusOK, toFinancesDTO(*snap))
}

// =============================================================================
// THERAPY HANDLERS
// =============================================================================

// ListTherapies returns the catalog.
// GET /api/therapies
func (h *Handler) ListTherapies(w http.ResponseWriter, r *http.Request) {
	therapies, err := h.Store.ListTherapies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list therapies", err)
		return
	}

	dtos := make([]TherapyDTO, len(therapies))
	for i, t := range therapies {
		dtos[i] = toTherapyDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTherapy adds a catalog entry.
// POST /api/therapies
func (h *Handler) CreateTherapy(w http.ResponseWriter, r *http.Request) {
	var req SaveTherapyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	t := finance.Therapy{
		Name:    req.Name,
		Cost:    decimal.NewFromFloat(req.Cost),
		Charge:  decimal.NewFromFloat(req.Charge),
		Taxable: req.Taxable,
		Active:  true,
	}
	if req.Active != nil {
		t.Active = *req.Active
	}

	id, err := h.Store.SaveTherapy(r.Context(), t)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create therapy", err)
		return
	}
	t.ID = id
	writeJSON(w, http.StatusCreated, toTherapyDTO(t))
}

// UpdateTherapy updates a catalog entry. Existing line items keep the
// pricing they were created with; only future adds see the new figures.
// PUT /api/therapies/{id}
func (h *Handler) UpdateTherapy(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req SaveTherapyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	t := finance.Therapy{
		ID:      id,
		Name:    req.Name,
		Cost:    decimal.NewFromFloat(req.Cost),
		Charge:  decimal.NewFromFloat(req.Charge),
		Taxable: req.Taxable,
		Active:  true,
	}
	if req.Active != nil {
		t.Active = *req.Active
	}

	if _, err := h.Store.SaveTherapy(r.Context(), t); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTherapyDTO(t))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ResetDatabase clears all data (dev only).
// POST /api/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

// writeEngineError translates domain errors into HTTP responses. The
// ordering matters: partial-write taint outranks everything because the
// caller must know storage may be half-updated.
func writeEngineError(w http.ResponseWriter, err error) {
	if finance.MayHavePartiallyApplied(err) {
		var iv *finance.InvariantViolationError
		if errors.As(err, &iv) {
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{
				Error: "Change batch rejected AFTER writes landed; storage may be partially updated. Reload program state before retrying.",
				Code:  "partial_write",
				Details: map[string]any{
					"price_delta_cents": iv.PriceDeltaCents,
					"margin_delta":      iv.MarginDelta.String(),
				},
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Change batch failed mid-write; storage may be partially updated. Reload program state before retrying.",
			Code:    "partial_write",
			Details: err.Error(),
		})
		return
	}

	var mc *finance.MalformedChangeError
	if errors.As(err, &mc) {
		writeError(w, http.StatusBadRequest, "Malformed change", err)
		return
	}

	var ss *finance.StaleSnapshotError
	if errors.As(err, &ss) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "Locked finances changed since preview; re-preview and retry",
			Code:  "stale_snapshot",
			Details: map[string]any{
				"expected_price":  ss.ExpectedPrice.String(),
				"current_price":   ss.CurrentPrice.String(),
				"expected_margin": ss.ExpectedMargin.String(),
				"current_margin":  ss.CurrentMargin.String(),
			},
		})
		return
	}

	var iv *finance.InvariantViolationError
	if errors.As(err, &iv) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "Change batch would move the locked price or margin beyond tolerance",
			Code:  "invariant_violation",
			Details: map[string]any{
				"price_delta_cents": iv.PriceDeltaCents,
				"margin_delta":      iv.MarginDelta.String(),
			},
		})
		return
	}

	if errors.Is(err, finance.ErrContractLocked) {
		writeError(w, http.StatusConflict, "Contracted margin is locked and cannot change", err)
		return
	}

	if finance.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "Not found", err)
		return
	}

	writeError(w, http.StatusInternalServerError, "Internal error", err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
