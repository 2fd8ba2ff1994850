/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY REPRESENTATION:
  Internally everything is decimal.Decimal. At the API boundary money and
  percentages travel as JSON numbers; conversion happens here and only
  here. Price deltas additionally travel as integer cents so clients can
  compare them without float noise.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - finance/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian/program-engine/finance"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// CreateSessionRequest is the request to open an API session.
type CreateSessionRequest struct {
	UserName string `json:"user_name"`
}

// SessionDTO is an issued bearer token.
type SessionDTO struct {
	Token     string `json:"token"`
	UserName  string `json:"user_name"`
	ExpiresAt string `json:"expires_at"`
}

// ProgramDTO represents a program in API responses.
type ProgramDTO struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	MemberName  string  `json:"member_name"`
	Status      string  `json:"status"`
	StartDate   string  `json:"start_date"`
	TotalCharge float64 `json:"total_charge"`
	TotalCost   float64 `json:"total_cost"`
	CreatedAt   string  `json:"created_at,omitempty"`
}

// CreateProgramRequest is the request to create a program. TherapyIDs
// seeds the program with one line item per catalog entry.
type CreateProgramRequest struct {
	Name       string  `json:"name"`
	MemberName string  `json:"member_name"`
	StartDate  string  `json:"start_date"`
	TherapyIDs []int64 `json:"therapy_ids,omitempty"`
}

// UpdateStatusRequest transitions a program's lifecycle status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// ProgramDetailDTO is a program with its finances and active items.
type ProgramDetailDTO struct {
	Program  ProgramDTO    `json:"program"`
	Finances FinancesDTO   `json:"finances"`
	Items    []LineItemDTO `json:"items"`
}

// FinancesDTO represents the locked financial snapshot.
type FinancesDTO struct {
	ProgramID          int64    `json:"program_id"`
	FinalTotalPrice    float64  `json:"final_total_price"`
	Margin             float64  `json:"margin"`
	FinanceCharges     float64  `json:"finance_charges"`
	Discounts          float64  `json:"discounts"`
	Taxes              float64  `json:"taxes"`
	Variance           float64  `json:"variance"`
	ContractedAtMargin *float64 `json:"contracted_at_margin,omitempty"`
	UpdatedAt          string   `json:"updated_at,omitempty"`
}

// UpdateFinancesRequest overwrites the locked figures.
type UpdateFinancesRequest struct {
	FinalTotalPrice float64 `json:"final_total_price"`
	Margin          float64 `json:"margin"`
	FinanceCharges  float64 `json:"finance_charges"`
	Discounts       float64 `json:"discounts"`
	Taxes           float64 `json:"taxes"`
	Variance        float64 `json:"variance"`
}

// LineItemDTO represents a priced therapy instance.
type LineItemDTO struct {
	ID            int64   `json:"id"`
	ProgramID     int64   `json:"program_id"`
	TherapyID     int64   `json:"therapy_id"`
	Cost          float64 `json:"cost"`
	Charge        float64 `json:"charge"`
	Taxable       bool    `json:"taxable"`
	Quantity      int     `json:"quantity"`
	DaysFromStart int     `json:"days_from_start"`
	DaysBetween   int     `json:"days_between"`
	Instructions  string  `json:"instructions,omitempty"`
}

// TherapyDTO represents a catalog entry.
type TherapyDTO struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Cost    float64 `json:"cost"`
	Charge  float64 `json:"charge"`
	Taxable bool    `json:"taxable"`
	Active  bool    `json:"active"`
}

// SaveTherapyRequest creates or updates a catalog entry.
type SaveTherapyRequest struct {
	Name    string  `json:"name"`
	Cost    float64 `json:"cost"`
	Charge  float64 `json:"charge"`
	Taxable bool    `json:"taxable"`
	Active  *bool   `json:"active,omitempty"`
}

// ChangeDTO is one proposed line-item change. Kind selects which fields
// apply: add needs therapy_id, update/remove need item_id. Omitted update
// fields leave the stored value untouched.
type ChangeDTO struct {
	Kind          string  `json:"kind"`
	ItemID        int64   `json:"item_id,omitempty"`
	TherapyID     *int64  `json:"therapy_id,omitempty"`
	Quantity      *int    `json:"quantity,omitempty"`
	DaysFromStart *int    `json:"days_from_start,omitempty"`
	DaysBetween   *int    `json:"days_between,omitempty"`
	Instructions  *string `json:"instructions,omitempty"`
}

// ToleranceDTO overrides the default tolerances when present. Each field
// is independently optional; an omitted field keeps its default.
type ToleranceDTO struct {
	PriceCents *int64   `json:"price_cents,omitempty"`
	MarginPts  *float64 `json:"margin_pts,omitempty"`
}

// PreviewRequest asks for a read-only dry run of a change batch.
type PreviewRequest struct {
	Changes   []ChangeDTO   `json:"changes"`
	Tolerance *ToleranceDTO `json:"tolerance,omitempty"`
}

// ExpectedDTO echoes the locked figures the caller previewed against.
type ExpectedDTO struct {
	FinalTotalPrice float64 `json:"final_total_price"`
	Margin          float64 `json:"margin"`
}

// ApplyRequest commits a change batch previously previewed.
type ApplyRequest struct {
	Changes   []ChangeDTO   `json:"changes"`
	Expected  ExpectedDTO   `json:"expected"`
	Tolerance *ToleranceDTO `json:"tolerance,omitempty"`
}

// FiguresDTO is a price/margin pair.
type FiguresDTO struct {
	Price  float64 `json:"price"`
	Margin float64 `json:"margin"`
}

// ProjectedDTO is the simulated end state of a batch.
type ProjectedDTO struct {
	Price  float64 `json:"price"`
	Margin float64 `json:"margin"`
	Charge float64 `json:"charge"`
	Cost   float64 `json:"cost"`
}

// DeltasDTO reports drift from the locked figures.
type DeltasDTO struct {
	PriceCents int64   `json:"price_cents"`
	Margin     float64 `json:"margin"`
}

// PreviewResponse is the outcome of a dry run.
type PreviewResponse struct {
	OK        bool         `json:"ok"`
	Locked    FiguresDTO   `json:"locked"`
	Projected ProjectedDTO `json:"projected"`
	Deltas    DeltasDTO    `json:"deltas"`
}

// ApplyResponse is the outcome of a committed batch.
type ApplyResponse struct {
	Projected ProjectedDTO `json:"projected"`
	Deltas    DeltasDTO    `json:"deltas"`
	Fallback  bool         `json:"fallback,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toProgramDTO(p finance.Program) ProgramDTO {
	charge, _ := p.TotalCharge.Float64()
	cost, _ := p.TotalCost.Float64()
	return ProgramDTO{
		ID:          p.ID,
		Name:        p.Name,
		MemberName:  p.MemberName,
		Status:      string(p.Status),
		StartDate:   p.StartDate.Format("2006-01-02"),
		TotalCharge: charge,
		TotalCost:   cost,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

func toFinancesDTO(s finance.FinancialSnapshot) FinancesDTO {
	price, _ := s.FinalTotalPrice.Float64()
	margin, _ := s.Margin.Float64()
	charges, _ := s.FinanceCharges.Float64()
	discounts, _ := s.Discounts.Float64()
	taxes, _ := s.Taxes.Float64()
	variance, _ := s.Variance.Float64()
	dto := FinancesDTO{
		ProgramID:       s.ProgramID,
		FinalTotalPrice: price,
		Margin:          margin,
		FinanceCharges:  charges,
		Discounts:       discounts,
		Taxes:           taxes,
		Variance:        variance,
		UpdatedAt:       s.UpdatedAt.Format(time.RFC3339),
	}
	if s.ContractedAtMargin != nil {
		v, _ := s.ContractedAtMargin.Float64()
		dto.ContractedAtMargin = &v
	}
	return dto
}

func toLineItemDTO(it finance.LineItem) LineItemDTO {
	cost, _ := it.Cost.Float64()
	charge, _ := it.Charge.Float64()
	return LineItemDTO{
		ID:            it.ID,
		ProgramID:     it.ProgramID,
		TherapyID:     it.TherapyID,
		Cost:          cost,
		Charge:        charge,
		Taxable:       it.Taxable,
		Quantity:      it.Quantity,
		DaysFromStart: it.DaysFromStart,
		DaysBetween:   it.DaysBetween,
		Instructions:  it.Instructions,
	}
}

func toLineItemDTOs(items []finance.LineItem) []LineItemDTO {
	dtos := make([]LineItemDTO, len(items))
	for i, it := range items {
		dtos[i] = toLineItemDTO(it)
	}
	return dtos
}

func toTherapyDTO(t finance.Therapy) TherapyDTO {
	cost, _ := t.Cost.Float64()
	charge, _ := t.Charge.Float64()
	return TherapyDTO{
		ID:      t.ID,
		Name:    t.Name,
		Cost:    cost,
		Charge:  charge,
		Taxable: t.Taxable,
		Active:  t.Active,
	}
}

func toChanges(dtos []ChangeDTO) []finance.Change {
	changes := make([]finance.Change, len(dtos))
	for i, d := range dtos {
		changes[i] = finance.Change{
			Kind:          finance.ChangeKind(d.Kind),
			ItemID:        d.ItemID,
			TherapyID:     d.TherapyID,
			Quantity:      d.Quantity,
			DaysFromStart: d.DaysFromStart,
			DaysBetween:   d.DaysBetween,
			Instructions:  d.Instructions,
		}
	}
	return changes
}

func toTolerance(d *ToleranceDTO) *finance.Tolerance {
	if d == nil {
		return nil
	}
	tol := finance.DefaultTolerance()
	if d.PriceCents != nil {
		tol.PriceCents = *d.PriceCents
	}
	if d.MarginPts != nil {
		tol.MarginPts = decimal.NewFromFloat(*d.MarginPts)
	}
	return &tol
}

func toPreviewResponse(res *finance.PreviewResult) PreviewResponse {
	lockedPrice, _ := res.Locked.Price.Float64()
	lockedMargin, _ := res.Locked.Margin.Float64()
	return PreviewResponse{
		OK:        res.OK,
		Locked:    FiguresDTO{Price: lockedPrice, Margin: lockedMargin},
		Projected: toProjectedDTO(res.Projected),
		Deltas:    toDeltasDTO(res.Deltas),
	}
}

func toApplyResponse(res *finance.ApplyResult) ApplyResponse {
	return ApplyResponse{
		Projected: toProjectedDTO(res.Projected),
		Deltas:    toDeltasDTO(res.Deltas),
		Fallback:  res.Fallback,
	}
}

func toProjectedDTO(p finance.ProjectedFigures) ProjectedDTO {
	price, _ := p.Price.Float64()
	margin, _ := p.Margin.Float64()
	charge, _ := p.Charge.Float64()
	cost, _ := p.Cost.Float64()
	return ProjectedDTO{Price: price, Margin: margin, Charge: charge, Cost: cost}
}

func toDeltasDTO(d finance.Deltas) DeltasDTO {
	margin, _ := d.Margin.Float64()
	return DeltasDTO{PriceCents: d.PriceCents, Margin: margin}
}
