/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types in
  codes/ and listing/ carry no JSON tags; these types are the contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

PRICES:
  Prices and areas are decimal.Decimal and travel as JSON strings
  ("230000000"); numeric JSON is accepted on input.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/listing-codes/codes"
	"github.com/warp/listing-codes/listing"
)

// =============================================================================
// CODES
// =============================================================================

// AllocationDTO is a previewed or reserved code.
type AllocationDTO struct {
	Prefix  string `json:"prefix"`
	NextSeq int64  `json:"next_seq"`
	Code    string `json:"code"`
}

// PrefixDTO is the result of prefix resolution.
type PrefixDTO struct {
	Transaction string `json:"transaction"`
	Building    string `json:"building"`
	Prefix      string `json:"prefix"`
}

// CommitRequest commits a previewed allocation.
type CommitRequest struct {
	Prefix  string `json:"prefix"`
	NextSeq int64  `json:"next_seq"`
	Code    string `json:"code"`
	Actor   string `json:"actor,omitempty"`
}

// ReserveRequest names a prefix directly or the labels to resolve one from.
type ReserveRequest struct {
	Prefix      string `json:"prefix,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Building    string `json:"building,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

// UsedCodesDTO lists committed codes for one prefix.
type UsedCodesDTO struct {
	Prefix string   `json:"prefix"`
	Codes  []string `json:"codes"`
}

// HistoryEntryDTO is one allocation event.
type HistoryEntryDTO struct {
	ID     string `json:"id"`
	Prefix string `json:"prefix"`
	Seq    int64  `json:"seq"`
	Code   string `json:"code"`
	Source string `json:"source"`
	Actor  string `json:"actor,omitempty"`
	At     string `json:"at"`
}

// ViolationDTO is a prefix whose counter is behind its used codes.
type ViolationDTO struct {
	Prefix  string `json:"prefix"`
	Counter int64  `json:"counter"`
	MaxUsed int64  `json:"max_used"`
}

// VerifyDTO is the result of an integrity check or repair.
type VerifyDTO struct {
	OK         bool           `json:"ok"`
	Violations []ViolationDTO `json:"violations"`
	Repaired   bool           `json:"repaired,omitempty"`
}

// IntegrityDTO reports the background integrity checker.
type IntegrityDTO struct {
	Enabled    bool           `json:"enabled"`
	LastRun    string         `json:"last_run,omitempty"`
	NextRun    string         `json:"next_run,omitempty"`
	Violations []ViolationDTO `json:"violations"`
	LastError  string         `json:"last_error,omitempty"`
}

// ImportReportDTO summarises a legacy import.
type ImportReportDTO struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Invalid  []string `json:"invalid"`
}

// =============================================================================
// LISTINGS
// =============================================================================

// ListingDTO represents a listing in API responses.
type ListingDTO struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	Prefix          string          `json:"prefix"`
	Title           string          `json:"title"`
	Address         string          `json:"address"`
	TransactionType string          `json:"transaction_type"`
	BuildingType    string          `json:"building_type"`
	Deposit         decimal.Decimal `json:"deposit"`
	MonthlyRent     decimal.Decimal `json:"monthly_rent"`
	SalePrice       decimal.Decimal `json:"sale_price"`
	AreaM2          decimal.Decimal `json:"area_m2"`
	Status          string          `json:"status"`
	Agent           string          `json:"agent,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}

// CreateListingRequest is the listing form.
type CreateListingRequest struct {
	Title           string          `json:"title"`
	Address         string          `json:"address"`
	TransactionType string          `json:"transaction_type"`
	BuildingType    string          `json:"building_type"`
	Deposit         decimal.Decimal `json:"deposit"`
	MonthlyRent     decimal.Decimal `json:"monthly_rent"`
	SalePrice       decimal.Decimal `json:"sale_price"`
	AreaM2          decimal.Decimal `json:"area_m2"`
	Agent           string          `json:"agent"`
}

// UpdateStatusRequest moves a listing through its lifecycle.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toAllocationDTO(a codes.Allocation) AllocationDTO {
	return AllocationDTO{Prefix: string(a.Prefix), NextSeq: int64(a.NextSeq), Code: string(a.Code)}
}

func (r CommitRequest) allocation() codes.Allocation {
	return codes.Allocation{Prefix: codes.Prefix(r.Prefix), NextSeq: codes.Sequence(r.NextSeq), Code: codes.Code(r.Code)}
}

func toHistoryDTOs(entries []codes.HistoryEntry) []HistoryEntryDTO {
	out := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntryDTO{
			ID:     e.ID,
			Prefix: string(e.Prefix),
			Seq:    int64(e.Sequence),
			Code:   string(e.Code),
			Source: string(e.Source),
			Actor:  e.Actor,
			At:     e.At.Format(time.RFC3339),
		}
	}
	return out
}

func toViolationDTOs(vs []codes.Violation) []ViolationDTO {
	out := make([]ViolationDTO, len(vs))
	for i, v := range vs {
		out[i] = ViolationDTO{Prefix: string(v.Prefix), Counter: int64(v.Counter), MaxUsed: int64(v.MaxUsed)}
	}
	return out
}

func toListingDTO(l listing.Listing) ListingDTO {
	return ListingDTO{
		ID:              l.ID.String(),
		Code:            string(l.Code),
		Prefix:          string(l.Prefix),
		Title:           l.Title,
		Address:         l.Address,
		TransactionType: l.TransactionType,
		BuildingType:    l.BuildingType,
		Deposit:         l.Deposit,
		MonthlyRent:     l.MonthlyRent,
		SalePrice:       l.SalePrice,
		AreaM2:          l.AreaM2,
		Status:          string(l.Status),
		Agent:           l.Agent,
		CreatedAt:       l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       l.UpdatedAt.Format(time.RFC3339),
	}
}

func (r CreateListingRequest) input() listing.Input {
	return listing.Input{
		Title:           r.Title,
		Address:         r.Address,
		TransactionType: r.TransactionType,
		BuildingType:    r.BuildingType,
		Deposit:         r.Deposit,
		MonthlyRent:     r.MonthlyRent,
		SalePrice:       r.SalePrice,
		AreaM2:          r.AreaM2,
		Agent:           r.Agent,
	}
}
