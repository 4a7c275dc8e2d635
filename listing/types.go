// Package listing implements property listing registration.
// Every listing consumes exactly one code from the codes allocator.
package listing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/listing-codes/codes"
)

// =============================================================================
// TRANSACTION & BUILDING LABELS
// =============================================================================

// Transaction type labels used on the listing form.
const (
	TransactionSale        = "매매"
	TransactionJeonse      = "전세"
	TransactionMonthlyRent = "월세"
)

// Building type labels used on the listing form.
const (
	BuildingApartment     = "아파트"
	BuildingVilla         = "빌라"
	BuildingOfficetel     = "오피스텔"
	BuildingDetached      = "단독주택"
	BuildingCommercial    = "상가"
	BuildingOffice        = "사무실"
	BuildingRedevelopment = "재개발"
	BuildingLand          = "토지"
)

// PriceKind says which price fields a transaction type requires.
type PriceKind string

const (
	PriceSale    PriceKind = "sale"
	PriceJeonse  PriceKind = "jeonse"
	PriceMonthly PriceKind = "monthly"
	PriceAny     PriceKind = "any"
)

// PriceKindOf classifies a free-form transaction label with the default
// transaction rules, so "월세" and "monthly rent" behave the same.
func PriceKindOf(transaction string) PriceKind {
	switch transactionResolver.Resolve(transaction, "") {
	case codes.PrefixMonthlyRent:
		return PriceMonthly
	case codes.PrefixJeonse:
		return PriceJeonse
	case codes.PrefixSale:
		return PriceSale
	default:
		return PriceAny
	}
}

var transactionResolver = codes.NewResolver(transactionRules(), "")

func transactionRules() []codes.Rule {
	var out []codes.Rule
	for _, r := range codes.DefaultRules() {
		if r.Field == codes.FieldTransaction {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// LISTING
// =============================================================================

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusActive     Status = "active"
	StatusContracted Status = "contracted"
	StatusWithdrawn  Status = "withdrawn"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusContracted, StatusWithdrawn:
		return true
	}
	return false
}

// Listing is a registered property. Prices are in KRW.
type Listing struct {
	ID              uuid.UUID
	Code            codes.Code
	Prefix          codes.Prefix
	Title           string
	Address         string
	TransactionType string
	BuildingType    string
	Deposit         decimal.Decimal
	MonthlyRent     decimal.Decimal
	SalePrice       decimal.Decimal
	AreaM2          decimal.Decimal
	Status          Status
	Agent           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Input is what the listing form submits.
type Input struct {
	Title           string
	Address         string
	TransactionType string
	BuildingType    string
	Deposit         decimal.Decimal
	MonthlyRent     decimal.Decimal
	SalePrice       decimal.Decimal
	AreaM2          decimal.Decimal
	Agent           string
}

// Validate checks required fields and price rules for the transaction type.
func (in Input) Validate() error {
	var problems []string

	if strings.TrimSpace(in.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(in.Address) == "" {
		problems = append(problems, "address is required")
	}
	for name, d := range map[string]decimal.Decimal{
		"deposit":      in.Deposit,
		"monthly_rent": in.MonthlyRent,
		"sale_price":   in.SalePrice,
		"area_m2":      in.AreaM2,
	} {
		if d.IsNegative() {
			problems = append(problems, name+" must not be negative")
		}
	}

	switch PriceKindOf(in.TransactionType) {
	case PriceSale:
		if !in.SalePrice.IsPositive() {
			problems = append(problems, "sale_price is required for a sale")
		}
	case PriceJeonse:
		if !in.Deposit.IsPositive() {
			problems = append(problems, "deposit is required for a jeonse lease")
		}
	case PriceMonthly:
		if !in.MonthlyRent.IsPositive() {
			problems = append(problems, "monthly_rent is required for a monthly rent")
		}
	}

	if len(problems) > 0 {
		// map iteration order is random; keep messages stable
		sort.Strings(problems)
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	Prefix codes.Prefix
	Status Status
	Limit  int
}

// =============================================================================
// STORE
// =============================================================================

// Tx is the view of the store inside a registration transaction.
type Tx interface {
	codes.Store
	SaveListing(ctx context.Context, l Listing) error
}

// Store persists listings alongside the code state.
type Store interface {
	WithListingTx(ctx context.Context, fn func(Tx) error) error

	// GetListing returns nil, nil when no listing has code.
	GetListing(ctx context.Context, code codes.Code) (*Listing, error)
	ListListings(ctx context.Context, filter Filter) ([]Listing, error)

	// UpdateListingStatus returns codes.ErrNotFound for unknown codes.
	UpdateListingStatus(ctx context.Context, code codes.Code, status Status, at time.Time) error
}

// =============================================================================
// ERRORS
// =============================================================================

// ValidationError lists everything wrong with an Input.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid listing: %s", strings.Join(e.Problems, "; "))
}
