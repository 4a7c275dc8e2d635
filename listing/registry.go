package listing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/listing-codes/codes"
)

// =============================================================================
// REGISTRY - Listing lifecycle with transactional code reservation
// =============================================================================

type Registry struct {
	Store     Store
	Allocator *codes.Allocator
	Resolver  *codes.Resolver
	Logger    *zap.Logger
	Now       func() time.Time
}

// NewRegistry wires a registry with the default resolver.
func NewRegistry(store Store, allocator *codes.Allocator, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		Store:     store,
		Allocator: allocator,
		Resolver:  codes.DefaultResolver(),
		Logger:    logger,
		Now:       time.Now,
	}
}

// PreviewCode shows the code a listing with these labels would get if it
// were saved now. Nothing is reserved.
func (r *Registry) PreviewCode(ctx context.Context, transaction, building string) (codes.Allocation, error) {
	return r.Allocator.Preview(ctx, r.Resolver.Resolve(transaction, building))
}

// Register saves a new listing. This is TRANSACTIONAL:
//   - Validates the input
//   - Resolves the prefix and reserves the next free code
//   - Persists the listing
//
// If ANY step fails, the code is not consumed.
func (r *Registry) Register(ctx context.Context, in Input) (*Listing, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	prefix := r.Resolver.Resolve(in.TransactionType, in.BuildingType)
	now := r.Now().UTC()

	l := Listing{
		ID:              uuid.New(),
		Prefix:          prefix,
		Title:           strings.TrimSpace(in.Title),
		Address:         strings.TrimSpace(in.Address),
		TransactionType: strings.TrimSpace(in.TransactionType),
		BuildingType:    strings.TrimSpace(in.BuildingType),
		Deposit:         in.Deposit,
		MonthlyRent:     in.MonthlyRent,
		SalePrice:       in.SalePrice,
		AreaM2:          in.AreaM2,
		Status:          StatusActive,
		Agent:           in.Agent,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := r.Store.WithListingTx(ctx, func(tx Tx) error {
		alloc, err := r.Allocator.ReserveIn(ctx, tx, prefix, in.Agent)
		if err != nil {
			return err
		}
		l.Code = alloc.Code
		if err := tx.SaveListing(ctx, l); err != nil {
			return fmt.Errorf("save listing: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.Logger.Info("listing registered",
		zap.String("code", l.Code.String()),
		zap.String("id", l.ID.String()),
		zap.String("agent", l.Agent))
	return &l, nil
}

// Get returns the listing with code, or codes.ErrNotFound.
func (r *Registry) Get(ctx context.Context, code codes.Code) (*Listing, error) {
	if _, _, err := codes.Parse(code); err != nil {
		return nil, err
	}
	l, err := r.Store.GetListing(ctx, code)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("listing %s: %w", code, codes.ErrNotFound)
	}
	return l, nil
}

// List returns listings, newest first.
func (r *Registry) List(ctx context.Context, filter Filter) ([]Listing, error) {
	if filter.Prefix != "" {
		if err := filter.Prefix.Validate(); err != nil {
			return nil, err
		}
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("unknown status %q", filter.Status)}}
	}
	return r.Store.ListListings(ctx, filter)
}

// UpdateStatus moves a listing through its lifecycle. Withdrawn listings
// keep their code; codes are never reused.
func (r *Registry) UpdateStatus(ctx context.Context, code codes.Code, status Status) (*Listing, error) {
	if !status.Valid() {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("unknown status %q", status)}}
	}
	if _, _, err := codes.Parse(code); err != nil {
		return nil, err
	}
	if err := r.Store.UpdateListingStatus(ctx, code, status, r.Now().UTC()); err != nil {
		return nil, err
	}
	r.Logger.Info("listing status changed",
		zap.String("code", code.String()),
		zap.String("status", string(status)))
	return r.Get(ctx, code)
}
