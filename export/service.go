// Package export renders the listing book and code counters as an XLSX
// workbook for the office's back-office staff.
package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/listing-codes/codes"
	"github.com/warp/listing-codes/listing"
)

const (
	SheetListings = "Listings"
	SheetCounters = "Counters"
)

// ListingSource is the read side of the listing store.
type ListingSource interface {
	ListListings(ctx context.Context, filter listing.Filter) ([]listing.Listing, error)
}

// CounterSource is the read side of the code state.
type CounterSource interface {
	Counters(ctx context.Context) (map[codes.Prefix]codes.Sequence, error)
	UsedCodes(ctx context.Context, prefix codes.Prefix) ([]codes.Code, error)
	UsedPrefixes(ctx context.Context) ([]codes.Prefix, error)
}

// Service produces XLSX bytes.
type Service struct {
	listings ListingSource
	counters CounterSource
	logger   *zap.Logger
}

func NewService(listings ListingSource, counters CounterSource, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{listings: listings, counters: counters, logger: logger}
}

var listingHeaders = []string{
	"Code", "Title", "Address", "Transaction", "Building",
	"Deposit", "Monthly Rent", "Sale Price", "Area (m2)",
	"Status", "Agent", "Registered",
}

var counterHeaders = []string{"Prefix", "Counter", "Used Codes", "Highest Used"}

// Workbook returns the listings and counters as an XLSX workbook.
func (s *Service) Workbook(ctx context.Context) ([]byte, error) {
	start := time.Now()

	var (
		rows     []listing.Listing
		counters map[codes.Prefix]codes.Sequence
		usedIn   []codes.Prefix
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = s.listings.ListListings(gctx, listing.Filter{})
		if err != nil {
			return fmt.Errorf("query listings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		counters, err = s.counters.Counters(gctx)
		if err != nil {
			return fmt.Errorf("query counters: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		usedIn, err = s.counters.UsedPrefixes(gctx)
		if err != nil {
			return fmt.Errorf("query used prefixes: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetListings); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetCounters); err != nil {
		return nil, err
	}

	writeRow(f, SheetListings, 1, toAny(listingHeaders))
	for i, l := range rows {
		writeRow(f, SheetListings, i+2, []any{
			l.Code.String(),
			l.Title,
			l.Address,
			l.TransactionType,
			l.BuildingType,
			amount(l.Deposit),
			amount(l.MonthlyRent),
			amount(l.SalePrice),
			amount(l.AreaM2),
			string(l.Status),
			l.Agent,
			l.CreatedAt.Format("2006-01-02"),
		})
	}

	// A prefix can have used codes without a counter row; Verify flags it,
	// the export still lists it.
	seen := make(map[codes.Prefix]bool, len(counters)+len(usedIn))
	prefixes := make([]codes.Prefix, 0, len(counters)+len(usedIn))
	for p := range counters {
		seen[p] = true
		prefixes = append(prefixes, p)
	}
	for _, p := range usedIn {
		if !seen[p] {
			seen[p] = true
			prefixes = append(prefixes, p)
		}
	}
	sort.Slice(prefixes, func(i, j int) bool { return prefixes[i] < prefixes[j] })

	writeRow(f, SheetCounters, 1, toAny(counterHeaders))
	for i, p := range prefixes {
		used, err := s.counters.UsedCodes(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("query used codes %s: %w", p, err)
		}
		highest := ""
		if len(used) > 0 {
			highest = used[len(used)-1].String()
		}
		writeRow(f, SheetCounters, i+2, []any{string(p), int64(counters[p]), len(used), highest})
	}

	_ = f.SetColWidth(SheetListings, "A", "A", 10)
	_ = f.SetColWidth(SheetListings, "B", "C", 36)
	_ = f.SetColWidth(SheetListings, "F", "H", 16)
	_ = f.SetColWidth(SheetCounters, "C", "D", 14)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export workbook written",
		zap.Int("listings", len(rows)),
		zap.Int("prefixes", len(prefixes)),
		zap.Duration("elapsed", time.Since(start)))
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// amount writes a numeric cell so sheets can sum it. Zero stays blank so
// sale rows do not show a deposit of 0.
func amount(d decimal.Decimal) any {
	if d.IsZero() {
		return nil
	}
	return d.InexactFloat64()
}
