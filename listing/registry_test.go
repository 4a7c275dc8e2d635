package listing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/listing-codes/codes"
	"github.com/warp/listing-codes/listing"
	"github.com/warp/listing-codes/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRegistry(t *testing.T) (*listing.Registry, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := listing.NewRegistry(store, codes.NewAllocator(store), nil)
	registry.Now = func() time.Time { return time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC) }
	return registry, store
}

func won(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func apartmentSale() listing.Input {
	return listing.Input{
		Title:           "래미안 84㎡ 남향",
		Address:         "서울 서초구 반포동 20",
		TransactionType: listing.TransactionSale,
		BuildingType:    listing.BuildingApartment,
		SalePrice:       won("2450000000"),
		AreaM2:          won("84.97"),
		Agent:           "agent-kim",
	}
}

func villaJeonse() listing.Input {
	return listing.Input{
		Title:           "신축 투룸",
		Address:         "서울 마포구 망원동 3",
		TransactionType: listing.TransactionJeonse,
		BuildingType:    listing.BuildingVilla,
		Deposit:         won("230000000"),
		Agent:           "agent-lee",
	}
}

// =============================================================================
// REGISTER
// =============================================================================

func TestRegister_AssignsCodeByCategory(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	apt, err := registry.Register(ctx, apartmentSale())
	require.NoError(t, err)
	assert.Equal(t, codes.Code("C-0001"), apt.Code)
	assert.Equal(t, codes.Prefix("C"), apt.Prefix)
	assert.Equal(t, listing.StatusActive, apt.Status)

	villa, err := registry.Register(ctx, villaJeonse())
	require.NoError(t, err)
	assert.Equal(t, codes.Code("BL-0001"), villa.Code)

	apt2, err := registry.Register(ctx, apartmentSale())
	require.NoError(t, err)
	assert.Equal(t, codes.Code("C-0002"), apt2.Code)
}

func TestRegister_PreviewMatchesRegisteredCode(t *testing.T) {
	// GIVEN: A preview shown on the form
	// WHEN: The form is saved without other registrations in between
	// THEN: The listing gets the previewed code

	registry, store := newTestRegistry(t)
	ctx := context.Background()

	preview, err := registry.PreviewCode(ctx, listing.TransactionMonthlyRent, listing.BuildingVilla)
	require.NoError(t, err)
	assert.Equal(t, codes.Code("BO-0001"), preview.Code)

	counter, err := store.Counter(ctx, "BO")
	require.NoError(t, err)
	assert.Zero(t, counter, "preview must not reserve")

	in := villaJeonse()
	in.TransactionType = listing.TransactionMonthlyRent
	in.Deposit = won("10000000")
	in.MonthlyRent = won("850000")
	l, err := registry.Register(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, preview.Code, l.Code)
}

func TestRegister_InvalidInput_ConsumesNoCode(t *testing.T) {
	registry, store := newTestRegistry(t)
	ctx := context.Background()

	in := apartmentSale()
	in.SalePrice = decimal.Zero

	_, err := registry.Register(ctx, in)
	var verr *listing.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems, "sale_price is required for a sale")

	counter, err := store.Counter(ctx, "C")
	require.NoError(t, err)
	assert.Zero(t, counter)
}

// saveFailingStore lets the code reservation run inside the real
// transaction, then fails the listing write.
type saveFailingStore struct {
	*sqlite.Store
}

func (s saveFailingStore) WithListingTx(ctx context.Context, fn func(listing.Tx) error) error {
	return s.Store.WithListingTx(ctx, func(tx listing.Tx) error {
		return fn(saveFailingTx{tx})
	})
}

type saveFailingTx struct {
	listing.Tx
}

func (saveFailingTx) SaveListing(context.Context, listing.Listing) error {
	return errors.New("disk full")
}

func TestRegister_SaveFailure_RollsBackReservedCode(t *testing.T) {
	// GIVEN: A store whose listing write fails after the code is reserved
	// WHEN: Registering a listing
	// THEN: The error surfaces and the counter, used codes and history are untouched

	registry, store := newTestRegistry(t)
	ctx := context.Background()

	failing := *registry
	failing.Store = saveFailingStore{store}

	_, err := failing.Register(ctx, apartmentSale())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	counter, err := store.Counter(ctx, "C")
	require.NoError(t, err)
	assert.Zero(t, counter)

	used, err := store.IsUsed(ctx, "C-0001")
	require.NoError(t, err)
	assert.False(t, used)

	history, err := store.History(ctx, codes.HistoryFilter{Prefix: "C"})
	require.NoError(t, err)
	assert.Empty(t, history)

	// The code is still the next one handed out
	l, err := registry.Register(ctx, apartmentSale())
	require.NoError(t, err)
	assert.Equal(t, codes.Code("C-0001"), l.Code)
}

func TestRegister_UnclassifiedLabels_UseSentinelPrefix(t *testing.T) {
	registry, _ := newTestRegistry(t)

	l, err := registry.Register(context.Background(), listing.Input{
		Title:           "창고 임대 문의",
		Address:         "경기 김포시",
		TransactionType: "",
		BuildingType:    "창고",
	})
	require.NoError(t, err)
	assert.Equal(t, codes.Code("X-0001"), l.Code)
}

func TestRegister_Concurrent_UniqueCodes(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = make(map[string]bool)
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := registry.Register(ctx, villaJeonse())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen[string(l.Code)] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 25)
}

// =============================================================================
// QUERIES & STATUS
// =============================================================================

func TestGetListUpdateStatus(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.Register(ctx, apartmentSale())
	require.NoError(t, err)
	_, err = registry.Register(ctx, villaJeonse())
	require.NoError(t, err)

	got, err := registry.Get(ctx, "BL-0001")
	require.NoError(t, err)
	assert.Equal(t, "신축 투룸", got.Title)

	_, err = registry.Get(ctx, "BL-0002")
	assert.ErrorIs(t, err, codes.ErrNotFound)

	_, err = registry.Get(ctx, "bogus")
	assert.ErrorIs(t, err, codes.ErrInvalidCode)

	all, err := registry.List(ctx, listing.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyC, err := registry.List(ctx, listing.Filter{Prefix: "C"})
	require.NoError(t, err)
	require.Len(t, onlyC, 1)
	assert.Equal(t, codes.Code("C-0001"), onlyC[0].Code)

	updated, err := registry.UpdateStatus(ctx, "C-0001", listing.StatusContracted)
	require.NoError(t, err)
	assert.Equal(t, listing.StatusContracted, updated.Status)

	_, err = registry.UpdateStatus(ctx, "C-0001", "sold")
	var verr *listing.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = registry.UpdateStatus(ctx, "C-0042", listing.StatusWithdrawn)
	assert.ErrorIs(t, err, codes.ErrNotFound)

	_, err = registry.List(ctx, listing.Filter{Status: "sold"})
	assert.ErrorAs(t, err, &verr)
}
