/*
handlers_test.go - Tests for the HTTP API

Tests for:
- Prefix resolution and preview (no state change)
- Commit/reserve and error mapping (400/404/409)
- Listing registration and lifecycle
- Legacy import, verify/repair, export
- Scenarios
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/listing-codes/codes"
	"github.com/warp/listing-codes/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testAPI struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
}

func newTestAPI(t *testing.T, opts ...codes.Option) *testAPI {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, codes.NewAllocator(store, opts...), nil, nil)
	return &testAPI{t: t, handler: h, router: NewRouter(h, nil)}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(a.t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// CODES
// =============================================================================

func TestResolvePrefix(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do("GET", "/api/codes/prefix?transaction=%EC%9B%94%EC%84%B8&building=%EB%B9%8C%EB%9D%BC", nil) // 월세, 빌라
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BO", decode[PrefixDTO](t, rec).Prefix)
}

func TestPreviewCommitFlow(t *testing.T) {
	// GIVEN: An empty database
	// WHEN: The form previews, then saves with the previewed allocation
	// THEN: The next preview moves on and the counter is persisted

	api := newTestAPI(t)

	rec := api.do("GET", "/api/codes/preview?prefix=C", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[AllocationDTO](t, rec)
	assert.Equal(t, AllocationDTO{Prefix: "C", NextSeq: 1, Code: "C-0001"}, preview)

	// Preview twice: still the same code
	rec = api.do("GET", "/api/codes/preview?prefix=C", nil)
	assert.Equal(t, "C-0001", decode[AllocationDTO](t, rec).Code)

	rec = api.do("POST", "/api/codes/commit", CommitRequest{Prefix: "C", NextSeq: 1, Code: "C-0001", Actor: "kim"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Committing again is a no-op
	rec = api.do("POST", "/api/codes/commit", CommitRequest{Prefix: "C", NextSeq: 1, Code: "C-0001"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do("GET", "/api/codes/preview?prefix=C", nil)
	assert.Equal(t, "C-0002", decode[AllocationDTO](t, rec).Code)

	rec = api.do("GET", "/api/codes/counters", nil)
	assert.Equal(t, map[string]int64{"C": 1}, decode[map[string]int64](t, rec))

	rec = api.do("GET", "/api/codes/history?prefix=C", nil)
	history := decode[[]HistoryEntryDTO](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "kim", history[0].Actor)
}

func TestReserve_ByLabels(t *testing.T) {
	api := newTestAPI(t)

	for _, want := range []string{"BL-0001", "BL-0002"} {
		rec := api.do("POST", "/api/codes/reserve", ReserveRequest{Transaction: "전세", Building: "빌라"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, want, decode[AllocationDTO](t, rec).Code)
	}

	rec := api.do("GET", "/api/codes/used?prefix=BL", nil)
	assert.Equal(t, []string{"BL-0001", "BL-0002"}, decode[UsedCodesDTO](t, rec).Codes)
}

func TestCodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"lowercase prefix", "GET", "/api/codes/preview?prefix=c", nil, http.StatusBadRequest},
		{"three letter prefix", "POST", "/api/codes/reserve", ReserveRequest{Prefix: "ABC"}, http.StatusBadRequest},
		{"inconsistent commit", "POST", "/api/codes/commit", CommitRequest{Prefix: "C", NextSeq: 2, Code: "C-0001"}, http.StatusBadRequest},
		{"malformed body", "POST", "/api/codes/commit", "{", http.StatusBadRequest},
		{"sequence out of range", "POST", "/api/codes/commit", CommitRequest{Prefix: "C", NextSeq: 9223372036854775807, Code: "C-9223372036854775807"}, http.StatusBadRequest},
		{"used without prefix", "GET", "/api/codes/used", nil, http.StatusBadRequest},
		{"negative limit", "GET", "/api/codes/history?limit=-1", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t)
			rec := api.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestPreview_ExhaustedIsConflict(t *testing.T) {
	// GIVEN: Guard of 2 and the two codes after the counter already used
	api := newTestAPI(t, codes.WithGuardLimit(2))
	ctx := context.Background()
	err := api.handler.Store.WithTx(ctx, func(s codes.Store) error {
		for _, c := range []codes.Code{"J-0001", "J-0002"} {
			if err := s.Commit(ctx, codes.Allocation{Prefix: "J", NextSeq: 0, Code: c}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	// WHEN: Previewing
	rec := api.do("GET", "/api/codes/preview?prefix=J", nil)

	// THEN: 409, never a colliding code
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "exhausted")
}

func TestVerifyAndRepair(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	if err := api.handler.LoadScenarioByID(ctx, "lagging-counter"); err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}

	rec := api.do("GET", "/api/codes/verify", nil)
	report := decode[VerifyDTO](t, rec)
	assert.False(t, report.OK)
	assert.Equal(t, []ViolationDTO{{Prefix: "C", Counter: 2, MaxUsed: 3}}, report.Violations)

	// Preview still skips the hand-written code
	rec = api.do("GET", "/api/codes/preview?prefix=C", nil)
	assert.Equal(t, "C-0004", decode[AllocationDTO](t, rec).Code)

	rec = api.do("POST", "/api/codes/repair?actor=admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[VerifyDTO](t, rec).Repaired)

	rec = api.do("GET", "/api/codes/verify", nil)
	assert.True(t, decode[VerifyDTO](t, rec).OK)
}

func TestImportCodes(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do("POST", "/api/codes/import", "code,addr\nBM-0041,서울\n,\nnope,부산\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[ImportReportDTO](t, rec)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []string{"nope"}, report.Invalid)

	rec = api.do("GET", "/api/codes/preview?prefix=BM", nil)
	assert.Equal(t, "BM-0042", decode[AllocationDTO](t, rec).Code)

	rec = api.do("POST", "/api/codes/import?encoding=latin1", "BM-0001\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetIntegrity(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do("GET", "/api/codes/integrity", nil)
	assert.False(t, decode[IntegrityDTO](t, rec).Enabled)

	api.handler.Integrity = NewIntegrityScheduler(api.handler.Allocator, nil)
	api.handler.Integrity.RunNow(context.Background())

	rec = api.do("GET", "/api/codes/integrity", nil)
	status := decode[IntegrityDTO](t, rec)
	assert.NotEmpty(t, status.LastRun)
	assert.Empty(t, status.Violations)
}

// =============================================================================
// LISTINGS
// =============================================================================

func TestListingLifecycle(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do("POST", "/api/listings", `{
		"title": "잠실 엘스 84㎡",
		"address": "서울 송파구 잠실동 19",
		"transaction_type": "매매",
		"building_type": "아파트",
		"sale_price": 2600000000,
		"area_m2": "84.8",
		"agent": "kim"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[ListingDTO](t, rec)
	assert.Equal(t, "C-0001", created.Code)
	assert.Equal(t, "active", created.Status)
	assert.Equal(t, "2600000000", created.SalePrice.String())

	rec = api.do("GET", "/api/listings/C-0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[ListingDTO](t, rec).ID)

	rec = api.do("POST", "/api/listings/C-0001/status", UpdateStatusRequest{Status: "contracted"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "contracted", decode[ListingDTO](t, rec).Status)

	rec = api.do("GET", "/api/listings?status=contracted", nil)
	assert.Len(t, decode[[]ListingDTO](t, rec), 1)

	rec = api.do("GET", "/api/listings?status=active", nil)
	assert.Empty(t, decode[[]ListingDTO](t, rec))
}

func TestListingErrors(t *testing.T) {
	api := newTestAPI(t)

	// Missing price: 400, and no code is consumed
	rec := api.do("POST", "/api/listings", `{"title":"t","address":"a","transaction_type":"전세","building_type":"빌라"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "deposit is required")

	rec = api.do("GET", "/api/codes/preview?prefix=BL", nil)
	assert.Equal(t, "BL-0001", decode[AllocationDTO](t, rec).Code)

	rec = api.do("GET", "/api/listings/BL-0001", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do("GET", "/api/listings/not-a-code", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do("POST", "/api/listings/BL-0001/status", UpdateStatusRequest{Status: "sold"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// EXPORT & SCENARIOS
// =============================================================================

func TestExportWorkbook(t *testing.T) {
	api := newTestAPI(t)
	if err := api.handler.LoadScenarioByID(context.Background(), "busy-office"); err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}

	rec := api.do("GET", "/api/export.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Listings")
	require.NoError(t, err)
	assert.Len(t, rows, len(demoListings())+1)
}

func TestScenarios(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do("GET", "/api/scenarios", nil)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))

	rec = api.do("POST", "/api/scenarios/load", map[string]string{"scenario_id": "legacy-migration"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do("GET", "/api/scenarios/current", nil)
	assert.Equal(t, "legacy-migration", decode[ScenarioDTO](t, rec).ID)

	// Imported C-0017 is the highest apartment code; new ones follow it
	rec = api.do("GET", "/api/listings?prefix=C", nil)
	apartments := decode[[]ListingDTO](t, rec)
	require.Len(t, apartments, 2)
	got := []string{apartments[0].Code, apartments[1].Code}
	assert.ElementsMatch(t, []string{"C-0018", "C-0019"}, got)

	rec = api.do("GET", "/api/listings?prefix=BO", nil)
	monthly := decode[[]ListingDTO](t, rec)
	require.Len(t, monthly, 1)
	assert.Equal(t, "BO-0010", monthly[0].Code)

	rec = api.do("POST", "/api/scenarios/load", map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do("POST", "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do("GET", "/api/codes/counters", nil)
	assert.Empty(t, decode[map[string]int64](t, rec))
}
