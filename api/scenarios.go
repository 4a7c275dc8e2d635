/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	listings for demos. Each scenario exercises a specific part of code
	allocation.

AVAILABLE SCENARIOS:

	empty-office:      Empty database, every prefix starts at 0001
	busy-office:       Listings across every category, some contracted
	legacy-migration:  Codes imported from an old spreadsheet with gaps
	lagging-counter:   A counter behind its used codes (verify/repair)

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Import legacy codes and/or register listings through the registry
 3. Optionally change listing statuses

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "busy-office"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Code and listing handlers
  - listing/registry.go: Register
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/listing-codes/codes"
	"github.com/warp/listing-codes/listing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "empty-office",
		Name:        "Empty Office",
		Description: "No listings yet; the first code of every prefix is 0001",
	},
	{
		ID:          "busy-office",
		Name:        "Busy Office",
		Description: "Apartments, villas, shops and redevelopment lots across all transaction types",
	},
	{
		ID:          "legacy-migration",
		Name:        "Legacy Migration",
		Description: "Codes imported from an old spreadsheet; new listings continue after the highest number",
	},
	{
		ID:          "lagging-counter",
		Name:        "Lagging Counter",
		Description: "A code written outside the allocator; preview skips it and verify reports it",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
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

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errUnknownScenario = errors.New("unknown scenario")

// LoadScenarioByID resets the database and loads scenario id.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var loader func(context.Context) error
	switch id {
	case "empty-office":
		loader = func(context.Context) error { return nil }
	case "busy-office":
		loader = h.loadBusyOfficeScenario
	case "legacy-migration":
		loader = h.loadLegacyMigrationScenario
	case "lagging-counter":
		loader = h.loadLaggingCounterScenario
	default:
		return errUnknownScenario
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.currentScenario = ""

	if err := loader(ctx); err != nil {
		return err
	}
	h.currentScenario = id
	h.Logger.Sugar().Infow("scenario loaded", "scenario", id)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func won(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func demoListings() []listing.Input {
	return []listing.Input{
		{Title: "래미안 퍼스티지 84㎡", Address: "서울 서초구 반포동 20-43", TransactionType: listing.TransactionSale, BuildingType: listing.BuildingApartment, SalePrice: won("3150000000"), AreaM2: won("84.93"), Agent: "kim"},
		{Title: "마포 래미안푸르지오 59㎡", Address: "서울 마포구 아현동 700", TransactionType: listing.TransactionJeonse, BuildingType: listing.BuildingApartment, Deposit: won("750000000"), AreaM2: won("59.98"), Agent: "lee"},
		{Title: "망원동 신축 투룸", Address: "서울 마포구 망원동 412-3", TransactionType: listing.TransactionJeonse, BuildingType: listing.BuildingVilla, Deposit: won("230000000"), AreaM2: won("41.2"), Agent: "park"},
		{Title: "연남동 원룸", Address: "서울 마포구 연남동 239-8", TransactionType: listing.TransactionMonthlyRent, BuildingType: listing.BuildingVilla, Deposit: won("10000000"), MonthlyRent: won("700000"), AreaM2: won("23.1"), Agent: "park"},
		{Title: "성수동 1층 상가", Address: "서울 성동구 성수동2가 300-1", TransactionType: listing.TransactionMonthlyRent, BuildingType: listing.BuildingCommercial, Deposit: won("50000000"), MonthlyRent: won("3200000"), AreaM2: won("66"), Agent: "choi"},
		{Title: "강남역 오피스텔", Address: "서울 강남구 역삼동 825", TransactionType: listing.TransactionMonthlyRent, BuildingType: listing.BuildingOfficetel, Deposit: won("10000000"), MonthlyRent: won("950000"), AreaM2: won("27.5"), Agent: "kim"},
		{Title: "한남3구역 입주권", Address: "서울 용산구 한남동 686", TransactionType: listing.TransactionSale, BuildingType: listing.BuildingRedevelopment, SalePrice: won("1900000000"), Agent: "lee"},
		{Title: "양평 전원주택", Address: "경기 양평군 서종면 문호리", TransactionType: listing.TransactionSale, BuildingType: listing.BuildingDetached, SalePrice: won("680000000"), AreaM2: won("132"), Agent: "choi"},
	}
}

func (h *Handler) loadBusyOfficeScenario(ctx context.Context) error {
	var registered []*listing.Listing
	for _, in := range demoListings() {
		l, err := h.Registry.Register(ctx, in)
		if err != nil {
			return fmt.Errorf("register %q: %w", in.Title, err)
		}
		registered = append(registered, l)
	}

	// A couple of deals closed
	for _, i := range []int{1, 3} {
		if _, err := h.Registry.UpdateStatus(ctx, registered[i].Code, listing.StatusContracted); err != nil {
			return err
		}
	}
	_, err := h.Registry.UpdateStatus(ctx, registered[7].Code, listing.StatusWithdrawn)
	return err
}

// legacySheet is how the office's old spreadsheet looked: a header row,
// numbering gaps, a blank and a hand-typed cell that is not a code.
const legacySheet = `매물번호,주소,비고
C-0001,서울 송파구 잠실동,
C-0002,서울 송파구 신천동,
C-0017,서울 강동구 고덕동,번호 건너뜀
,,
BL-0120,서울 광진구 자양동,
BO-0009,서울 관악구 신림동,
아파트-3,서울 노원구,수기 입력
`

func (h *Handler) loadLegacyMigrationScenario(ctx context.Context) error {
	report, err := h.Allocator.Import(ctx, strings.NewReader(legacySheet), codes.ImportOptions{
		Column: "매물번호",
		Actor:  "migration",
	})
	if err != nil {
		return fmt.Errorf("import legacy sheet: %w", err)
	}
	h.Logger.Sugar().Infow("legacy sheet imported",
		"imported", report.Imported, "skipped", report.Skipped, "invalid", report.Invalid)

	// New listings continue after the imported numbers
	for _, in := range demoListings()[:4] {
		if _, err := h.Registry.Register(ctx, in); err != nil {
			return fmt.Errorf("register %q: %w", in.Title, err)
		}
	}
	return nil
}

func (h *Handler) loadLaggingCounterScenario(ctx context.Context) error {
	for _, in := range demoListings()[:2] {
		if _, err := h.Registry.Register(ctx, in); err != nil {
			return fmt.Errorf("register %q: %w", in.Title, err)
		}
	}

	// Simulates a code inserted by hand into used_codes: the C counter
	// stays at 2 while C-0003 is taken.
	return h.Store.WithTx(ctx, func(s codes.Store) error {
		return s.Commit(ctx, codes.Allocation{Prefix: codes.PrefixApartment, NextSeq: 2, Code: "C-0003"})
	})
}
