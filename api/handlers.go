/*
handlers.go - HTTP API handlers for listing codes and listings

PURPOSE:
  Exposes the code allocator and the listing registry via REST API.
  Handles HTTP request/response and JSON serialization, and delegates to
  codes/ and listing/.

ENDPOINTS:
  Codes:
    GET    /api/codes/prefix           Resolve prefix from labels
    GET    /api/codes/preview          Next free code (no state change)
    POST   /api/codes/commit           Record a previewed code
    POST   /api/codes/reserve          Preview + commit atomically
    GET    /api/codes/counters         Counter per prefix
    GET    /api/codes/used             Used codes for one prefix
    GET    /api/codes/history          Allocation history
    GET    /api/codes/verify           Counter/used-code consistency
    POST   /api/codes/repair           Raise lagging counters
    GET    /api/codes/integrity        Background checker status
    POST   /api/codes/import           Seed from a legacy CSV

  Listings:
    GET    /api/listings               List listings
    POST   /api/listings               Register (reserves a code)
    GET    /api/listings/{code}        Get one listing
    POST   /api/listings/{code}/status Change status

  Export:
    GET    /api/export.xlsx            Listings + counters workbook

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid prefix/code/allocation
  - 404: Listing not found
  - 409: Code space exhausted for a prefix
  - 500: Storage failures

SECURITY NOTE:
  No authentication or authorization. Run behind the office gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/listing-codes/codes"
	"github.com/warp/listing-codes/export"
	"github.com/warp/listing-codes/listing"
	"github.com/warp/listing-codes/store/sqlite"
)

// maxImportBytes caps legacy CSV uploads.
const maxImportBytes = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Allocator *codes.Allocator
	Registry  *listing.Registry
	Export    *export.Service
	Integrity *IntegrityScheduler // optional
	Logger    *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over store. The registry uses resolver for
// prefix resolution; nil means the built-in table.
func NewHandler(store *sqlite.Store, allocator *codes.Allocator, resolver *codes.Resolver, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := listing.NewRegistry(store, allocator, logger)
	if resolver != nil {
		registry.Resolver = resolver
	}
	return &Handler{
		Store:     store,
		Allocator: allocator,
		Registry:  registry,
		Export:    export.NewService(store, allocator, logger),
		Logger:    logger,
	}
}

// =============================================================================
// CODE HANDLERS
// =============================================================================

// ResolvePrefix returns the prefix for the given labels.
// GET /api/codes/prefix?transaction=&building=
func (h *Handler) ResolvePrefix(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	transaction, building := q.Get("transaction"), q.Get("building")

	writeJSON(w, http.StatusOK, PrefixDTO{
		Transaction: transaction,
		Building:    building,
		Prefix:      string(h.Registry.Resolver.Resolve(transaction, building)),
	})
}

// PreviewCode returns the next free code without reserving it.
// GET /api/codes/preview?prefix=C  or  ?transaction=&building=
func (h *Handler) PreviewCode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix := codes.Prefix(q.Get("prefix"))
	if prefix == "" {
		prefix = h.Registry.Resolver.Resolve(q.Get("transaction"), q.Get("building"))
	}

	alloc, err := h.Allocator.Preview(r.Context(), prefix)
	if err != nil {
		h.writeDomainError(w, "Failed to preview code", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(alloc))
}

// CommitCode records a previewed allocation. Committing the same code
// twice is a no-op.
// POST /api/codes/commit
func (h *Handler) CommitCode(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	alloc := req.allocation()
	if err := h.Allocator.Commit(r.Context(), alloc, req.Actor); err != nil {
		h.writeDomainError(w, "Failed to commit code", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(alloc))
}

// ReserveCode previews and commits in one step.
// POST /api/codes/reserve
func (h *Handler) ReserveCode(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	prefix := codes.Prefix(req.Prefix)
	if prefix == "" {
		prefix = h.Registry.Resolver.Resolve(req.Transaction, req.Building)
	}

	alloc, err := h.Allocator.Reserve(r.Context(), prefix, req.Actor)
	if err != nil {
		h.writeDomainError(w, "Failed to reserve code", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(alloc))
}

// GetCounters returns the counter map.
// GET /api/codes/counters
func (h *Handler) GetCounters(w http.ResponseWriter, r *http.Request) {
	counters, err := h.Allocator.Counters(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to read counters", err)
		return
	}

	out := make(map[string]int64, len(counters))
	for p, seq := range counters {
		out[string(p)] = int64(seq)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetUsedCodes lists committed codes for a prefix.
// GET /api/codes/used?prefix=C
func (h *Handler) GetUsedCodes(w http.ResponseWriter, r *http.Request) {
	prefix := codes.Prefix(r.URL.Query().Get("prefix"))

	used, err := h.Allocator.UsedCodes(r.Context(), prefix)
	if err != nil {
		h.writeDomainError(w, "Failed to read used codes", err)
		return
	}

	dto := UsedCodesDTO{Prefix: string(prefix), Codes: make([]string, len(used))}
	for i, c := range used {
		dto.Codes[i] = string(c)
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetHistory returns allocation history, newest first.
// GET /api/codes/history?prefix=&limit=
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := codes.HistoryFilter{Prefix: codes.Prefix(q.Get("prefix"))}
	if filter.Prefix != "" {
		if err := filter.Prefix.Validate(); err != nil {
			h.writeDomainError(w, "Invalid prefix", err)
			return
		}
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	filter.Limit = limit

	entries, err := h.Allocator.History(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to read history", err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(entries))
}

// VerifyCodes reports prefixes whose counter is behind their used codes.
// GET /api/codes/verify
func (h *Handler) VerifyCodes(w http.ResponseWriter, r *http.Request) {
	violations, err := h.Allocator.Verify(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to verify codes", err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyDTO{OK: len(violations) == 0, Violations: toViolationDTOs(violations)})
}

// RepairCodes raises lagging counters to their highest used code.
// POST /api/codes/repair
func (h *Handler) RepairCodes(w http.ResponseWriter, r *http.Request) {
	fixed, err := h.Allocator.Repair(r.Context(), r.URL.Query().Get("actor"))
	if err != nil {
		h.writeDomainError(w, "Failed to repair codes", err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyDTO{OK: true, Violations: toViolationDTOs(fixed), Repaired: len(fixed) > 0})
}

// GetIntegrity reports the background checker.
// GET /api/codes/integrity
func (h *Handler) GetIntegrity(w http.ResponseWriter, r *http.Request) {
	if h.Integrity == nil {
		writeJSON(w, http.StatusOK, IntegrityDTO{Violations: []ViolationDTO{}})
		return
	}
	writeJSON(w, http.StatusOK, h.Integrity.Status())
}

// ImportCodes seeds used codes from a legacy CSV in the request body.
// POST /api/codes/import?encoding=euc-kr&column=매물번호
func (h *Handler) ImportCodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)

	report, err := h.Allocator.Import(r.Context(), body, codes.ImportOptions{
		Encoding: q.Get("encoding"),
		Column:   q.Get("column"),
		Actor:    q.Get("actor"),
	})
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Import file too large", err)
			return
		}
		h.writeDomainError(w, "Failed to import codes", err)
		return
	}

	invalid := report.Invalid
	if invalid == nil {
		invalid = []string{}
	}
	writeJSON(w, http.StatusOK, ImportReportDTO{Imported: report.Imported, Skipped: report.Skipped, Invalid: invalid})
}

// =============================================================================
// LISTING HANDLERS
// =============================================================================

// ListListings returns listings, newest first.
// GET /api/listings?prefix=&status=&limit=
func (h *Handler) ListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	listings, err := h.Registry.List(r.Context(), listing.Filter{
		Prefix: codes.Prefix(q.Get("prefix")),
		Status: listing.Status(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to list listings", err)
		return
	}

	dtos := make([]ListingDTO, len(listings))
	for i, l := range listings {
		dtos[i] = toListingDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateListing registers a listing and assigns its code.
// POST /api/listings
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req CreateListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	l, err := h.Registry.Register(r.Context(), req.input())
	if err != nil {
		h.writeDomainError(w, "Failed to register listing", err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingDTO(*l))
}

// GetListing returns a single listing.
// GET /api/listings/{code}
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	code := codes.Code(chi.URLParam(r, "code"))

	l, err := h.Registry.Get(r.Context(), code)
	if err != nil {
		h.writeDomainError(w, "Failed to get listing", err)
		return
	}
	writeJSON(w, http.StatusOK, toListingDTO(*l))
}

// UpdateListingStatus changes a listing's status.
// POST /api/listings/{code}/status
func (h *Handler) UpdateListingStatus(w http.ResponseWriter, r *http.Request) {
	code := codes.Code(chi.URLParam(r, "code"))

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	l, err := h.Registry.UpdateStatus(r.Context(), code, listing.Status(req.Status))
	if err != nil {
		h.writeDomainError(w, "Failed to update status", err)
		return
	}
	writeJSON(w, http.StatusOK, toListingDTO(*l))
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportWorkbook streams the XLSX export.
// GET /api/export.xlsx
func (h *Handler) ExportWorkbook(w http.ResponseWriter, r *http.Request) {
	data, err := h.Export.Workbook(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to export workbook", err)
		return
	}

	name := fmt.Sprintf("listings-%s.xlsx", time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// =============================================================================
// HELPERS
// =============================================================================

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

// writeDomainError maps codes/listing errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var verr *listing.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, codes.ErrExhausted):
		h.Logger.Warn(message, zap.Error(err))
		writeError(w, http.StatusConflict, message, err)
	case codes.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case codes.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("limit must not be negative")
	}
	return n, nil
}
