/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the listing form

ROUTE GROUPS:
  /api/codes/*          Prefix resolution, preview, commit, reserve, admin
  /api/listings/*       Listing registration and lifecycle
  /api/export.xlsx      Workbook export
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are the dev-server origins of the listing form.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Code routes
		r.Route("/codes", func(r chi.Router) {
			r.Get("/prefix", h.ResolvePrefix)
			r.Get("/preview", h.PreviewCode)
			r.Post("/commit", h.CommitCode)
			r.Post("/reserve", h.ReserveCode)
			r.Get("/counters", h.GetCounters)
			r.Get("/used", h.GetUsedCodes)
			r.Get("/history", h.GetHistory)
			r.Get("/verify", h.VerifyCodes)
			r.Post("/repair", h.RepairCodes)
			r.Get("/integrity", h.GetIntegrity)
			r.Post("/import", h.ImportCodes)
		})

		// Listing routes
		r.Route("/listings", func(r chi.Router) {
			r.Get("/", h.ListListings)
			r.Post("/", h.CreateListing)
			r.Get("/{code}", h.GetListing)
			r.Post("/{code}/status", h.UpdateListingStatus)
		})

		r.Get("/export.xlsx", h.ExportWorkbook)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
