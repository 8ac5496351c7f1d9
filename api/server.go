/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /healthz              Liveness
  /metrics              Prometheus scrape endpoint
  /api/formulas/*       Formula checking
  /api/structures       Salary structures
  /api/kpi/*            KPI periods, runs and schedule
  /api/employees/*      Per-employee KPI records
  /api/payroll/*        Payroll runs
  /api/payslips/*       Payslip lines and final KPI score
  /api/adjustments/*    Adjustment records

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/payroll/serve.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultOrigins are the CORS origins allowed when none are configured.
var DefaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured. An empty
// origins list allows DefaultOrigins.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = DefaultOrigins
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	} else {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		})
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/formulas", func(r chi.Router) {
			r.Post("/check", h.CheckFormula)
			r.Get("/functions", h.ListFunctions)
		})

		r.Get("/structures", h.ListStructures)

		r.Route("/kpi", func(r chi.Router) {
			r.Get("/periods", h.ListPeriods)
			r.Post("/periods/{id}/close", h.ClosePeriodHandler)
			r.Post("/runs", h.RunKPI)
			r.Get("/schedule", h.GetSchedule)
		})

		r.Get("/employees/{id}/kpi", h.GetEmployeeKPI)

		r.Post("/payroll/runs", h.RunPayrollHandler)

		r.Route("/payslips/{id}", func(r chi.Router) {
			r.Get("/lines", h.GetPayslipLines)
			r.Get("/kpi", h.GetPayslipKPI)
		})

		r.Route("/adjustments", func(r chi.Router) {
			r.Get("/", h.ListAdjustments)
			r.Post("/", h.CreateAdjustment)
			r.Delete("/{id}", h.DeleteAdjustment)
		})
	})

	return r
}
