/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind the gateway
  3. Logging:    zap request log (logging.RequestLogger)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the dashboard frontend
  6. Body limit: Requests above RouterOptions.MaxBodySize are rejected
  7. Actor:      (tenant, actor, role) from gateway headers

ROUTE GROUPS:
  /api/obligations/*   Obligations, settlements, cancellation
  /api/subjects/*      Students and employees, bulk period generation
  /api/rates           Bulk rate change
  /api/expenses        Operating expense ledger
  /api/reports/*       Balance, monthly, debtors, payroll
  /api/scenarios/*     Demo data (development only)

SECURITY NOTE:
  Authentication happens upstream. This service trusts the actor headers
  and enforces tenant and role rules in the core.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: actor resolution
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/logging"
)

type RouterOptions struct {
	Logger          *zap.Logger
	AllowedOrigins  []string
	MaxBodySize     int64
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", HeaderTenantID, HeaderActorID, HeaderRole},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if opts.MaxBodySize > 0 {
		r.Use(middleware.RequestSize(opts.MaxBodySize))
	}
	r.Use(WithActor)

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/obligations", func(r chi.Router) {
			r.Get("/", h.ListObligations)
			r.Post("/", h.CreateObligation)
			r.Get("/{id}", h.GetObligation)
			r.Delete("/{id}", h.DeleteObligation)
			r.Get("/{id}/contributions", h.ListContributions)
			r.Get("/{id}/verify", h.VerifyObligation)
			r.Post("/{id}/settlements", h.Settle)
			r.Post("/{id}/cancel", h.CancelObligation)
		})

		r.Route("/subjects", func(r chi.Router) {
			r.Get("/", h.ListSubjects)
			r.Post("/", h.RegisterSubject)
			r.Get("/{kind}/{id}", h.GetSubject)
			r.Post("/{kind}/{id}/periods", h.GeneratePeriods)
		})

		r.Post("/rates", h.ChangeRates)
		r.Post("/expenses", h.RecordExpense)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/balance", h.BalanceReport)
			r.Get("/monthly", h.MonthlyReport)
			r.Get("/debtors", h.Debtors)
			r.Get("/payroll", h.Payroll)
		})

		if opts.EnableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}

type ServerTimeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// NewServer wraps the router in an http.Server with the configured timeouts.
func NewServer(addr string, handler http.Handler, timeouts ServerTimeouts) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  timeouts.Read,
		WriteTimeout: timeouts.Write,
		IdleTimeout:  timeouts.Idle,
	}
}
