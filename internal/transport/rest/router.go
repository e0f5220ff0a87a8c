package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/cash-advance/internal/advance"
	"github.com/frahmantamala/cash-advance/internal/audit"
	"github.com/frahmantamala/cash-advance/internal/auth"
	"github.com/frahmantamala/cash-advance/internal/transport/middleware"
	"github.com/frahmantamala/cash-advance/internal/transport/swagger"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

// Handlers groups everything the router mounts. Nil optional fields are skipped.
type Handlers struct {
	Health      *HealthHandler
	Auth        *auth.Middleware
	Advance     *advance.Handler
	Audit       *audit.Handler
	Spec        *swagger.Spec
	RateLimit   func(http.Handler) http.Handler
	FinanceRole string
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, logger *slog.Logger) {
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.Trace)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.AccessLog)

	if h.Spec != nil {
		router.Get(swagger.SpecRoute, h.Spec.ServeSpec)
		router.Handle("/swagger/*", swagger.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health.Health)
		r.Get("/ping", h.Health.Ping)

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.Authenticate)
			if h.RateLimit != nil {
				pr.Use(h.RateLimit)
			}

			pr.Route("/requests", func(rr chi.Router) {
				rr.Post("/", h.Advance.CreateRequest)
				rr.Get("/", h.Advance.ListMyRequests)

				rr.Route("/{id}", func(ir chi.Router) {
					ir.Get("/", h.Advance.GetRequest)
					ir.Post("/decisions", h.Advance.SubmitDecision)
					ir.Get("/ledger", h.Advance.GetLedger)
					ir.Post("/justification", h.Advance.SubmitJustification)
					ir.Post("/justification/decisions", h.Advance.SubmitJustificationDecision)

					ir.Group(func(fr chi.Router) {
						fr.Use(h.Auth.RequireRole(h.FinanceRole))
						fr.Post("/disbursements", h.Advance.RecordDisbursement)
					})

					if h.Audit != nil {
						ir.Get("/history", h.Audit.GetHistory)
					}
				})
			})

			pr.Get("/approvals/pending", h.Advance.ListPendingApprovals)
			pr.Get("/reimbursements/quota", h.Advance.GetQuota)
		})
	})
}
