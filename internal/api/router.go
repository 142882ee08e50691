/**
 * @description
 * This file sets up the HTTP router for Sakhi. It defines the leader dashboard and webhook
 * endpoints, associates them with their handlers, and applies the shared middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the dashboard.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the Sakhi routes.
func NewRouter(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/groups", func(r chi.Router) {
		r.Get("/", h.ListGroupsHandler)
		r.Post("/", h.CreateGroupHandler)
		r.Route("/{groupID}", func(r chi.Router) {
			r.Get("/", h.GetGroupHandler)
			r.Get("/members", h.ListGroupMembersHandler)
			r.Get("/loans", h.ListGroupLoansHandler)
			r.Get("/transactions", h.ListGroupTransactionsHandler)
		})
	})

	r.Route("/members", func(r chi.Router) {
		r.Post("/", h.CreateMemberHandler)
		r.Route("/{memberID}", func(r chi.Router) {
			r.Get("/", h.GetMemberHandler)
			r.Patch("/", h.UpdateMemberHandler)
			r.Get("/transactions", h.ListMemberTransactionsHandler)
			r.Get("/loans", h.ListMemberLoansHandler)
			r.Post("/recalculate-score", h.RecalculateScoreHandler)
			r.Get("/schemes", h.ListSchemesHandler)
			r.Post("/schemes/reevaluate", h.ReevaluateSchemesHandler)
		})
	})

	r.Post("/transactions", h.RecordTransactionHandler)

	r.Route("/loans/{loanID}", func(r chi.Router) {
		r.Patch("/approve", h.ApproveLoanHandler)
		r.Patch("/reject", h.RejectLoanHandler)
		r.Patch("/disburse", h.DisburseLoanHandler)
	})

	r.Post("/chat/inbound", h.ChatInboundHandler)

	return r
}
