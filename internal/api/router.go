/**
 * @description
 * This file sets up the HTTP router for the transaction-service. It defines
 * the API endpoints, associates them with their handlers, and applies the
 * authentication middleware: internal API key for channel-originated money
 * movement, staff JWT for approval decisions.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TransactionRoutes creates and returns a new router for the transaction service.
func TransactionRoutes(h *TransactionHandlers, internalAPIKey, staffJWTSecret string) http.Handler {
	r := chi.NewRouter()

	// Standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Money movement and reads: service-to-service callers behind the edge.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/deposits", h.DepositHandler)
		r.Post("/withdrawals", h.WithdrawalHandler)
		r.Post("/transfers", h.TransferHandler)

		r.Get("/pending", h.ListPendingHandler)
		r.Get("/reference/{reference}", h.TransactionByReferenceHandler)
		r.Get("/accounts/{accountID}/history", h.AccountHistoryHandler)
		r.Get("/{transactionID}", h.GetTransactionHandler)
	})

	// Approval decisions carry an individual approver identity.
	r.Group(func(r chi.Router) {
		r.Use(StaffAuthMiddleware(staffJWTSecret))

		r.Post("/{transactionID}/decision", h.DecisionHandler)
	})

	return r
}
