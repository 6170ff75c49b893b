/**
 * @description
 * This file sets up the HTTP router for the fraud-review-service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies the authentication middleware for each route group.
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

// FraudReviewRoutes creates and returns a new router for the fraud review service.
// Call-flow endpoints used by the voice agent are protected by the internal API
// key; operator review endpoints require a JWT validated against the JWKS URL.
func FraudReviewRoutes(h *CaseHandlers, internalAPIKey, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/fraud", func(r chi.Router) {
		// Health check endpoint
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("healthy"))
		})

		// Call-flow endpoints driven by the verification agent.
		r.Group(func(r chi.Router) {
			r.Use(InternalAuthMiddleware(internalAPIKey))

			r.Post("/cases/lookup", h.LookupCaseHandler)
			r.Post("/cases/{caseID}/verify", h.VerifyAnswerHandler)
			r.Post("/cases/{caseID}/confirm", h.ConfirmTransactionHandler)
		})

		// Operator review endpoints.
		r.Group(func(r chi.Router) {
			r.Use(OperatorAuthMiddleware(jwksURL))

			r.Get("/cases", h.ListCasesHandler)
			r.Get("/cases/{caseID}", h.GetCaseHandler)
		})
	})

	return r
}
