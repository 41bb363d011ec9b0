/**
 * @description
 * This file sets up the HTTP router for the vault-mirror-service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies middleware.
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

// VaultRoutes creates and returns a new router for the vault mirror service.
// Bearer-token auth on the balance endpoint is enabled only when a JWKS URL
// is configured; the webhook endpoint authenticates via HMAC instead.
func VaultRoutes(h *VaultHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Post("/balance/webhook", h.WebhookHandler)

	r.Group(func(r chi.Router) {
		if jwksURL != "" {
			r.Use(BearerAuthMiddleware(jwksURL))
		}
		r.Get("/balance", h.BalanceHandler)
	})

	return r
}
