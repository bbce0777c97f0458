// Package http provides HTTP routing and middleware configuration
// for the wallet sync server.
package http

import (
	"net/http"

	"github.com/dkravets/credwallet/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the HTTP handler serving the sync API.
//
// Routes:
//
//	GET  /api/health                 → liveness probe for wallet clients
//	POST /api/mutations/{resource}  → mutationHandler.Apply
//
// Middleware chain (applied in order):
//  1. AllowContentType("application/json") — rejects non-JSON bodies
//  2. WithRequestLogging(logger)           — logs incoming requests
func NewRouter(mutationHandler *MutationHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Only allow requests with Content-Type: application/json
	r.Use(chiMiddleware.AllowContentType("application/json"))

	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health)
		r.Post("/mutations/{resource}", mutationHandler.Apply)
	})

	return r
}

// health answers the connectivity probes sent by wallet clients.
func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
