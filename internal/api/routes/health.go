package routes

import (
	"database/sql"

	"Postwing/internal/api/handlers/health"

	"github.com/go-chi/chi/v5"
)

// RegisterHealthRoutes registers the unauthenticated health endpoint.
func RegisterHealthRoutes(r chi.Router, db *sql.DB, dispatcher health.TickReporter) {
	handler := health.NewHandler(db, dispatcher)
	r.Get("/health", handler.HandleHealth)
}
