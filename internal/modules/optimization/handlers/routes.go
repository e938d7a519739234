package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all optimization routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimization", func(r chi.Router) {
		r.Post("/portfolio", h.HandleOptimizePortfolio) // Multi-asset scenario batch + consensus
		r.Post("/position", h.HandleOptimizePosition)   // Single-asset scenario ladder

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.HandleListRuns)   // Recent run summaries
			r.Get("/{id}", h.HandleGetRun) // Full run payload
		})
	})
}
