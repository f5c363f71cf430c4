package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers portfolio analytics routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolio", func(r chi.Router) {
		r.Get("/defaults", h.HandleGetDefaults)
		r.Post("/estimate", h.HandleEstimate)
		r.Post("/optimize", h.HandleOptimize)
		r.Post("/frontier", h.HandleFrontier)
		r.Post("/allocation.png", h.HandleAllocationChart)
		r.Post("/frontier.png", h.HandleFrontierChart)
	})

	r.Get("/frontier/stream", h.HandleFrontierStream)
}
