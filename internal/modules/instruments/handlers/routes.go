package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers instrument routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/instruments", func(r chi.Router) {
		r.Post("/proposals", h.HandleBuildProposals)
	})
}
