package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all rebalancing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/assessment", h.HandleAssess)
	r.Route("/rebalancing", func(r chi.Router) {
		r.Post("/layer-deltas", h.HandleLayerDeltas)
		r.Post("/saving-plans/allocate", h.HandleAllocatePlans)
	})
}
