package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all knowledge-base routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/knowledge-base", func(r chi.Router) {
		r.Get("/records", h.HandleGetRecords)
		r.Put("/records", h.HandlePutRecord)
	})
}
