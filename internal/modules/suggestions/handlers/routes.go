package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers suggestion routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/suggestions", h.HandleSuggest)
}
