// Package handlers provides HTTP handlers for instrument suggestions.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/suggestions"
	"github.com/rs/zerolog"
)

// Handler handles suggestion requests
type Handler struct {
	service *suggestions.Service
	log     zerolog.Logger
}

// NewHandler creates a new suggestions handler
func NewHandler(service *suggestions.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "suggestions").Logger(),
	}
}

// HandleSuggest handles POST /api/suggestions
func (h *Handler) HandleSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggestions.SuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	for _, plan := range req.Plans {
		if !domain.IsValidLayer(plan.Layer) {
			http.Error(w, domain.ErrInvalidLayer.Error(), http.StatusBadRequest)
			return
		}
	}
	req.Policy = suggestions.ParseGapDetectionPolicy(string(req.Policy))

	result, err := h.service.Suggest(req)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build suggestions")
		http.Error(w, "Failed to build suggestions", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"policy":    req.Policy,
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
