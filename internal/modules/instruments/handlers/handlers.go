// Package handlers provides HTTP handlers for instrument proposals.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/instruments"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler handles instrument proposal requests
type Handler struct {
	service *instruments.Service
	log     zerolog.Logger
}

// NewHandler creates a new instruments handler
func NewHandler(service *instruments.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "instruments").Logger(),
	}
}

// ProposalRequest is the body of POST /api/instruments/proposals
type ProposalRequest struct {
	LayerBudgets     map[int]decimal.Decimal  `json:"layer_budgets"`
	Instruments      []instruments.Instrument `json:"instruments"`
	MinimumPlanSize  decimal.Decimal          `json:"minimum_plan_size"`
	MinimumRebalance decimal.Decimal          `json:"minimum_rebalance"`
	WithinTolerance  bool                     `json:"within_tolerance"`
}

// HandleBuildProposals handles POST /api/instruments/proposals
func (h *Handler) HandleBuildProposals(w http.ResponseWriter, r *http.Request) {
	var req ProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	for layer := range req.LayerBudgets {
		if !domain.IsValidLayer(layer) {
			http.Error(w, domain.ErrInvalidLayer.Error(), http.StatusBadRequest)
			return
		}
	}
	for _, inst := range req.Instruments {
		if !domain.IsValidLayer(inst.Layer) {
			http.Error(w, domain.ErrInvalidLayer.Error(), http.StatusBadRequest)
			return
		}
	}

	result, err := h.service.BuildProposals(req.Instruments, req.LayerBudgets, req.MinimumPlanSize, req.MinimumRebalance, req.WithinTolerance)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build instrument proposals")
		http.Error(w, "Failed to build proposals", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
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
