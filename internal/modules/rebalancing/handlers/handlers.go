// Package handlers provides HTTP handlers for rebalancing operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler handles rebalancing HTTP requests
type Handler struct {
	assessor *rebalancing.Assessor
	log      zerolog.Logger
}

// NewHandler creates a new rebalancing handler
func NewHandler(assessor *rebalancing.Assessor, log zerolog.Logger) *Handler {
	return &Handler{
		assessor: assessor,
		log:      log.With().Str("handler", "rebalancing").Logger(),
	}
}

// LayerDeltaRequest is the body of POST /api/rebalancing/layer-deltas
type LayerDeltaRequest struct {
	Current               map[int]decimal.Decimal `json:"current"`
	Targets               map[int]decimal.Decimal `json:"targets"`
	NetChange             *decimal.Decimal        `json:"net_change,omitempty"`
	AcceptableVariancePct *decimal.Decimal        `json:"acceptable_variance_pct,omitempty"`
	Total                 decimal.Decimal         `json:"total"`
	MinimumRebalance      decimal.Decimal         `json:"minimum_rebalance"`
}

// PlanAllocationRequest is the body of POST /api/rebalancing/saving-plans/allocate
type PlanAllocationRequest struct {
	Plans             []domain.RecurringPlan `json:"plans"`
	LayerTargetAmount decimal.Decimal        `json:"layer_target_amount"`
	MinimumRebalance  decimal.Decimal        `json:"minimum_rebalance"`
	MinimumPlanSize   decimal.Decimal        `json:"minimum_plan_size"`
}

// PlanAmount is one plan's proposed amount and change.
type PlanAmount struct {
	ISIN      string          `json:"isin"`
	AccountID string          `json:"account_id"`
	Proposed  decimal.Decimal `json:"proposed"`
	Delta     decimal.Decimal `json:"delta"`
}

// PlanAllocationResponse flattens a PlanAllocation for JSON.
type PlanAllocationResponse struct {
	rebalancing.PlanAllocation
	Plans []PlanAmount `json:"plans"`
}

// HandleLayerDeltas handles POST /api/rebalancing/layer-deltas
func (h *Handler) HandleLayerDeltas(w http.ResponseWriter, r *http.Request) {
	var req LayerDeltaRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !validLayers(req.Current) || !validLayers(req.Targets) {
		http.Error(w, domain.ErrInvalidLayer.Error(), http.StatusBadRequest)
		return
	}

	result, err := rebalancing.CalculateLayerDeltas(rebalancing.LayerDeltaInput{
		Current:               req.Current,
		Targets:               req.Targets,
		NetChange:             req.NetChange,
		AcceptableVariancePct: req.AcceptableVariancePct,
		Total:                 req.Total,
		MinimumRebalance:      req.MinimumRebalance,
	})
	if err != nil {
		h.writeError(w, err, "Failed to calculate layer deltas")
		return
	}
	h.writeData(w, result, nil)
}

// HandleAllocatePlans handles POST /api/rebalancing/saving-plans/allocate
func (h *Handler) HandleAllocatePlans(w http.ResponseWriter, r *http.Request) {
	var req PlanAllocationRequest
	if !h.decode(w, r, &req) {
		return
	}

	result := rebalancing.AllocatePlans(req.Plans, req.LayerTargetAmount, req.MinimumRebalance, req.MinimumPlanSize)
	response := PlanAllocationResponse{PlanAllocation: result, Plans: make([]PlanAmount, 0, len(result.Proposed))}
	for key, proposed := range result.Proposed {
		response.Plans = append(response.Plans, PlanAmount{
			ISIN:      key.ISIN,
			AccountID: key.AccountID,
			Proposed:  proposed,
			Delta:     result.Deltas[key],
		})
	}
	sort.Slice(response.Plans, func(i, j int) bool {
		a, b := response.Plans[i], response.Plans[j]
		return domain.PlanKey{ISIN: a.ISIN, AccountID: a.AccountID}.Less(domain.PlanKey{ISIN: b.ISIN, AccountID: b.AccountID})
	})
	h.writeData(w, response, nil)
}

// HandleAssess handles POST /api/assessment
func (h *Handler) HandleAssess(w http.ResponseWriter, r *http.Request) {
	var req rebalancing.AssessmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.assessor.Assess(req)
	if err != nil {
		h.writeError(w, err, "Failed to run assessment")
		return
	}
	h.writeData(w, result, map[string]interface{}{"run_id": result.RunID})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, domain.ErrInvalidLayer) || errors.Is(err, domain.ErrNegativeTotal) || errors.Is(err, domain.ErrNonFiniteValue) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.log.Error().Err(err).Msg(msg)
	http.Error(w, msg, http.StatusInternalServerError)
}

func (h *Handler) writeData(w http.ResponseWriter, data interface{}, extra map[string]interface{}) {
	metadata := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
	}
	for k, v := range extra {
		metadata[k] = v
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     data,
		"metadata": metadata,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func validLayers(values map[int]decimal.Decimal) bool {
	for layer := range values {
		if !domain.IsValidLayer(layer) {
			return false
		}
	}
	return true
}
