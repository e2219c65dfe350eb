// Package handlers provides HTTP handlers for the knowledge base.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/rs/zerolog"
)

// RecordStore is the persistence the handler needs.
type RecordStore interface {
	Get(isin string) (*knowledgebase.Record, error)
	Put(record knowledgebase.Record) error
	List(status knowledgebase.Status) ([]knowledgebase.Record, error)
}

// Handler handles knowledge-base HTTP requests
type Handler struct {
	store RecordStore
	log   zerolog.Logger
}

// NewHandler creates a new knowledge-base handler
func NewHandler(store RecordStore, log zerolog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log.With().Str("handler", "knowledgebase").Logger(),
	}
}

// HandleGetRecords handles GET /api/knowledge-base/records
// With ?isin= it returns a single record, otherwise every record
// (optionally filtered with ?status=).
func (h *Handler) HandleGetRecords(w http.ResponseWriter, r *http.Request) {
	if isin := domain.NormalizeISIN(r.URL.Query().Get("isin")); isin != "" {
		record, err := h.store.Get(isin)
		if err != nil {
			h.log.Error().Err(err).Str("isin", isin).Msg("Failed to get knowledge base record")
			http.Error(w, "Failed to get record", http.StatusInternalServerError)
			return
		}
		if record == nil {
			http.Error(w, "Record not found", http.StatusNotFound)
			return
		}
		h.writeJSON(w, http.StatusOK, envelope(record))
		return
	}

	records, err := h.store.List(knowledgebase.Status(r.URL.Query().Get("status")))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list knowledge base records")
		http.Error(w, "Failed to list records", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"records": records,
		"count":   len(records),
	}))
}

// HandlePutRecord handles PUT /api/knowledge-base/records
func (h *Handler) HandlePutRecord(w http.ResponseWriter, r *http.Request) {
	var record knowledgebase.Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	record.ISIN = domain.NormalizeISIN(record.ISIN)
	if record.ISIN == "" {
		http.Error(w, "isin is required", http.StatusBadRequest)
		return
	}
	if record.Layer != 0 && !domain.IsValidLayer(record.Layer) {
		http.Error(w, domain.ErrInvalidLayer.Error(), http.StatusBadRequest)
		return
	}

	if err := h.store.Put(record); err != nil {
		h.log.Error().Err(err).Str("isin", record.ISIN).Msg("Failed to store knowledge base record")
		http.Error(w, "Failed to store record", http.StatusInternalServerError)
		return
	}

	h.log.Info().Str("isin", record.ISIN).Str("status", string(record.Status)).Msg("Stored knowledge base record")
	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"isin":   record.ISIN,
		"stored": true,
	}))
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
