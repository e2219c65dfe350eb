package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/modules/instruments"
	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/aristath/layerwise/internal/modules/suggestions"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter() http.Handler {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	store := knowledgebase.NewMemoryStore(
		knowledgebase.Record{ISIN: "IE00A", Name: "World", Status: knowledgebase.StatusComplete, Layer: 1},
		knowledgebase.Record{ISIN: "IE00B", Name: "Europe", Status: knowledgebase.StatusComplete, Layer: 2},
	)
	assessor := rebalancing.NewAssessor(config.DefaultProfiles(),
		instruments.NewService(store, logger),
		suggestions.NewService(store, store, logger),
		logger)
	r := chi.NewRouter()
	r.Route("/api", NewHandler(assessor, logger).RegisterRoutes)
	return r
}

func post(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body)))
	return w
}

func TestHandleLayerDeltas(t *testing.T) {
	w := post(t, setupRouter(), "/api/rebalancing/layer-deltas", `{
		"current": {"1": "50", "2": "30", "3": "20"},
		"targets": {"1": "0.6", "2": "0.3", "3": "0.1"},
		"total": "100",
		"minimum_rebalance": "5"
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data     rebalancing.LayerDeltaResult `json:"data"`
		Metadata map[string]interface{}       `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.True(t, response.Data.Deltas[1].Equal(decimal.NewFromInt(10)))
	assert.True(t, response.Data.Deltas[3].Equal(decimal.NewFromInt(-10)))
	assert.Contains(t, response.Metadata, "timestamp")
}

func TestHandleLayerDeltasErrors(t *testing.T) {
	router := setupRouter()
	tests := []struct {
		name string
		body string
	}{
		{"malformed body", `{"current":`},
		{"invalid layer", `{"current": {"7": "10"}, "total": "10"}`},
		{"negative total", `{"total": "-1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, router, "/api/rebalancing/layer-deltas", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleAllocatePlans(t *testing.T) {
	w := post(t, setupRouter(), "/api/rebalancing/saving-plans/allocate", `{
		"plans": [
			{"isin": "IE00B", "account_id": "main", "amount": "30", "layer": 1},
			{"isin": "IE00A", "account_id": "main", "amount": "50", "layer": 1}
		],
		"layer_target_amount": "100",
		"minimum_rebalance": "1",
		"minimum_plan_size": "15"
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data PlanAllocationResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response.Data.Plans, 2)
	assert.Equal(t, "IE00A", response.Data.Plans[0].ISIN)
	assert.True(t, response.Data.RequiredDelta.Equal(decimal.NewFromInt(20)))

	sum := decimal.Zero
	for _, p := range response.Data.Plans {
		sum = sum.Add(p.Delta)
	}
	assert.True(t, sum.Equal(decimal.NewFromInt(20)))
}

func TestHandleAssess(t *testing.T) {
	w := post(t, setupRouter(), "/api/assessment", `{
		"profile": "classic",
		"saving_plans": [
			{"isin": "IE00A", "account_id": "main", "amount": "60", "layer": 1},
			{"isin": "IE00B", "account_id": "main", "amount": "40", "layer": 2}
		]
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data     rebalancing.AssessmentResult `json:"data"`
		Metadata map[string]interface{}       `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "CLASSIC", response.Data.Profile.Key)
	assert.NotEmpty(t, response.Data.RunID)
	assert.Equal(t, response.Data.RunID, response.Metadata["run_id"])
	require.NotNil(t, response.Data.Instruments)
	assert.True(t, response.Data.Instruments.Gating.Complete)

	sum := decimal.Zero
	for _, s := range response.Data.SavingPlanSuggestions {
		sum = sum.Add(s.Delta)
	}
	assert.True(t, sum.IsZero(), "plan changes are budget neutral")
}

func TestHandleAssessInvalidLayer(t *testing.T) {
	w := post(t, setupRouter(), "/api/assessment", `{"saving_plans": [{"isin": "IE00A", "amount": "10", "layer": 0}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
