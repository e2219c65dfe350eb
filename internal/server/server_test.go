package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/modules/instruments"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/aristath/layerwise/internal/modules/suggestions"
	"github.com/aristath/layerwise/internal/scheduler"
	testingpkg "github.com/aristath/layerwise/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHealth struct {
	report *scheduler.HealthReport
}

func (s staticHealth) LastReport() *scheduler.HealthReport { return s.report }

func newTestServer(t *testing.T, withRecords bool, health HealthReporter) *Server {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	kb := testingpkg.NewMockKnowledgeBase(testingpkg.NewRecordFixtures()...)

	instrumentService := instruments.NewService(kb, log)
	suggestionService := suggestions.NewService(kb, kb, log)
	profiles := config.DefaultProfiles()

	cfg := Config{
		Log:         log,
		Config:      &config.Config{Profile: "growth", DevMode: true},
		Profiles:    profiles,
		Assessor:    rebalancing.NewAssessor(profiles, instrumentService, suggestionService, log),
		Instruments: instrumentService,
		Suggestions: suggestionService,
		Health:      health,
		Version:     "test",
	}
	if withRecords {
		repo, _ := testingpkg.NewTestRepository(t, testingpkg.NewRecordFixtures()...)
		cfg.Records = repo
	}
	return New(cfg)
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	t.Run("healthy without a report", func(t *testing.T) {
		s := newTestServer(t, false, nil)
		w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "layerwise", body["service"])
		assert.Equal(t, "test", body["version"])
		assert.Equal(t, false, body["knowledge_base_enabled"])
		assert.NotContains(t, body, "knowledge_base")
	})

	t.Run("failed knowledge base check degrades", func(t *testing.T) {
		report := &scheduler.HealthReport{
			CheckedAt:   time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC),
			BrokenISINs: []string{"IE00B4L5Y983"},
			Error:       "1 records: corrupt knowledge base records",
		}
		s := newTestServer(t, true, staticHealth{report: report})
		w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Status        string                  `json:"status"`
			Enabled       bool                    `json:"knowledge_base_enabled"`
			KnowledgeBase *scheduler.HealthReport `json:"knowledge_base"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body.Status)
		assert.True(t, body.Enabled)
		require.NotNil(t, body.KnowledgeBase)
		assert.Equal(t, []string{"IE00B4L5Y983"}, body.KnowledgeBase.BrokenISINs)
	})
}

func TestServer_Profiles(t *testing.T) {
	s := newTestServer(t, false, nil)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/profiles", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			Profiles []config.Profile `json:"profiles"`
			Default  string           `json:"default"`
		} `json:"data"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data.Profiles, 5)
	assert.Equal(t, "AGGRESSIVE", body.Data.Profiles[0].Key)
	assert.Equal(t, "GROWTH", body.Data.Default)
	assert.Contains(t, body.Metadata, "timestamp")
}

func TestServer_Assessment(t *testing.T) {
	s := newTestServer(t, false, nil)
	payload := map[string]interface{}{
		"profile":      "balanced",
		"saving_plans": testingpkg.NewPlanFixtures(),
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/assessment", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Data struct {
			RunID        string          `json:"run_id"`
			MonthlyTotal decimal.Decimal `json:"monthly_total"`
			Profile      struct {
				Key string `json:"key"`
			} `json:"profile"`
		} `json:"data"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Data.RunID)
	assert.Equal(t, body.Data.RunID, body.Metadata["run_id"])
	assert.Equal(t, "BALANCED", body.Data.Profile.Key)
	assert.True(t, body.Data.MonthlyTotal.Equal(decimal.NewFromInt(500)), body.Data.MonthlyTotal.String())
}

func TestServer_AssessmentRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t, false, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/assessment", bytes.NewBufferString("{"))
	w := serve(s, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_KnowledgeBaseRoutes(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, false, nil)
		w := serve(s, httptest.NewRequest(http.MethodGet, "/api/knowledge-base/records", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		s := newTestServer(t, true, nil)
		w := serve(s, httptest.NewRequest(http.MethodGet, "/api/knowledge-base/records?isin=ie00b4l5y983", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "iShares Core MSCI World")
	})
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestServer(t, false, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/assessment", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := serve(s, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
