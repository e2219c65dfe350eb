package suggestions

import (
	"errors"
	"testing"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(v float64) *float64 { return &v }

func etf(isin, name, subClass, benchmark string, ter float64, layer int) knowledgebase.Record {
	return knowledgebase.Record{
		ISIN:           isin,
		Name:           name,
		SubClass:       subClass,
		InstrumentType: "ETF",
		Status:         knowledgebase.StatusComplete,
		Layer:          layer,
		ETF:            &knowledgebase.ETFData{OngoingChargesPct: ptr(ter), BenchmarkIndex: benchmark},
	}
}

func catalog() *knowledgebase.MemoryStore {
	return knowledgebase.NewMemoryStore(
		etf("IE00WORLD", "World Acc", "Global Equity", "MSCI World", 0.2, 1),
		etf("IE00EM", "EM Acc", "Emerging Markets Equity", "MSCI EM", 0.18, 1),
		etf("IE00DIST", "World Dist", "Global Equity", "FTSE All-World", 0.22, 1),
		knowledgebase.Record{ISIN: "IE00SAT", Name: "Satellite", Status: knowledgebase.StatusComplete, Layer: 3},
		knowledgebase.Record{ISIN: "IE00DRAFT", Name: "Draft Fund", SubClass: "Gold", Status: knowledgebase.StatusDraft, Layer: 1},
	)
}

func newService() *Service {
	store := catalog()
	return NewService(store, store, zerolog.New(nil).Level(zerolog.Disabled))
}

func worldPlan() []domain.RecurringPlan {
	return []domain.RecurringPlan{{ISIN: "IE00WORLD", AccountID: "main", Amount: d("100"), Layer: 1}}
}

func baseRequest() SuggestionRequest {
	return SuggestionRequest{
		Plans:                   worldPlan(),
		SavingPlanBudgets:       map[int]decimal.Decimal{1: d("60")},
		MinimumPlanSize:         d("15"),
		MinimumRebalance:        d("10"),
		MinimumInstrumentAmount: d("25"),
	}
}

func isins(suggestions []Suggestion) []string {
	out := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		out = append(out, s.ISIN)
	}
	return out
}

func TestSuggest_FillsSavingPlanGaps(t *testing.T) {
	result, err := newService().Suggest(baseRequest())
	require.NoError(t, err)

	require.Equal(t, []string{"IE00EM", "IE00DIST"}, isins(result.SavingPlanSuggestions))
	em := result.SavingPlanSuggestions[0]
	assert.Equal(t, ActionNew, em.Action)
	assert.Equal(t, 1, em.Layer)
	assert.True(t, em.Amount.Equal(d("30")))
	assert.Equal(t, "Fills missing sub-class: emerging markets equity. Adds missing theme exposure: emerging markets equity. "+
		"Selected because low ongoing charges (0.18%); tracks MSCI EM.", em.Rationale)

	dist := result.SavingPlanSuggestions[1]
	assert.True(t, dist.Amount.Equal(d("30")))
	assert.Equal(t, "Adds distributing share class not present in this layer. "+
		"Selected because low ongoing charges (0.22%); tracks FTSE All-World.", dist.Rationale)

	assert.Empty(t, result.OneTimeSuggestions)
	assert.Equal(t, []Gap{
		{Type: GapSubClass, Value: "emerging markets equity"},
		{Type: GapTheme, Value: "emerging markets equity"},
		{Type: GapLocalisation, Value: "emerging markets"},
		{Type: GapDistribution, Value: "distributing"},
	}, result.Gaps[1])
}

func TestSuggest_PolicyDecidesCoverage(t *testing.T) {
	req := baseRequest()
	req.ExistingISINs = []string{"IE00EM"}

	t.Run("saving plan gaps ignore one-off holdings", func(t *testing.T) {
		result, err := newService().Suggest(req)
		require.NoError(t, err)
		assert.Equal(t, []string{"IE00EM", "IE00DIST"}, isins(result.SavingPlanSuggestions))
		assert.Equal(t, ActionNew, result.SavingPlanSuggestions[0].Action)
	})

	t.Run("portfolio gaps count every holding", func(t *testing.T) {
		req.Policy = "portfolio_gaps"
		result, err := newService().Suggest(req)
		require.NoError(t, err)
		require.Equal(t, []string{"IE00DIST"}, isins(result.SavingPlanSuggestions))
		assert.True(t, result.SavingPlanSuggestions[0].Amount.Equal(d("60")))
	})
}

func TestSuggest_IncreasesHeldInstrumentWhenSlotsRunOut(t *testing.T) {
	req := baseRequest()
	req.ExistingISINs = []string{"IE00EM"}
	req.MaxPlansPerLayer = map[int]int{1: 1}

	result, err := newService().Suggest(req)
	require.NoError(t, err)

	require.Len(t, result.SavingPlanSuggestions, 1)
	increase := result.SavingPlanSuggestions[0]
	assert.Equal(t, "IE00EM", increase.ISIN)
	assert.Equal(t, ActionIncrease, increase.Action)
	assert.True(t, increase.Amount.Equal(d("60")))
	assert.Contains(t, increase.Rationale, "Fills missing sub-class: emerging markets equity.")
}

func TestSuggest_RespectsExclusions(t *testing.T) {
	req := baseRequest()
	req.ExcludedISINs = []string{"ie00em"}

	result, err := newService().Suggest(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"IE00DIST"}, isins(result.SavingPlanSuggestions))
}

func TestSuggest_BaselineForLayerWithoutPlans(t *testing.T) {
	req := baseRequest()
	req.SavingPlanBudgets = map[int]decimal.Decimal{3: d("40")}

	result, err := newService().Suggest(req)
	require.NoError(t, err)

	require.Len(t, result.SavingPlanSuggestions, 1)
	s := result.SavingPlanSuggestions[0]
	assert.Equal(t, "IE00SAT", s.ISIN)
	assert.True(t, s.Amount.Equal(d("40")))
	assert.Equal(t, "Adds exposure to build a baseline allocation in this layer.", s.Rationale)
}

func TestSuggest_OneTime(t *testing.T) {
	req := baseRequest()
	req.SavingPlanBudgets = nil
	req.OneTimeBudgets = map[int]decimal.Decimal{1: d("100")}

	result, err := newService().Suggest(req)
	require.NoError(t, err)

	assert.Empty(t, result.SavingPlanSuggestions)
	assert.Equal(t, []string{"IE00EM", "IE00DIST"}, isins(result.OneTimeSuggestions))
	for _, s := range result.OneTimeSuggestions {
		assert.True(t, s.Amount.Equal(d("50")))
	}
}

func TestSuggest_BudgetTooSmall(t *testing.T) {
	req := baseRequest()
	req.SavingPlanBudgets = map[int]decimal.Decimal{1: d("14.99")}

	result, err := newService().Suggest(req)
	require.NoError(t, err)
	assert.Empty(t, result.SavingPlanSuggestions)
}

func TestSuggest_NoBudgetSkipsKnowledgeBase(t *testing.T) {
	fetcher := &failingStore{err: errors.New("should not be called")}
	svc := NewService(fetcher, fetcher, zerolog.New(nil).Level(zerolog.Disabled))

	result, err := svc.Suggest(SuggestionRequest{SavingPlanBudgets: map[int]decimal.Decimal{1: d("-5")}})
	require.NoError(t, err)
	assert.Empty(t, result.SavingPlanSuggestions)
	assert.Empty(t, result.OneTimeSuggestions)
}

func TestSuggest_CatalogErrorIsWrapped(t *testing.T) {
	boom := errors.New("catalog unavailable")
	store := &failingStore{err: boom}
	svc := NewService(catalog(), store, zerolog.New(nil).Level(zerolog.Disabled))

	_, err := svc.Suggest(baseRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestSuggest_DisabledKnowledgeBase(t *testing.T) {
	svc := NewService(nil, nil, zerolog.New(nil).Level(zerolog.Disabled))
	result, err := svc.Suggest(baseRequest())
	require.NoError(t, err)
	assert.Empty(t, result.SavingPlanSuggestions)
}

type failingStore struct {
	err error
}

func (f *failingStore) Fetch([]string) (map[string]knowledgebase.Record, error) { return nil, f.err }

func (f *failingStore) Catalog() ([]knowledgebase.Record, error) { return nil, f.err }

func TestAllocateAmounts(t *testing.T) {
	picks := []selection{
		{profile: profile{isin: "IE00B"}},
		{profile: profile{isin: "IE00A"}},
		{profile: profile{isin: "IE00C"}},
	}

	t.Run("leftover cents go in ISIN order", func(t *testing.T) {
		out := allocateAmounts(picks, 1, d("50.02"), d("15"))
		require.Len(t, out, 3)
		assert.Equal(t, "IE00B", out[0].ISIN)
		assert.True(t, out[0].Amount.Equal(d("16.67")))
		assert.True(t, out[1].Amount.Equal(d("16.68")))
		assert.True(t, out[2].Amount.Equal(d("16.67")))
	})

	t.Run("budget below the minimums", func(t *testing.T) {
		assert.Empty(t, allocateAmounts(picks, 1, d("44.99"), d("15")))
	})
}

func TestMaxByBudget(t *testing.T) {
	assert.Equal(t, 4, maxByBudget(d("60"), d("15")))
	assert.Equal(t, 0, maxByBudget(d("14.99"), d("15")))
	assert.Equal(t, 0, maxByBudget(decimal.Zero, d("15")))
	assert.Equal(t, MaxSuggestionsPerLayer, maxByBudget(d("10"), decimal.Zero))
}
