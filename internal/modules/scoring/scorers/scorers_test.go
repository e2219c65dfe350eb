package scorers

import (
	"testing"

	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestWeightedOverlap(t *testing.T) {
	a := map[string]float64{"us": 0.6, "europe": 0.4}
	b := map[string]float64{"us": 0.5, "japan": 0.5}

	overlap, ok := WeightedOverlap(a, b)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, overlap, 1e-9)

	_, ok = WeightedOverlap(a, map[string]float64{})
	assert.False(t, ok)
}

func TestSetOverlap(t *testing.T) {
	overlap, ok := SetOverlap([]string{"apple", "microsoft"}, []string{"apple", "nvidia", "amazon"})
	assert.True(t, ok)
	assert.InDelta(t, 1.0/3.0, overlap, 1e-9)

	_, ok = SetOverlap(nil, []string{"apple"})
	assert.False(t, ok)
}

func TestAveragePeerOverlap(t *testing.T) {
	peers := map[string]Exposure{
		"A": {Weights: map[string]float64{"us": 1}, Names: []string{"us"}},
		"B": {Weights: map[string]float64{"us": 1}, Names: []string{"us"}},
		"C": {Weights: map[string]float64{"europe": 1}, Names: []string{"europe"}},
	}
	assert.InDelta(t, 0.5, AveragePeerOverlap("A", peers, 3), 1e-9)
	assert.InDelta(t, 0.0, AveragePeerOverlap("C", peers, 3), 1e-9)
	assert.Equal(t, 0.0, AveragePeerOverlap("A", peers, 1))

	// Without weights the label sets are compared
	unweighted := map[string]Exposure{
		"A": {Names: []string{"us", "europe"}},
		"B": {Names: []string{"us"}},
	}
	assert.InDelta(t, 0.5, AveragePeerOverlap("A", unweighted, 2), 1e-9)
}

func TestAverageSetOverlap(t *testing.T) {
	overlap, ok := AverageSetOverlap([]string{"us"}, [][]string{{"us"}, {"europe"}, nil})
	assert.True(t, ok)
	assert.InDelta(t, 0.5, overlap, 1e-9)

	_, ok = AverageSetOverlap([]string{"us"}, nil)
	assert.False(t, ok)
}

func TestMetricScores(t *testing.T) {
	assert.InDelta(t, 0.5, ScoreEarningsYield(ptr(0.10)), 1e-9)
	assert.Equal(t, 1.0, ScoreEarningsYield(ptr(0.40)))
	assert.Equal(t, 0.0, ScoreEarningsYield(ptr(-0.1)))
	assert.Equal(t, 0.0, ScoreEarningsYield(nil))

	assert.Equal(t, 1.0, ScoreEVToEBITDA(ptr(8)))
	assert.InDelta(t, 0.5, ScoreEVToEBITDA(ptr(24)), 1e-9)

	assert.InDelta(t, 0.5, ScoreDividendYield(ptr(0.04)), 1e-9)
	assert.InDelta(t, 0.5, ScorePriceToBook(ptr(4)), 1e-9)
	assert.Equal(t, 0.0, ScorePriceToBook(nil))
}

func TestValuationScore(t *testing.T) {
	t.Run("no valuation", func(t *testing.T) {
		_, ok := ValuationScore(knowledgebase.Record{})
		assert.False(t, ok)
	})

	t.Run("stock falls back to 1/PE", func(t *testing.T) {
		record := knowledgebase.Record{
			InstrumentType: "Common Stock",
			Valuation: &knowledgebase.Valuation{
				PELongterm:          ptr(10), // ey 0.10 -> 0.5
				PEMethod:            "ttm",
				PEHorizon:           "normalized",
				NegEarningsHandling: "exclude",
			},
		}
		score, ok := ValuationScore(record)
		assert.True(t, ok)
		assert.InDelta(t, 0.5, score, 1e-9)
	})

	t.Run("etf blend", func(t *testing.T) {
		record := knowledgebase.Record{
			InstrumentType: "ETF",
			Valuation: &knowledgebase.Valuation{
				EarningsYieldTTMHoldings: ptr(0.20), // 1.0 at 0.65
				PBCurrent:                ptr(4),    // 0.5 at 0.10
				PEMethod:                 "ttm",
				PEHorizon:                "normalized",
				NegEarningsHandling:      "exclude",
			},
		}
		score, ok := ValuationScore(record)
		assert.True(t, ok)
		assert.InDelta(t, (0.65+0.05)/0.75, score, 1e-9)
	})

	t.Run("unknown methodology is damped", func(t *testing.T) {
		record := knowledgebase.Record{
			InstrumentType: "Common Stock",
			Valuation:      &knowledgebase.Valuation{EarningsYieldLongterm: ptr(0.2)},
		}
		score, ok := ValuationScore(record)
		assert.True(t, ok)
		assert.InDelta(t, 0.95*0.95*0.97, score, 1e-9)
	})
}

func TestDataQualityPenalty(t *testing.T) {
	assert.Equal(t, 0.0, DataQualityPenalty(knowledgebase.Record{}))
	assert.InDelta(t, 0.07, DataQualityPenalty(knowledgebase.Record{
		MissingFields: []string{"ter", "benchmark"},
		Warnings:      []string{"stale"},
	}), 1e-9)
	assert.Equal(t, 0.25, DataQualityPenalty(knowledgebase.Record{
		Warnings: []string{"a", "b", "c", "d", "e", "f"},
	}))
}

func TestCostScore(t *testing.T) {
	assert.InDelta(t, 1/1.2, CostScore(0.2), 1e-12)
	assert.Equal(t, 1.0, CostScore(-1))
}
