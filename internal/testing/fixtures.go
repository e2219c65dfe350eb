package testing

import (
	"time"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/shopspring/decimal"
)

func floatPtr(v float64) *float64 { return &v }

// NewRecordFixtures returns complete knowledge-base records spread over the
// first three layers.
func NewRecordFixtures() []knowledgebase.Record {
	updated := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return []knowledgebase.Record{
		{
			ISIN:           "IE00B4L5Y983",
			Name:           "iShares Core MSCI World UCITS ETF Acc",
			Status:         knowledgebase.StatusComplete,
			InstrumentType: "ETF",
			AssetClass:     "Equity",
			SubClass:       "Global Equity",
			Layer:          1,
			ETF:            &knowledgebase.ETFData{OngoingChargesPct: floatPtr(0.2), BenchmarkIndex: "MSCI World"},
			Regions: []knowledgebase.Exposure{
				{Name: "North America", WeightPct: floatPtr(72)},
				{Name: "Europe", WeightPct: floatPtr(16)},
				{Name: "Japan", WeightPct: floatPtr(6)},
			},
			UpdatedAt: updated,
		},
		{
			ISIN:           "IE00BKM4GZ66",
			Name:           "iShares Core MSCI EM IMI UCITS ETF Acc",
			Status:         knowledgebase.StatusComplete,
			InstrumentType: "ETF",
			AssetClass:     "Equity",
			SubClass:       "Emerging Markets Equity",
			Layer:          1,
			ETF:            &knowledgebase.ETFData{OngoingChargesPct: floatPtr(0.18), BenchmarkIndex: "MSCI EM IMI"},
			Regions: []knowledgebase.Exposure{
				{Name: "Asia", WeightPct: floatPtr(78)},
				{Name: "Latin America", WeightPct: floatPtr(8)},
			},
			UpdatedAt: updated,
		},
		{
			ISIN:           "IE00BK5BQT80",
			Name:           "Vanguard FTSE All-World UCITS ETF Acc",
			Status:         knowledgebase.StatusApproved,
			InstrumentType: "ETF",
			AssetClass:     "Equity",
			SubClass:       "Global Equity",
			Layer:          2,
			ETF:            &knowledgebase.ETFData{OngoingChargesPct: floatPtr(0.22), BenchmarkIndex: "FTSE All-World"},
			UpdatedAt:      updated,
		},
		{
			ISIN:           "IE00BYZK4552",
			Name:           "iShares Automation & Robotics UCITS ETF",
			Status:         knowledgebase.StatusComplete,
			InstrumentType: "ETF",
			AssetClass:     "Equity",
			SubClass:       "Thematic Equity",
			LayerNotes:     "Robotics and technology theme",
			Layer:          3,
			ETF:            &knowledgebase.ETFData{OngoingChargesPct: floatPtr(0.4), BenchmarkIndex: "iSTOXX Factset Automation & Robotics"},
			UpdatedAt:      updated,
		},
	}
}

// NewDraftRecord returns a record that does not pass gating.
func NewDraftRecord(isin string, layer int) knowledgebase.Record {
	return knowledgebase.Record{ISIN: isin, Name: "Draft " + isin, Status: knowledgebase.StatusDraft, Layer: layer}
}

// NewPlanFixtures returns saving plans matching the first fixtures records.
func NewPlanFixtures() []domain.RecurringPlan {
	changed := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	return []domain.RecurringPlan{
		{ISIN: "IE00B4L5Y983", AccountID: "depot-1", Name: "MSCI World", Amount: decimal.NewFromInt(300), Layer: 1, LastChanged: &changed},
		{ISIN: "IE00BKM4GZ66", AccountID: "depot-1", Name: "EM IMI", Amount: decimal.NewFromInt(60), Layer: 1},
		{ISIN: "IE00BK5BQT80", AccountID: "depot-2", Name: "FTSE All-World", Amount: decimal.NewFromInt(100), Layer: 2},
		{ISIN: "IE00BYZK4552", AccountID: "depot-1", Name: "Robotics", Amount: decimal.NewFromInt(40), Layer: 3},
	}
}
