package report

import (
	"strings"
	"testing"
	"time"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/modules/instruments"
	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/aristath/layerwise/internal/modules/suggestions"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func amounts(values map[int]int64) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(values))
	for k, v := range values {
		out[k] = decimal.NewFromInt(v)
	}
	return out
}

func sampleResult() *rebalancing.AssessmentResult {
	return &rebalancing.AssessmentResult{
		GeneratedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		RunID:         "run-1",
		Profile:       config.DefaultProfiles()["BALANCED"],
		MonthlyTotal:  decimal.NewFromInt(100),
		CurrentLayers: amounts(map[int]int64{1: 70, 2: 20, 3: 10}),
		TargetLayers:  amounts(map[int]int64{1: 70, 2: 30}),
		SavingPlanSuggestions: []rebalancing.PlanSuggestion{
			{Type: rebalancing.PlanChangeDiscard, ISIN: "IE00C", Name: "Robotics | Tech", Layer: 3,
				OldAmount: decimal.NewFromInt(10), NewAmount: decimal.Zero, Delta: decimal.NewFromInt(-10)},
		},
		Diagnostics: rebalancing.AssessmentDiagnostics{
			Notes: []string{"Adjusted layers below minimum saving plan size: [4 3]"},
		},
	}
}

func TestAssessment_Sections(t *testing.T) {
	out := String(sampleResult(), "")

	assert.True(t, strings.HasPrefix(out, "# Allocation Assessment\n"))
	assert.Contains(t, out, "Profile **Balanced** (BALANCED), generated 2026-03-01 12:00 UTC.")
	assert.Contains(t, out, "Monthly saving plans: **€100.00**")
	assert.Contains(t, out, "| 2 Core-Plus | 20.0% | €20.00 | €30.00 | +€10.00 |")
	assert.Contains(t, out, "| 3 Themes | 8.0% | €10.00 | €0.00 | -€10.00 |")
	assert.Contains(t, out, "| discard | Robotics \\| Tech | IE00C | 3 | €10.00 | €0.00 | -€10.00 |")
	assert.Contains(t, out, "- Adjusted layers below minimum saving plan size: [4 3]")
	assert.Contains(t, out, "_Run run-1_")

	assert.NotContains(t, out, "## Instrument Proposals")
	assert.NotContains(t, out, "## One-Time")
	assert.NotContains(t, out, "## Suggestions")
}

func TestAssessment_Currency(t *testing.T) {
	out := String(sampleResult(), "USD")
	assert.Contains(t, out, "Monthly saving plans: **$100.00**")
}

func TestAssessment_EmptyPortfolio(t *testing.T) {
	result := sampleResult()
	result.CurrentLayers = nil
	result.TargetLayers = nil
	result.SavingPlanSuggestions = nil
	out := String(result, "EUR")

	assert.Contains(t, out, "No saving plans.")
	assert.Contains(t, out, "No changes proposed.")
}

func TestAssessment_WithheldProposals(t *testing.T) {
	result := sampleResult()
	result.Instruments = &instruments.ProposalResult{
		Gating: knowledgebase.Gating{KnowledgeBaseEnabled: true, MissingISINs: []string{"IE00A", "IE00B"}},
	}
	out := String(result, "EUR")
	assert.Contains(t, out, "Withheld: missing knowledge base records for IE00A, IE00B.")

	result.Instruments.Gating.KnowledgeBaseEnabled = false
	out = String(result, "EUR")
	assert.Contains(t, out, "Withheld: the knowledge base is disabled.")
}

func TestAssessment_ProposalsOneTimeAndSuggestions(t *testing.T) {
	result := sampleResult()
	result.Instruments = &instruments.ProposalResult{
		Gating: knowledgebase.Gating{KnowledgeBaseEnabled: true, Complete: true},
		Proposals: []instruments.Proposal{{
			ISIN: "IE00B", Name: "Core Plus", Layer: 2,
			CurrentAmount: decimal.NewFromInt(20), ProposedAmount: decimal.NewFromInt(30), Delta: decimal.NewFromInt(10),
			ReasonCodes: []instruments.ReasonCode{instruments.ReasonWeighted},
		}},
	}
	result.OneTime = &rebalancing.OneTimeAllocation{
		Amount:      decimal.NewFromInt(500),
		Layers:      amounts(map[int]int64{1: 400, 2: 100}),
		Instruments: map[string]decimal.Decimal{"IE00B": decimal.NewFromInt(100), "IE00A": decimal.NewFromInt(400)},
	}
	result.Suggestions = &suggestions.SuggestionResult{
		SavingPlanSuggestions: []suggestions.Suggestion{{
			ISIN: "IE00N", Name: "New Theme", Layer: 3, Action: suggestions.ActionNew,
			Amount: decimal.NewFromInt(15), Rationale: "Fills a theme gap",
		}},
	}
	out := String(result, "EUR")

	assert.Contains(t, out, "| Core Plus | IE00B | 2 | €20.00 | €30.00 | +€10.00 | KB_WEIGHTED |")
	assert.Contains(t, out, "## One-Time Investment of €500.00")
	assert.Contains(t, out, "| 1 Global Core | €400.00 |")
	assert.Less(t, strings.Index(out, "| IE00A | €400.00 |"), strings.Index(out, "| IE00B | €100.00 |"))
	assert.Contains(t, out, "### Saving plans")
	assert.NotContains(t, out, "### One-time")
	assert.Contains(t, out, "| 3 | New Theme | IE00N | new | €15.00 | Fills a theme gap |")
}
