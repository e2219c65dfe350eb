// Package suggestions proposes new or increased instrument holdings for
// layers whose coverage has gaps the knowledge-base catalog can fill.
package suggestions

import (
	"fmt"
	"strings"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/shopspring/decimal"
)

// GapDetectionPolicy decides which holdings count as covering a category.
type GapDetectionPolicy string

const (
	// PolicySavingPlanGaps counts only instruments with a recurring plan.
	PolicySavingPlanGaps GapDetectionPolicy = "SAVING_PLAN_GAPS"
	// PolicyPortfolioGaps counts every holding, recurring or one-off.
	PolicyPortfolioGaps GapDetectionPolicy = "PORTFOLIO_GAPS"
)

// ParseGapDetectionPolicy is case-insensitive and defaults to
// PolicySavingPlanGaps for anything it does not recognise.
func ParseGapDetectionPolicy(raw string) GapDetectionPolicy {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(PolicyPortfolioGaps):
		return PolicyPortfolioGaps
	default:
		return PolicySavingPlanGaps
	}
}

// GapType is a coverage dimension. The declaration order is the order in
// which gaps are filled.
type GapType int

const (
	GapSubClass GapType = iota
	GapTheme
	GapLocalisation
	GapDistribution
)

func (t GapType) String() string {
	switch t {
	case GapSubClass:
		return "SUB_CLASS"
	case GapTheme:
		return "THEME"
	case GapLocalisation:
		return "LOCALISATION"
	case GapDistribution:
		return "DISTRIBUTION"
	}
	return "UNKNOWN"
}

// MarshalText renders the gap type by name in JSON.
func (t GapType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses the names written by MarshalText.
func (t *GapType) UnmarshalText(text []byte) error {
	for _, candidate := range []GapType{GapSubClass, GapTheme, GapLocalisation, GapDistribution} {
		if strings.EqualFold(candidate.String(), string(text)) {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown gap type %q", text)
}

// Gap is one category value the layer lacks.
type Gap struct {
	Value string  `json:"value"`
	Type  GapType `json:"type"`
}

// Action says whether a suggestion opens a new position or tops up a held one.
type Action string

const (
	ActionNew      Action = "new"
	ActionIncrease Action = "increase"
)

// Suggestion is one proposed instrument and amount.
type Suggestion struct {
	ISIN      string          `json:"isin"`
	Name      string          `json:"name"`
	Action    Action          `json:"action"`
	Rationale string          `json:"rationale"`
	Amount    decimal.Decimal `json:"amount"`
	Layer     int             `json:"layer"`
}

// SuggestionRequest carries everything a suggestion run needs besides the
// knowledge base.
type SuggestionRequest struct {
	CurrentLayerTotals map[int]decimal.Decimal `json:"current_layer_totals,omitempty"`
	// SavingPlanBudgets is the unplaced recurring amount per layer.
	SavingPlanBudgets map[int]decimal.Decimal `json:"saving_plan_budgets,omitempty"`
	// OneTimeBudgets is the one-time amount per layer.
	OneTimeBudgets          map[int]decimal.Decimal `json:"one_time_budgets,omitempty"`
	MaxPlansPerLayer        map[int]int             `json:"max_plans_per_layer,omitempty"`
	Policy                  GapDetectionPolicy      `json:"policy,omitempty"`
	Plans                   []domain.RecurringPlan  `json:"plans"`
	ExistingISINs           []string                `json:"existing_isins,omitempty"`
	ExcludedISINs           []string                `json:"excluded_isins,omitempty"`
	MinimumPlanSize         decimal.Decimal         `json:"minimum_plan_size"`
	MinimumRebalance        decimal.Decimal         `json:"minimum_rebalance"`
	MinimumInstrumentAmount decimal.Decimal         `json:"minimum_instrument_amount"`
}

// SuggestionResult holds the suggestions for recurring plans and for the
// one-time amount separately.
type SuggestionResult struct {
	SavingPlanSuggestions []Suggestion  `json:"saving_plan_suggestions"`
	OneTimeSuggestions    []Suggestion  `json:"one_time_suggestions"`
	Gaps                  map[int][]Gap `json:"gaps,omitempty"`
}

func emptyResult() *SuggestionResult {
	return &SuggestionResult{
		SavingPlanSuggestions: []Suggestion{},
		OneTimeSuggestions:    []Suggestion{},
	}
}
