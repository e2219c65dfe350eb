package suggestions

import (
	"testing"

	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/stretchr/testify/assert"
)

func TestParseGapDetectionPolicy(t *testing.T) {
	tests := []struct {
		raw  string
		want GapDetectionPolicy
	}{
		{"PORTFOLIO_GAPS", PolicyPortfolioGaps},
		{" portfolio_gaps ", PolicyPortfolioGaps},
		{"SAVING_PLAN_GAPS", PolicySavingPlanGaps},
		{"", PolicySavingPlanGaps},
		{"everything", PolicySavingPlanGaps},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseGapDetectionPolicy(tt.raw))
		})
	}
}

func TestExtractLocales(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		regions []string
		want    []string
	}{
		{"keyword on word boundary", "S&P 500 US", nil, []string{"united states"}},
		{"no match inside words", "Industrials Focus", nil, []string{}},
		{"several keywords", "FTSE Developed Europe ex UK", nil, []string{"europe", "united kingdom"}},
		{"regions are kept", "Core", []string{"north america"}, []string{"north america"}},
		{"emerging maps to emerging markets", "Emerging Asia", nil, []string{"asia", "emerging markets"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractLocales(tt.text, "", "", tt.regions))
		})
	}
}

func TestExtractThemes(t *testing.T) {
	themes := extractThemes("Thematic Equity", "Clean energy infrastructure with a dividend tilt")
	assert.Equal(t, []string{"dividend", "infra", "infrastructure", "thematic equity"}, themes)
	assert.Empty(t, extractThemes("", ""))
}

func TestMissingGapsAndCoverage(t *testing.T) {
	held := newProfile(knowledgebase.Record{ISIN: "IE00A", Name: "World Acc", SubClass: "Global Equity", Layer: 1})
	plan := newProfile(knowledgebase.Record{ISIN: "IE00B", Name: "Europe Dist", SubClass: "Europe Equity", Layer: 1})
	candidate := newProfile(knowledgebase.Record{ISIN: "IE00C", Name: "Japan Acc", SubClass: "Japan Equity", Layer: 1})
	available := newCoverage(held, plan, candidate)

	saving := missingGaps(coverageFor(PolicySavingPlanGaps, []profile{plan}, []profile{held, plan}), available)
	portfolio := missingGaps(coverageFor(PolicyPortfolioGaps, []profile{plan}, []profile{held, plan}), available)

	assert.Equal(t, []Gap{
		{Type: GapSubClass, Value: "global equity"},
		{Type: GapSubClass, Value: "japan equity"},
		{Type: GapTheme, Value: "global equity"},
		{Type: GapTheme, Value: "japan equity"},
		{Type: GapLocalisation, Value: "global"},
		{Type: GapLocalisation, Value: "japan"},
		{Type: GapDistribution, Value: "accumulating"},
	}, saving)
	assert.Equal(t, []Gap{
		{Type: GapSubClass, Value: "japan equity"},
		{Type: GapTheme, Value: "japan equity"},
		{Type: GapLocalisation, Value: "japan"},
	}, portfolio)

	assert.Equal(t, 3, gapCoverageCount(candidate, portfolio))
	assert.Equal(t, 0, gapCoverageCount(held, portfolio))
}

func TestGapTypeText(t *testing.T) {
	text, err := GapLocalisation.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "LOCALISATION", string(text))
}

func TestGapTypeUnmarshalText(t *testing.T) {
	var g GapType
	assert.NoError(t, g.UnmarshalText([]byte("distribution")))
	assert.Equal(t, GapDistribution, g)
	assert.Error(t, g.UnmarshalText([]byte("COLOUR")))
}
