package scorers

import (
	"strings"

	"github.com/aristath/layerwise/internal/modules/knowledgebase"
)

// Valuation blend weights per instrument family.
const (
	etfHoldingsYieldWeight = 0.65
	etfCurrentYieldWeight  = 0.20
	etfPBWeight            = 0.10
	etfDividendWeight      = 0.05

	stockLongtermYieldWeight = 0.50
	stockCurrentYieldWeight  = 0.20
	stockEVWeight            = 0.20
	stockDividendWeight      = 0.05
	stockPBWeight            = 0.05

	reitLongtermYieldWeight = 0.40
	reitCurrentYieldWeight  = 0.20
	reitEVWeight            = 0.20
	reitPBWeight            = 0.10
)

// Scoring anchors: a metric at or beyond the anchor scores 1.
const (
	earningsYieldCap  = 0.20
	evToEBITDATarget  = 12.0
	dividendYieldCap  = 0.08
	priceToBookTarget = 2.0
)

type component struct {
	score  float64
	weight float64
}

// ValuationScore blends the valuation metrics of a record into a score in
// [0, 1]. ETFs, REITs and single stocks each use their own blend; metrics
// that are absent or non-positive are left out and the remaining weights are
// renormalised. The blend is damped by how trustworthy the P/E methodology
// is. The second result is false when no metric is usable.
func ValuationScore(record knowledgebase.Record) (float64, bool) {
	v := record.Valuation
	if v == nil {
		return 0, false
	}

	longterm := ScoreEarningsYield(firstYield(v.EarningsYieldLongterm, v.PELongterm))
	holdings := ScoreEarningsYield(firstYield(v.EarningsYieldTTMHoldings, v.PETTMHoldings))
	current := ScoreEarningsYield(firstYield(nil, v.PECurrent))
	pb := ScorePriceToBook(v.PBCurrent)
	ev := ScoreEVToEBITDA(v.EVToEBITDA)
	dividend := ScoreDividendYield(v.DividendYield)

	var parts []component
	switch {
	case record.IsFund():
		parts = []component{
			{holdings, etfHoldingsYieldWeight},
			{current, etfCurrentYieldWeight},
			{pb, etfPBWeight},
			{dividend, etfDividendWeight},
		}
	case record.IsREIT():
		parts = []component{
			{longterm, reitLongtermYieldWeight},
			{current, reitCurrentYieldWeight},
			{ev, reitEVWeight},
			{pb, reitPBWeight},
		}
	default:
		parts = []component{
			{longterm, stockLongtermYieldWeight},
			{current, stockCurrentYieldWeight},
			{ev, stockEVWeight},
			{dividend, stockDividendWeight},
			{pb, stockPBWeight},
		}
	}

	scoreSum, weightSum := 0.0, 0.0
	for _, p := range parts {
		if p.score > 0 {
			scoreSum += p.score * p.weight
			weightSum += p.weight
		}
	}
	if weightSum <= 0 {
		return 0, false
	}
	return scoreSum / weightSum * qualityMultiplier(v), true
}

// ScoreEarningsYield maps an earnings yield onto [0, 1], saturating at 20%.
func ScoreEarningsYield(yield *float64) float64 {
	if yield == nil || *yield <= 0 {
		return 0
	}
	return min(*yield/earningsYieldCap, 1)
}

// ScoreEVToEBITDA rewards multiples at or below 12x.
func ScoreEVToEBITDA(multiple *float64) float64 {
	if multiple == nil || *multiple <= 0 {
		return 0
	}
	return min(evToEBITDATarget / *multiple, 1)
}

// ScoreDividendYield maps a dividend yield onto [0, 1], saturating at 8%.
func ScoreDividendYield(yield *float64) float64 {
	if yield == nil || *yield <= 0 {
		return 0
	}
	return min(*yield/dividendYieldCap, 1)
}

// ScorePriceToBook rewards price-to-book ratios at or below 2.
func ScorePriceToBook(ratio *float64) float64 {
	if ratio == nil || *ratio <= 0 {
		return 0
	}
	return min(priceToBookTarget / *ratio, 1)
}

// firstYield returns the explicit yield, else 1/PE for a positive PE.
func firstYield(yield, pe *float64) *float64 {
	if yield != nil {
		return yield
	}
	if pe != nil && *pe > 0 {
		inv := 1 / *pe
		return &inv
	}
	return nil
}

func qualityMultiplier(v *knowledgebase.Valuation) float64 {
	multiplier := 1.0

	switch method := knowledgebase.NormalizeLabel(v.PEMethod); method {
	case "":
		multiplier *= 0.95
	case "ttm":
	case "forward", "provider_aggregate":
		multiplier *= 0.90
	case "provider_weighted_avg":
		multiplier *= 0.95
	default:
		multiplier *= 0.92
	}

	horizon := knowledgebase.NormalizeLabel(v.PEHorizon)
	switch {
	case horizon == "":
		multiplier *= 0.95
	case strings.Contains(horizon, "normalized"):
	case strings.Contains(horizon, "ttm"):
		multiplier *= 0.95
	default:
		multiplier *= 0.92
	}

	switch handling := knowledgebase.NormalizeLabel(v.NegEarningsHandling); handling {
	case "":
		multiplier *= 0.97
	case "exclude":
	case "set_null":
		multiplier *= 0.95
	case "aggregate_allows_negative":
		multiplier *= 0.90
	default:
		multiplier *= 0.92
	}

	return min(1.0, max(0.7, multiplier))
}
