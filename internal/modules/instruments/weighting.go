package instruments

import (
	"sort"

	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/aristath/layerwise/internal/modules/scoring/scorers"
	"gonum.org/v1/gonum/floats"
)

const (
	valuationBase  = 0.7
	valuationSlope = 0.3

	// riskScoreCutoff is the score from which an instrument counts as high
	// risk; minScoreFactor bounds how far a risky instrument is scaled down.
	riskScoreCutoff = 51.0
	minScoreFactor  = 0.2
)

// scoreFactor scales a weight down as the risk score approaches the cutoff.
// Scores of 1 or less keep the full weight.
func scoreFactor(score int) float64 {
	factor := (riskScoreCutoff - float64(score) + 1) / riskScoreCutoff
	return max(minScoreFactor, min(1, factor))
}

// scoreFactors returns a factor per ISIN, defaulting to 1, or nil when no
// record in the layer carries a risk score.
func scoreFactors(isins []string, records map[string]knowledgebase.Record) map[string]float64 {
	factors := make(map[string]float64, len(isins))
	scored := false
	for _, isin := range isins {
		factors[isin] = 1
		if score := records[isin].RiskScore; score != nil {
			factors[isin] = scoreFactor(*score)
			scored = true
		}
	}
	if !scored {
		return nil
	}
	return factors
}

// sectorWeightFactor is how much sector overlap counts as redundancy: core
// funds naturally share sectors, and unclassified holdings are not compared.
func sectorWeightFactor(layer int) float64 {
	switch layer {
	case 1:
		return 0.5
	case 5:
		return 0
	}
	return 1
}

// layerSignals holds the per-instrument signals of one layer. A signal is
// only used when every instrument in the layer has it.
type layerSignals struct {
	ters        map[string]float64
	benchmarks  map[string]string
	regions     map[string]scorers.Exposure
	holdings    map[string]scorers.Exposure
	sectors     map[string]scorers.Exposure
	valuations  map[string]float64
	penalties   map[string]float64
	useCost     bool
	useBench    bool
	useRegions  bool
	useHoldings bool
	useSectors  bool
	useValue    bool
}

func collectSignals(layer int, isins []string, records map[string]knowledgebase.Record) layerSignals {
	s := layerSignals{
		ters:        make(map[string]float64),
		benchmarks:  make(map[string]string),
		regions:     make(map[string]scorers.Exposure),
		holdings:    make(map[string]scorers.Exposure),
		sectors:     make(map[string]scorers.Exposure),
		valuations:  make(map[string]float64),
		penalties:   make(map[string]float64),
		useCost:     true,
		useBench:    true,
		useRegions:  true,
		useHoldings: true,
		useSectors:  sectorWeightFactor(layer) > 0,
		useValue:    true,
	}
	for _, isin := range isins {
		record := records[isin]
		if ter, ok := record.OngoingCharges(); ok {
			s.ters[isin] = ter
		} else {
			s.useCost = false
		}
		if benchmark := record.Benchmark(); benchmark != "" {
			s.benchmarks[isin] = benchmark
		} else {
			s.useBench = false
		}
		if names := record.RegionNames(); len(names) > 0 {
			s.regions[isin] = scorers.Exposure{Weights: record.RegionWeights(), Names: names}
		} else {
			s.useRegions = false
		}
		if names := record.HoldingNames(); len(names) > 0 {
			s.holdings[isin] = scorers.Exposure{Weights: record.HoldingWeights(), Names: names}
		} else {
			s.useHoldings = false
		}
		if names := record.SectorNames(); len(names) > 0 {
			s.sectors[isin] = scorers.Exposure{Weights: record.SectorWeights(), Names: names}
		} else {
			s.useSectors = false
		}
		if score, ok := scorers.ValuationScore(record); ok {
			s.valuations[isin] = score
		} else {
			s.useValue = false
		}
		s.penalties[isin] = scorers.DataQualityPenalty(record)
	}
	return s
}

func (s layerSignals) useRedundancy() bool {
	return s.useBench || s.useRegions || s.useHoldings || s.useSectors
}

// redundancy averages how much isin duplicates the rest of the layer across
// the benchmark, region, holding and sector dimensions.
func (s layerSignals) redundancy(layer int, isin string, count int) float64 {
	if count <= 1 {
		return 0
	}
	sum, weightSum := 0.0, 0.0
	if s.useBench {
		shared := 0
		for _, other := range s.benchmarks {
			if other == s.benchmarks[isin] {
				shared++
			}
		}
		sum += float64(shared-1) / float64(count-1)
		weightSum++
	}
	if s.useRegions {
		sum += scorers.AveragePeerOverlap(isin, s.regions, count)
		weightSum++
	}
	if s.useHoldings {
		sum += scorers.AveragePeerOverlap(isin, s.holdings, count)
		weightSum++
	}
	if factor := sectorWeightFactor(layer); s.useSectors && factor > 0 {
		sum += scorers.AveragePeerOverlap(isin, s.sectors, count) * factor
		weightSum += factor
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}

// computeWeights derives normalised weights for the instruments of a layer.
// The score of an instrument is the product of its cost score, uniqueness,
// valuation factor, data-quality factor and risk-score factor. Without any
// knowledge-base signal the risk-score factors alone decide; layers with a
// single instrument, no signal at all or a non-positive total get equal
// weights.
func computeWeights(layer int, isins []string, records map[string]knowledgebase.Record) WeightingSummary {
	sorted := append([]string(nil), isins...)
	sort.Strings(sorted)
	summary := WeightingSummary{
		Layer:           layer,
		InstrumentCount: len(sorted),
		Weights:         equalWeights(sorted),
	}
	if len(sorted) <= 1 {
		return summary
	}

	factors := scoreFactors(sorted, records)
	signals := collectSignals(layer, sorted, records)
	if !signals.useCost && !signals.useRedundancy() && !signals.useValue {
		return scoreOnly(summary, sorted, factors)
	}

	scores := make([]float64, len(sorted))
	for i, isin := range sorted {
		score := 1.0
		if signals.useCost {
			score *= scorers.CostScore(signals.ters[isin])
		}
		if signals.useRedundancy() {
			score *= max(0, 1-signals.redundancy(layer, isin, len(sorted)))
		}
		if signals.useValue {
			score *= valuationBase + valuationSlope*signals.valuations[isin]
		}
		score *= max(0, 1-signals.penalties[isin])
		if factors != nil {
			score *= factors[isin]
		}
		scores[i] = score
	}

	total := floats.Sum(scores)
	if total <= 0 {
		return scoreOnly(summary, sorted, factors)
	}
	floats.Scale(1/total, scores)

	summary.Weights = make(map[string]float64, len(sorted))
	for i, isin := range sorted {
		summary.Weights[isin] = scores[i]
	}
	summary.Weighted = true
	summary.ScoreWeighted = factors != nil
	summary.CostUsed = signals.useCost
	summary.BenchmarkUsed = signals.useBench
	summary.RegionsUsed = signals.useRegions
	summary.HoldingsUsed = signals.useHoldings
	summary.SectorsUsed = signals.useSectors
	summary.ValuationUsed = signals.useValue
	return summary
}

// scoreOnly weights by the risk-score factors, or leaves summary at equal
// weights when there are none.
func scoreOnly(summary WeightingSummary, isins []string, factors map[string]float64) WeightingSummary {
	if factors == nil {
		return summary
	}
	raw := make([]float64, len(isins))
	for i, isin := range isins {
		raw[i] = factors[isin]
	}
	floats.Scale(1/floats.Sum(raw), raw)
	summary.Weights = make(map[string]float64, len(isins))
	for i, isin := range isins {
		summary.Weights[isin] = raw[i]
	}
	summary.ScoreWeighted = true
	return summary
}

func equalWeights(isins []string) map[string]float64 {
	weights := make(map[string]float64, len(isins))
	for _, isin := range isins {
		weights[isin] = 1 / float64(len(isins))
	}
	return weights
}
