// Package scorers turns knowledge-base reference data into the signals used
// for instrument weighting and candidate ranking: valuation, data quality and
// the overlap between instruments.
package scorers

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WeightedOverlap measures how much two weighted exposures overlap:
// sum(min(a[k], b[k])) / max(sum(a), sum(b)). The second result is false when
// either side carries no weight.
func WeightedOverlap(a, b map[string]float64) (float64, bool) {
	totalA := floats.Sum(values(a))
	totalB := floats.Sum(values(b))
	if totalA <= 0 || totalB <= 0 {
		return 0, false
	}
	overlap := 0.0
	for _, name := range sortedNames(a) {
		if right, ok := b[name]; ok {
			overlap += min(a[name], right)
		}
	}
	return overlap / max(totalA, totalB), true
}

// SetOverlap is the share of common labels relative to the larger set.
func SetOverlap(a, b []string) (float64, bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}
	other := make(map[string]struct{}, len(b))
	for _, name := range b {
		other[name] = struct{}{}
	}
	common := 0
	for _, name := range a {
		if _, ok := other[name]; ok {
			common++
		}
	}
	return float64(common) / float64(max(len(a), len(b))), true
}

// Exposure is one instrument's view of a single dimension (regions, holdings
// or sectors): weighted when weights are known, plus the bare label set.
type Exposure struct {
	Weights map[string]float64
	Names   []string
}

// AveragePeerOverlap averages the overlap of key with every other peer.
// Weighted overlap is preferred; when weights are missing on key's side or
// no peer has weights, the label-set overlap averaged over peerCount-1 peers
// is used instead.
func AveragePeerOverlap(key string, peers map[string]Exposure, peerCount int) float64 {
	if peerCount <= 1 {
		return 0
	}
	base, ok := peers[key]
	if !ok {
		return 0
	}

	if len(base.Weights) > 0 {
		var overlaps []float64
		for _, other := range peerKeys(peers) {
			exposure := peers[other]
			if other == key || len(exposure.Weights) == 0 {
				continue
			}
			if overlap, ok := WeightedOverlap(base.Weights, exposure.Weights); ok {
				overlaps = append(overlaps, overlap)
			}
		}
		if len(overlaps) > 0 {
			return stat.Mean(overlaps, nil)
		}
	}

	sum := 0.0
	for _, other := range peerKeys(peers) {
		if other == key {
			continue
		}
		if overlap, ok := SetOverlap(base.Names, peers[other].Names); ok {
			sum += overlap
		}
	}
	return sum / float64(peerCount-1)
}

// AverageSetOverlap averages SetOverlap of base against each non-empty set.
// The second result is false when nothing could be compared.
func AverageSetOverlap(base []string, others [][]string) (float64, bool) {
	var overlaps []float64
	for _, other := range others {
		if overlap, ok := SetOverlap(base, other); ok {
			overlaps = append(overlaps, overlap)
		}
	}
	if len(overlaps) == 0 {
		return 0, false
	}
	return stat.Mean(overlaps, nil), true
}

// values returns the map values in key order so float sums are reproducible.
func values(m map[string]float64) []float64 {
	out := make([]float64, 0, len(m))
	for _, name := range sortedNames(m) {
		out = append(out, m[name])
	}
	return out
}

func sortedNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func peerKeys(peers map[string]Exposure) []string {
	keys := make([]string, 0, len(peers))
	for k := range peers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
