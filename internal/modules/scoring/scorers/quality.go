package scorers

import "github.com/aristath/layerwise/internal/modules/knowledgebase"

const (
	missingFieldPenalty = 0.01
	warningPenalty      = 0.05
	maxQualityPenalty   = 0.25
)

// DataQualityPenalty charges 1% per missing field and 5% per warning on a
// record, capped at 25%.
func DataQualityPenalty(record knowledgebase.Record) float64 {
	penalty := float64(len(record.MissingFields))*missingFieldPenalty +
		float64(len(record.Warnings))*warningPenalty
	return min(maxQualityPenalty, max(0, penalty))
}

// CostScore is 1/(1+TER). Negative TERs count as zero.
func CostScore(ter float64) float64 {
	return 1 / (1 + max(0, ter))
}
