package suggestions

import (
	"fmt"
	"strings"

	"github.com/aristath/layerwise/internal/modules/scoring/scorers"
	"github.com/shopspring/decimal"
)

const (
	costWeight        = 0.35
	uniquenessWeight  = 0.35
	valuationWeight   = 0.15
	unknownCostScore  = 0.5
	fundBonus         = 0.3
	gapBonusPerType   = 0.1
	maxGapBonus       = 0.4
	singleStockMalus  = 0.4
	noveltyBonus      = 0.2
	diversifiesBelow  = 0.4
	maxGapReasons     = 2
	maxSelectionNotes = 2
)

// redundancy is how much p duplicates the instruments already in the layer:
// the share of them tracking the same benchmark, averaged with region and
// holding set overlap where those can be compared.
func redundancy(p profile, existing []profile) float64 {
	if len(existing) == 0 {
		return 0
	}
	sum, components := 0.0, 0
	if p.benchmark != "" {
		matches := 0
		for _, other := range existing {
			if strings.EqualFold(p.benchmark, other.benchmark) {
				matches++
			}
		}
		sum += float64(matches) / float64(len(existing))
		components++
	}

	regions := make([][]string, 0, len(existing))
	holdings := make([][]string, 0, len(existing))
	for _, other := range existing {
		regions = append(regions, other.regions)
		holdings = append(holdings, other.holdings)
	}
	if overlap, ok := scorers.AverageSetOverlap(p.regions, regions); ok {
		sum += overlap
		components++
	}
	if overlap, ok := scorers.AverageSetOverlap(p.holdings, holdings); ok {
		sum += overlap
		components++
	}
	if components == 0 {
		return 0
	}
	return sum / float64(components)
}

// score ranks a candidate for a layer. held marks instruments already in the
// portfolio; everything else earns the novelty bonus.
func score(p profile, existing []profile, gaps []Gap, held map[string]bool) float64 {
	cost := unknownCostScore
	if p.hasTER {
		cost = scorers.CostScore(p.ter)
	}
	total := cost*costWeight + (1-redundancy(p, existing))*uniquenessWeight + p.valuation*valuationWeight
	if p.fund {
		total += fundBonus
	}
	total += min(maxGapBonus, float64(gapCoverageCount(p, gaps))*gapBonusPerType)
	if p.singleStock && p.layer <= 3 {
		total -= singleStockMalus
	}
	if !held[p.isin] {
		total += noveltyBonus
	}
	return total
}

func formatGap(gap Gap) string {
	switch gap.Type {
	case GapSubClass:
		return "Fills missing sub-class: " + gap.Value + "."
	case GapTheme:
		return "Adds missing theme exposure: " + gap.Value + "."
	case GapLocalisation:
		return "Adds regional exposure to " + gap.Value + "."
	case GapDistribution:
		return "Adds " + gap.Value + " share class not present in this layer."
	}
	return ""
}

// selectionReason lists up to two reasons the candidate won, joined by "; ".
func selectionReason(p profile, existing []profile) string {
	var reasons []string
	if p.hasTER {
		reasons = append(reasons, fmt.Sprintf("low ongoing charges (%s%%)", decimal.NewFromFloat(p.ter).StringFixed(2)))
	}
	if p.benchmark != "" {
		reasons = append(reasons, "tracks "+p.benchmark)
	}
	comparable := p.benchmark != "" || len(p.regions) > 0 || len(p.holdings) > 0
	if len(existing) > 0 && comparable && redundancy(p, existing) < diversifiesBelow {
		reasons = append(reasons, "diversifies existing holdings")
	}
	if p.layer <= 3 && p.fund {
		reasons = append(reasons, "suited to core allocation style")
	}
	if len(reasons) > maxSelectionNotes {
		reasons = reasons[:maxSelectionNotes]
	}
	return strings.Join(reasons, "; ")
}

func withSelection(sentence string, p profile, existing []profile) string {
	if selection := selectionReason(p, existing); selection != "" {
		return sentence + " Selected because " + selection + "."
	}
	return sentence
}

// gapRationale names the gap the candidate was picked for plus at most one
// more it also fills.
func gapRationale(p profile, primary Gap, gaps []Gap, existing []profile) string {
	reasons := []string{formatGap(primary)}
	for _, gap := range coveredGaps(p, gaps) {
		if len(reasons) >= maxGapReasons {
			break
		}
		if reason := formatGap(gap); !contains(reasons, reason) {
			reasons = append(reasons, reason)
		}
	}
	sentence := strings.Join(reasons, " ")
	if sentence == "" {
		sentence = "Adds coverage for a missing gap."
	}
	return withSelection(sentence, p, existing)
}

func baselineRationale(p profile, existing []profile) string {
	return withSelection("Adds exposure to build a baseline allocation in this layer.", p, existing)
}

func increaseRationale(p profile, primary Gap, existing []profile) string {
	return withSelection(formatGap(primary)+" Increases an instrument already held, as no new candidate fits.", p, existing)
}
