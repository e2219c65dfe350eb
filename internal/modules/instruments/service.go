package instruments

import (
	"fmt"
	"sort"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/allocation"
	"github.com/aristath/layerwise/internal/modules/knowledgebase"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service builds per-instrument proposals from layer budgets.
type Service struct {
	fetcher knowledgebase.Fetcher
	log     zerolog.Logger
}

// NewService creates a new instrument rebalance service. A nil fetcher
// disables the knowledge base, which withholds every proposal.
func NewService(fetcher knowledgebase.Fetcher, log zerolog.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		log:     log.With().Str("service", "instruments").Logger(),
	}
}

// BuildProposals distributes each layer budget over the instruments of that
// layer.
//
// Nothing is proposed unless the knowledge base covers every instrument.
// Within tolerance, current amounts are returned unchanged. Otherwise each
// layer budget is split by knowledge-base weights, amounts under
// minimumPlanSize are raised or dropped, and changes smaller than
// minimumRebalance snap back to the current amount. Per-layer proposed sums
// always equal the budget rounded to cents.
func (s *Service) BuildProposals(instruments []Instrument, layerBudgets map[int]decimal.Decimal, minimumPlanSize, minimumRebalance decimal.Decimal, withinTolerance bool) (*ProposalResult, error) {
	normalized := normalizeInstruments(instruments)
	isins := make([]string, 0, len(normalized))
	for _, inst := range normalized {
		isins = append(isins, inst.ISIN)
	}

	snapshot, err := knowledgebase.Evaluate(s.fetcher, isins)
	if err != nil {
		return nil, fmt.Errorf("instrument proposals: %w", err)
	}
	result := &ProposalResult{
		Gating:    snapshot.Gating,
		Proposals: []Proposal{},
		Warnings:  []Warning{},
		Weighting: []WeightingSummary{},
	}
	if !snapshot.Gating.Complete {
		s.log.Warn().
			Bool("kb_enabled", snapshot.Gating.KnowledgeBaseEnabled).
			Strs("missing_isins", snapshot.Gating.MissingISINs).
			Msg("Knowledge base incomplete, withholding instrument proposals")
		return result, nil
	}
	if len(normalized) == 0 {
		return result, nil
	}

	if withinTolerance {
		for _, inst := range normalized {
			result.Proposals = append(result.Proposals, Proposal{
				ISIN:           inst.ISIN,
				Name:           inst.Name,
				CurrentAmount:  inst.Amount,
				ProposedAmount: inst.Amount,
				Delta:          decimal.Zero,
				Layer:          inst.Layer,
				ReasonCodes:    []ReasonCode{ReasonNoChange},
			})
		}
		sortProposals(result.Proposals)
		return result, nil
	}

	minPlan := domain.ClampNonNegative(minimumPlanSize)
	minRebalance := domain.ClampNonNegative(minimumRebalance)
	byLayer := make(map[int][]Instrument)
	for _, inst := range normalized {
		byLayer[inst.Layer] = append(byLayer[inst.Layer], inst)
	}

	for _, layer := range domain.Layers {
		budget := layerBudgets[layer]
		layerInstruments := byLayer[layer]

		if !budget.IsPositive() {
			for _, inst := range layerInstruments {
				result.Proposals = append(result.Proposals, Proposal{
					ISIN:           inst.ISIN,
					Name:           inst.Name,
					CurrentAmount:  inst.Amount,
					ProposedAmount: decimal.Zero,
					Delta:          inst.Amount.Neg(),
					Layer:          layer,
					ReasonCodes:    []ReasonCode{ReasonLayerBudgetZero},
				})
			}
			continue
		}
		if len(layerInstruments) == 0 {
			result.Warnings = append(result.Warnings, Warning{
				Code: WarningNoInstruments,
				Message: fmt.Sprintf("Layer %d has a budget of %s but no active saving plan instruments.",
					layer, allocation.FormatAmount(budget, string(domain.BaseCurrency))),
				Layer: layer,
			})
			continue
		}

		la := s.allocateLayer(layer, budget, layerInstruments, snapshot.Records, minPlan, minRebalance)
		result.Weighting = append(result.Weighting, la.summary)
		for _, inst := range layerInstruments {
			proposed := la.amounts[inst.ISIN]
			result.Proposals = append(result.Proposals, Proposal{
				ISIN:           inst.ISIN,
				Name:           inst.Name,
				CurrentAmount:  inst.Amount,
				ProposedAmount: proposed,
				Delta:          proposed.Sub(inst.Amount),
				Layer:          layer,
				ReasonCodes:    la.reasons[inst.ISIN],
			})
		}
	}

	sortProposals(result.Proposals)
	return result, nil
}

type layerAllocation struct {
	amounts map[string]decimal.Decimal
	reasons map[string][]ReasonCode
	summary WeightingSummary
}

func (s *Service) allocateLayer(layer int, budget decimal.Decimal, instruments []Instrument, records map[string]knowledgebase.Record, minPlan, minRebalance decimal.Decimal) layerAllocation {
	isins := make([]string, 0, len(instruments))
	current := make(map[string]decimal.Decimal, len(instruments))
	for _, inst := range instruments {
		isins = append(isins, inst.ISIN)
		current[inst.ISIN] = inst.Amount
	}

	summary := computeWeights(layer, isins, records)
	weights := make(map[string]decimal.Decimal, len(summary.Weights))
	for isin, w := range summary.Weights {
		weights[isin] = decimal.NewFromFloat(w)
	}
	priority := keepPriority(instruments, weights)

	la := layerAllocation{
		amounts: allocation.Apportion(budget, weights, domain.AmountScale, allocation.StringLess),
		reasons: make(map[string][]ReasonCode, len(isins)),
		summary: summary,
	}
	code := ReasonEqualWeight
	if summary.Weighted {
		code = ReasonWeighted
	}
	for _, isin := range isins {
		la.reasons[isin] = []ReasonCode{code}
		if summary.ScoreWeighted {
			la.reasons[isin] = append(la.reasons[isin], ReasonScoreWeighted)
		}
	}

	dropped := enforceMinimum(la.amounts, weights, priority, minPlan)
	snapped, guarded := snapBack(la.amounts, current, priority, minRebalance, minPlan, dropped)
	for _, isin := range append(dropped, guarded...) {
		la.reasons[isin] = append(la.reasons[isin], ReasonMinDropped)
	}
	for _, isin := range snapped {
		la.reasons[isin] = append(la.reasons[isin], ReasonMinRebalance)
	}

	s.log.Debug().
		Int("layer", layer).
		Str("budget", budget.StringFixed(domain.AmountScale)).
		Bool("weighted", summary.Weighted).
		Bool("score_weighted", summary.ScoreWeighted).
		Strs("dropped", dropped).
		Strs("guarded", guarded).
		Strs("snapped", snapped).
		Msg("Allocated layer budget to instruments")
	return la
}

// keepPriority orders the ISINs of a layer from most to least worth keeping:
// higher weight first, then the larger current amount, then the most
// recently changed plan (unknown dates last), then ISIN.
func keepPriority(instruments []Instrument, weights map[string]decimal.Decimal) []string {
	ordered := append([]Instrument(nil), instruments...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if c := weights[a.ISIN].Cmp(weights[b.ISIN]); c != 0 {
			return c > 0
		}
		if c := a.Amount.Cmp(b.Amount); c != 0 {
			return c > 0
		}
		switch {
		case a.LastChanged != nil && b.LastChanged == nil:
			return true
		case a.LastChanged == nil && b.LastChanged != nil:
			return false
		case a.LastChanged != nil && !a.LastChanged.Equal(*b.LastChanged):
			return a.LastChanged.After(*b.LastChanged)
		}
		return a.ISIN < b.ISIN
	})
	out := make([]string, len(ordered))
	for i, inst := range ordered {
		out[i] = inst.ISIN
	}
	return out
}

// enforceMinimum raises amounts in (0, minPlan) to minPlan when the other
// instruments have enough slack above their own minimum, taking the slack
// from the largest amounts first. Small amounts are visited in priority
// order, so the least valuable ones are dropped when slack runs out. The
// freed budget is apportioned once more over the instruments that still hold
// an amount. It returns the dropped ISINs in order.
func enforceMinimum(amounts, weights map[string]decimal.Decimal, priority []string, minPlan decimal.Decimal) []string {
	if !minPlan.IsPositive() {
		return nil
	}
	var dropped []string
	freed := decimal.Zero
	for _, isin := range priority {
		if v := amounts[isin]; !v.IsPositive() || !v.LessThan(minPlan) {
			continue
		}
		need := minPlan.Sub(amounts[isin])
		donors := slackDonors(amounts, minPlan)
		slack := decimal.Zero
		for _, donor := range donors {
			slack = slack.Add(amounts[donor].Sub(minPlan))
		}
		if slack.GreaterThanOrEqual(need) {
			for _, donor := range donors {
				if !need.IsPositive() {
					break
				}
				take := decimal.Min(need, amounts[donor].Sub(minPlan))
				amounts[donor] = amounts[donor].Sub(take)
				need = need.Sub(take)
			}
			amounts[isin] = minPlan
			continue
		}
		freed = freed.Add(amounts[isin])
		amounts[isin] = decimal.Zero
		dropped = append(dropped, isin)
	}
	if !freed.IsPositive() {
		return dropped
	}

	remaining := make(map[string]decimal.Decimal)
	for _, isin := range priority {
		if amounts[isin].IsPositive() {
			remaining[isin] = weights[isin]
		}
	}
	if len(remaining) == 0 {
		// Nothing meets the minimum: keep the budget whole on the top instrument.
		amounts[priority[0]] = freed
		return removeString(dropped, priority[0])
	}
	for isin, add := range allocation.Apportion(freed, remaining, domain.AmountScale, allocation.StringLess) {
		amounts[isin] = amounts[isin].Add(add)
	}
	return dropped
}

// slackDonors lists instruments above minPlan, largest first.
func slackDonors(amounts map[string]decimal.Decimal, minPlan decimal.Decimal) []string {
	var donors []string
	for _, isin := range allocation.SortedKeys(amounts, allocation.StringLess) {
		if amounts[isin].GreaterThan(minPlan) {
			donors = append(donors, isin)
		}
	}
	sort.SliceStable(donors, func(i, j int) bool {
		return amounts[donors[i]].GreaterThan(amounts[donors[j]])
	})
	return donors
}

// snapBack returns changes smaller than minRebalance to the current amount.
// The difference is absorbed by the instruments that still move, and only
// when they run out of room by the snapped ones; absorbing never takes an
// amount below minPlan. It repeats while absorbing creates new small changes,
// at most once per instrument. Current amounts below minPlan are never
// restored.
//
// It returns the ISINs left at their current amount and the ISINs the final
// minimum guard had to drop.
func snapBack(amounts, current map[string]decimal.Decimal, priority []string, minRebalance, minPlan decimal.Decimal, exclude []string) ([]string, []string) {
	if !minRebalance.IsPositive() {
		return nil, guardMinimum(amounts, priority, minPlan)
	}
	target := domain.SumAmounts(amounts)
	skip := make(map[string]bool, len(exclude))
	for _, isin := range exclude {
		skip[isin] = true
	}
	snappedSet := make(map[string]bool)
	moving := func(isin string) bool { return !skip[isin] && !snappedSet[isin] }
	resting := func(isin string) bool { return snappedSet[isin] }

	for pass := 0; pass < len(amounts); pass++ {
		changed := false
		for _, isin := range allocation.SortedKeys(amounts, allocation.StringLess) {
			if skip[isin] || snappedSet[isin] {
				continue
			}
			if c := current[isin]; c.IsPositive() && c.LessThan(minPlan) {
				continue
			}
			delta := amounts[isin].Sub(current[isin])
			if !delta.IsZero() && delta.Abs().LessThan(minRebalance) {
				amounts[isin] = current[isin]
				snappedSet[isin] = true
				changed = true
			}
		}
		residual := target.Sub(domain.SumAmounts(amounts))
		if !changed || residual.IsZero() {
			break
		}
		if !absorb(amounts, residual, minPlan, moving).IsZero() {
			break
		}
	}

	if residual := target.Sub(domain.SumAmounts(amounts)); !residual.IsZero() {
		residual = absorb(amounts, residual, minPlan, moving)
		residual = absorb(amounts, residual, minPlan, resting)
		if !residual.IsZero() {
			forceResidual(amounts, residual, priority, skip)
		}
	}
	guarded := guardMinimum(amounts, priority, minPlan)

	var snapped []string
	for _, isin := range allocation.SortedKeys(amounts, allocation.StringLess) {
		if snappedSet[isin] && amounts[isin].Equal(current[isin]) {
			snapped = append(snapped, isin)
		}
	}
	return snapped, guarded
}

// absorb spreads residual over the positive amounts accepted by eligible.
// Growth is unbounded; shrinking stops at minPlan. It returns the part of
// residual it could not place.
func absorb(amounts map[string]decimal.Decimal, residual, minPlan decimal.Decimal, eligible func(string) bool) decimal.Decimal {
	if residual.IsZero() {
		return residual
	}
	if residual.IsPositive() {
		pool := make(map[string]decimal.Decimal)
		for isin, v := range amounts {
			if eligible(isin) && v.IsPositive() {
				pool[isin] = v
			}
		}
		if len(pool) == 0 {
			return residual
		}
		for isin, v := range allocation.Redistribute(pool, residual, domain.AmountScale, allocation.StringLess) {
			amounts[isin] = v
		}
		return decimal.Zero
	}

	headroom := make(map[string]decimal.Decimal)
	for isin, v := range amounts {
		if h := v.Sub(minPlan); eligible(isin) && h.IsPositive() {
			headroom[isin] = h
		}
	}
	take := decimal.Min(residual.Neg(), domain.SumAmounts(headroom))
	if !take.IsPositive() {
		return residual
	}
	for isin, h := range allocation.Redistribute(headroom, take.Neg(), domain.AmountScale, allocation.StringLess) {
		amounts[isin] = amounts[isin].Sub(headroom[isin]).Add(h)
	}
	return residual.Add(take)
}

// forceResidual places a residual that no amount could absorb within its
// minimum. A surplus goes to the highest-priority instrument still in play; a
// shortfall is taken proportionally from every positive amount.
func forceResidual(amounts map[string]decimal.Decimal, residual decimal.Decimal, priority []string, skip map[string]bool) {
	if residual.IsPositive() {
		receiver := priority[0]
		for _, isin := range priority {
			if !skip[isin] {
				receiver = isin
				break
			}
		}
		amounts[receiver] = amounts[receiver].Add(residual)
		return
	}
	pool := make(map[string]decimal.Decimal)
	for isin, v := range amounts {
		if v.IsPositive() {
			pool[isin] = v
		}
	}
	for isin, v := range allocation.Redistribute(pool, residual, domain.AmountScale, allocation.StringLess) {
		amounts[isin] = v
	}
}

// guardMinimum zeroes every amount left strictly between zero and minPlan and
// hands it to the highest-priority instrument at or above the minimum. When
// none is, the small amounts merge into the highest-priority small one; a
// single small amount is the whole layer and stays. It returns the zeroed
// ISINs in priority order.
func guardMinimum(amounts map[string]decimal.Decimal, priority []string, minPlan decimal.Decimal) []string {
	if !minPlan.IsPositive() {
		return nil
	}
	var small []string
	receiver := ""
	for _, isin := range priority {
		v := amounts[isin]
		switch {
		case v.IsPositive() && v.LessThan(minPlan):
			small = append(small, isin)
		case v.GreaterThanOrEqual(minPlan) && receiver == "":
			receiver = isin
		}
	}
	if len(small) == 0 {
		return nil
	}
	if receiver == "" {
		if len(small) == 1 {
			return nil
		}
		receiver, small = small[0], small[1:]
	}
	for _, isin := range small {
		amounts[receiver] = amounts[receiver].Add(amounts[isin])
		amounts[isin] = decimal.Zero
	}
	return small
}

func removeString(values []string, target string) []string {
	out := values[:0]
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

// normalizeInstruments upper-cases ISINs, clamps amounts and merges entries
// for the same ISIN: amounts are summed and the latest change date kept. The
// first entry decides name and layer.
func normalizeInstruments(instruments []Instrument) []Instrument {
	index := make(map[string]int, len(instruments))
	out := make([]Instrument, 0, len(instruments))
	for _, inst := range instruments {
		isin := domain.NormalizeISIN(inst.ISIN)
		if isin == "" {
			continue
		}
		amount := domain.ClampNonNegative(inst.Amount)
		if i, ok := index[isin]; ok {
			out[i].Amount = out[i].Amount.Add(amount)
			if inst.LastChanged != nil && (out[i].LastChanged == nil || inst.LastChanged.After(*out[i].LastChanged)) {
				out[i].LastChanged = inst.LastChanged
			}
			continue
		}
		inst.ISIN = isin
		inst.Amount = amount
		index[isin] = len(out)
		out = append(out, inst)
	}
	return out
}

func sortProposals(proposals []Proposal) {
	sort.SliceStable(proposals, func(i, j int) bool {
		if proposals[i].Layer != proposals[j].Layer {
			return proposals[i].Layer < proposals[j].Layer
		}
		return proposals[i].ISIN < proposals[j].ISIN
	})
}
