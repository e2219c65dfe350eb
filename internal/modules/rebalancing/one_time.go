package rebalancing

import (
	"sort"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/allocation"
	"github.com/shopspring/decimal"
)

// oneTimeLayers are the layers a one-time amount can go to, in priority order.
// Unclassified holdings never receive fresh money.
var oneTimeLayers = []int{1, 2, 3, 4}

// OneTimeAllocation splits a one-off investment over layers and, within each
// layer, over the instruments already saved into.
type OneTimeAllocation struct {
	Layers      map[int]decimal.Decimal    `json:"layers"`
	Instruments map[string]decimal.Decimal `json:"instruments,omitempty"`
	Notes       []string                   `json:"notes,omitempty"`
	Amount      decimal.Decimal            `json:"amount"`
}

// OneTimeInput holds the values AllocateOneTime works from.
type OneTimeInput struct {
	Targets                 map[int]decimal.Decimal
	Holdings                map[int]decimal.Decimal
	Plans                   []domain.RecurringPlan
	Amount                  decimal.Decimal
	MinimumRebalance        decimal.Decimal
	MinimumInstrumentAmount decimal.Decimal
}

// AllocateOneTime distributes a one-time amount over layers 1-4.
//
// Layers that sit below their target share of the current holdings are
// funded in proportion to how far below they are; with no such gap the
// normalised targets are used. A layer share under the minimum rebalance
// amount is merged into the first funded layer, and shares under the minimum
// instrument amount move one layer down, from layer 4 towards layer 1. The
// layer amounts always add up to the rounded one-time amount.
func AllocateOneTime(in OneTimeInput) OneTimeAllocation {
	amount := domain.ClampNonNegative(in.Amount).Round(domain.AmountScale)
	minRebalance := domain.ClampNonNegative(in.MinimumRebalance)
	minInstrument := domain.ClampNonNegative(in.MinimumInstrumentAmount)
	out := OneTimeAllocation{Amount: amount, Layers: map[int]decimal.Decimal{}}
	if amount.IsZero() {
		return out
	}
	if amount.LessThan(minRebalance) {
		out.Notes = []string{"One-time amount is below the minimum rebalancing amount."}
		return out
	}

	weights := oneTimeWeights(in.Targets, in.Holdings)
	if len(weights) == 0 {
		out.Notes = []string{"No layer targets to allocate the one-time amount to."}
		return out
	}

	layers := allocation.Apportion(amount, weights, domain.AmountScale, allocation.LayerLess)
	layers = mergeBelowRebalance(layers, minRebalance)
	layers = cascadeBelowInstrument(layers, minInstrument)
	out.Layers = layers
	out.Instruments = allocateOneTimeInstruments(layers, in.Plans, decimal.Max(minRebalance, minInstrument))
	return out
}

// oneTimeWeights returns the positive gaps between target weights and the
// holdings distribution, or the normalised targets when there is no gap.
func oneTimeWeights(rawTargets, holdings map[int]decimal.Decimal) map[int]decimal.Decimal {
	targets := shareOf(NormalizeTargets(rawTargets), domain.Layers)

	held := make(map[int]decimal.Decimal, len(domain.Layers))
	for _, layer := range domain.Layers {
		held[layer] = domain.ClampNonNegative(holdings[layer])
	}
	if domain.SumAmounts(held).IsPositive() {
		distribution := shareOf(held, domain.Layers)
		gaps := make(map[int]decimal.Decimal)
		for _, layer := range oneTimeLayers {
			if gap := targets[layer].Sub(distribution[layer]); gap.IsPositive() {
				gaps[layer] = gap
			}
		}
		if len(gaps) > 0 {
			return gaps
		}
	}

	weights := make(map[int]decimal.Decimal)
	for _, layer := range oneTimeLayers {
		if targets[layer].IsPositive() {
			weights[layer] = targets[layer]
		}
	}
	return weights
}

// shareOf divides each value by the sum over layers. A zero sum gives zeros.
func shareOf(values map[int]decimal.Decimal, layers []int) map[int]decimal.Decimal {
	total := decimal.Zero
	for _, layer := range layers {
		total = total.Add(values[layer])
	}
	out := make(map[int]decimal.Decimal, len(layers))
	for _, layer := range layers {
		if total.IsZero() {
			out[layer] = decimal.Zero
			continue
		}
		out[layer] = values[layer].DivRound(total, 16)
	}
	return out
}

func mergeBelowRebalance(layers map[int]decimal.Decimal, minimum decimal.Decimal) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(oneTimeLayers))
	for _, layer := range oneTimeLayers {
		out[layer] = layers[layer]
	}
	if !minimum.IsPositive() {
		return out
	}
	suppressed := decimal.Zero
	for _, layer := range oneTimeLayers {
		if v := out[layer]; v.IsPositive() && v.LessThan(minimum) {
			suppressed = suppressed.Add(v)
			out[layer] = decimal.Zero
		}
	}
	if suppressed.IsZero() {
		return out
	}
	recipient := oneTimeLayers[0]
	for _, layer := range oneTimeLayers {
		if out[layer].IsPositive() {
			recipient = layer
			break
		}
	}
	out[recipient] = out[recipient].Add(suppressed)
	return out
}

func cascadeBelowInstrument(layers map[int]decimal.Decimal, minimum decimal.Decimal) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(layers))
	for layer, v := range layers {
		out[layer] = v
	}
	if !minimum.IsPositive() {
		return out
	}
	for i := len(oneTimeLayers) - 1; i > 0; i-- {
		layer, previous := oneTimeLayers[i], oneTimeLayers[i-1]
		if v := out[layer]; v.IsPositive() && v.LessThan(minimum) {
			out[layer] = decimal.Zero
			out[previous] = out[previous].Add(v)
		}
	}
	return out
}

// allocateOneTimeInstruments splits each funded layer over the ISINs saved
// into in that layer, in proportion to their recurring amounts. Shares under
// minimum are folded into the largest instrument that keeps a share.
func allocateOneTimeInstruments(layers map[int]decimal.Decimal, plans []domain.RecurringPlan, minimum decimal.Decimal) map[string]decimal.Decimal {
	byLayer := make(map[int]map[string]decimal.Decimal)
	for _, plan := range plans {
		isin := domain.NormalizeISIN(plan.ISIN)
		if isin == "" || !domain.IsValidLayer(plan.Layer) {
			continue
		}
		if byLayer[plan.Layer] == nil {
			byLayer[plan.Layer] = make(map[string]decimal.Decimal)
		}
		byLayer[plan.Layer][isin] = byLayer[plan.Layer][isin].Add(domain.ClampNonNegative(plan.Amount))
	}

	out := make(map[string]decimal.Decimal)
	for _, layer := range oneTimeLayers {
		amount := layers[layer]
		current := byLayer[layer]
		if !amount.IsPositive() || len(current) == 0 || amount.LessThan(minimum) {
			continue
		}
		shares := allocation.Apportion(amount, current, domain.AmountScale, allocation.StringLess)
		shares = foldSmallShares(shares, current, minimum)
		for isin, v := range shares {
			if v.IsPositive() {
				out[isin] = out[isin].Add(v)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func foldSmallShares(shares, current map[string]decimal.Decimal, minimum decimal.Decimal) map[string]decimal.Decimal {
	if !minimum.IsPositive() {
		return shares
	}
	suppressed := decimal.Zero
	for isin, v := range shares {
		if v.IsPositive() && v.LessThan(minimum) {
			suppressed = suppressed.Add(v)
			shares[isin] = decimal.Zero
		}
	}
	if suppressed.IsZero() {
		return shares
	}

	ordered := make([]string, 0, len(current))
	for isin := range current {
		ordered = append(ordered, isin)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if c := current[ordered[i]].Cmp(current[ordered[j]]); c != 0 {
			return c > 0
		}
		return ordered[i] < ordered[j]
	})
	recipient := ordered[0]
	for _, isin := range ordered {
		if shares[isin].IsPositive() {
			recipient = isin
			break
		}
	}
	shares[recipient] = shares[recipient].Add(suppressed)
	return shares
}
