// Package rebalancing turns layer targets into per-layer and per-plan changes.
package rebalancing

import (
	"fmt"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/allocation"
	"github.com/shopspring/decimal"
)

// DefaultVariancePct is the tolerance band used when the caller supplies none.
var DefaultVariancePct = decimal.NewFromInt(3)

var (
	hundred         = decimal.NewFromInt(100)
	percentageLimit = decimal.RequireFromString("1.5")
)

// LayerDeltaInput holds everything needed to compute per-layer deltas.
type LayerDeltaInput struct {
	Current map[int]decimal.Decimal
	Targets map[int]decimal.Decimal
	// TargetAmounts, when set, replaces weight*Total as the per-layer goal.
	// The tolerance check still compares against the weights.
	TargetAmounts         map[int]decimal.Decimal
	NetChange             *decimal.Decimal
	AcceptableVariancePct *decimal.Decimal
	Total                 decimal.Decimal
	MinimumRebalance      decimal.Decimal
}

// LayerProposal is the per-layer view of a delta calculation.
type LayerProposal struct {
	Name          string          `json:"name"`
	Notes         []string        `json:"notes,omitempty"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	Delta         decimal.Decimal `json:"delta"`
	Layer         int             `json:"layer"`
}

// Diagnostics describes how the raw deltas were adjusted.
type Diagnostics struct {
	RedistributionNotes   []string        `json:"redistribution_notes"`
	SuppressedAmountTotal decimal.Decimal `json:"suppressed_amount_total"`
	SuppressedDeltasCount int             `json:"suppressed_deltas_count"`
	WithinTolerance       bool            `json:"within_tolerance"`
}

// LayerDeltaResult is the output of CalculateLayerDeltas.
type LayerDeltaResult struct {
	Deltas      map[int]decimal.Decimal `json:"deltas"`
	Layers      []LayerProposal         `json:"layers"`
	Diagnostics Diagnostics             `json:"diagnostics"`
}

// NormalizeTargets clamps negative weights to zero and converts percentage
// inputs (weights summing to more than 1.5) into fractions. Missing layers get
// a zero weight.
func NormalizeTargets(raw map[int]decimal.Decimal) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(domain.Layers))
	sum := decimal.Zero
	for _, layer := range domain.Layers {
		w := domain.ClampNonNegative(raw[layer])
		out[layer] = w
		sum = sum.Add(w)
	}
	if sum.GreaterThan(percentageLimit) {
		for layer, w := range out {
			out[layer] = w.Div(hundred)
		}
	}
	return out
}

// TargetAmounts returns weight*total per layer, settled to cents so the
// amounts add up to round(total*sum(weights)).
func TargetAmounts(weights map[int]decimal.Decimal, total decimal.Decimal) map[int]decimal.Decimal {
	raw := make(map[int]decimal.Decimal, len(domain.Layers))
	for _, layer := range domain.Layers {
		raw[layer] = weights[layer].Mul(total)
	}
	return allocation.Settle(raw, domain.SumAmounts(raw), domain.AmountScale, allocation.LayerLess)
}

// WithinTolerance reports whether every layer is within variancePct percent of
// total from its target.
func WithinTolerance(current, targets map[int]decimal.Decimal, total, variancePct decimal.Decimal) bool {
	band := total.Mul(variancePct).Div(hundred)
	for _, layer := range domain.Layers {
		if current[layer].Sub(targets[layer]).Abs().GreaterThan(band) {
			return false
		}
	}
	return true
}

// CalculateLayerDeltas compares current layer totals with their targets and
// returns the deltas to apply. Deltas below the minimum rebalance amount are
// suppressed and the resulting residual is spread over the remaining layers,
// so the deltas always add up to the requested net change.
func CalculateLayerDeltas(in LayerDeltaInput) (*LayerDeltaResult, error) {
	if in.Total.IsNegative() {
		return nil, fmt.Errorf("calculate layer deltas: %w", domain.ErrNegativeTotal)
	}
	weights := NormalizeTargets(in.Targets)
	minimum := domain.ClampNonNegative(in.MinimumRebalance)
	variance := DefaultVariancePct
	if in.AcceptableVariancePct != nil {
		variance = domain.ClampNonNegative(*in.AcceptableVariancePct)
	}

	current := make(map[int]decimal.Decimal, len(domain.Layers))
	weighted := make(map[int]decimal.Decimal, len(domain.Layers))
	targets := make(map[int]decimal.Decimal, len(domain.Layers))
	raw := make(map[int]decimal.Decimal, len(domain.Layers))
	for _, layer := range domain.Layers {
		current[layer] = domain.ClampNonNegative(in.Current[layer])
		weighted[layer] = weights[layer].Mul(in.Total)
		targets[layer] = weighted[layer]
		if in.TargetAmounts != nil {
			targets[layer] = domain.ClampNonNegative(in.TargetAmounts[layer])
		}
		raw[layer] = targets[layer].Sub(current[layer])
	}

	net := in.Total.Sub(domain.SumAmounts(current))
	if in.TargetAmounts != nil {
		net = domain.SumAmounts(targets).Sub(domain.SumAmounts(current))
	}
	if in.NetChange != nil {
		net = *in.NetChange
	}
	net = net.Round(domain.AmountScale)

	layerNotes := make(map[int][]string)
	diag := Diagnostics{
		WithinTolerance:       WithinTolerance(current, weighted, in.Total, variance),
		SuppressedAmountTotal: decimal.Zero,
		RedistributionNotes:   []string{},
	}

	deltas := make(map[int]decimal.Decimal, len(domain.Layers))
	if in.Total.IsZero() {
		for _, layer := range domain.Layers {
			deltas[layer] = decimal.Zero
		}
		return buildLayerResult(current, targets, deltas, layerNotes, diag), nil
	}

	for layer, v := range raw {
		deltas[layer] = v
	}
	suppressed := suppressBelow(deltas, minimum)
	if len(suppressed) > 0 {
		diag.SuppressedDeltasCount = len(suppressed)
		for _, layer := range suppressed {
			diag.SuppressedAmountTotal = diag.SuppressedAmountTotal.Add(raw[layer].Abs())
			layerNotes[layer] = append(layerNotes[layer], "Suppressed delta below minimum rebalance amount.")
		}
		diag.SuppressedAmountTotal = diag.SuppressedAmountTotal.Round(domain.AmountScale)
		diag.RedistributionNotes = append(diag.RedistributionNotes,
			fmt.Sprintf("Suppressed layer deltas below minimum: %v", suppressed))
	}

	unit := allocation.Unit(domain.AmountScale)
	for pass := 1; ; pass++ {
		residual := net.Sub(domain.SumAmounts(deltas))
		if residual.Abs().LessThan(unit) {
			break
		}
		before := deltas
		deltas = allocation.Redistribute(deltas, residual, domain.AmountScale, allocation.LayerLess)
		touched := changedLayers(before, deltas)
		for _, layer := range touched {
			layerNotes[layer] = append(layerNotes[layer], "Absorbed redistributed residual.")
		}
		diag.RedistributionNotes = append(diag.RedistributionNotes,
			fmt.Sprintf("Redistributed residual of %s across layers %v",
				allocation.FormatAmount(residual.Round(domain.AmountScale), string(domain.BaseCurrency)), touched))

		if pass >= len(domain.Layers) {
			break
		}
		again := suppressBelow(deltas, minimum)
		if len(again) == 0 {
			break
		}
		for _, layer := range again {
			layerNotes[layer] = append(layerNotes[layer], "Suppressed after redistribution pushed it below minimum.")
		}
		diag.RedistributionNotes = append(diag.RedistributionNotes,
			fmt.Sprintf("Suppressed layer deltas below minimum after redistribution: %v", again))
	}

	// Sub-cent drift from the raw targets is settled without a note.
	deltas = allocation.Settle(deltas, net, domain.AmountScale, allocation.LayerLess)

	return buildLayerResult(current, targets, deltas, layerNotes, diag), nil
}

// suppressBelow zeroes every non-zero delta whose magnitude is under minimum
// and returns the affected layers in ascending order.
func suppressBelow(deltas map[int]decimal.Decimal, minimum decimal.Decimal) []int {
	if !minimum.IsPositive() {
		return nil
	}
	var suppressed []int
	for _, layer := range domain.Layers {
		v := deltas[layer]
		if !v.IsZero() && v.Abs().LessThan(minimum) {
			deltas[layer] = decimal.Zero
			suppressed = append(suppressed, layer)
		}
	}
	return suppressed
}

func changedLayers(before, after map[int]decimal.Decimal) []int {
	var layers []int
	for _, layer := range domain.Layers {
		if !before[layer].Equal(after[layer]) {
			layers = append(layers, layer)
		}
	}
	return layers
}

func buildLayerResult(current, targets, deltas map[int]decimal.Decimal, notes map[int][]string, diag Diagnostics) *LayerDeltaResult {
	result := &LayerDeltaResult{
		Deltas:      deltas,
		Layers:      make([]LayerProposal, 0, len(domain.Layers)),
		Diagnostics: diag,
	}
	for _, layer := range domain.Layers {
		result.Layers = append(result.Layers, LayerProposal{
			Layer:         layer,
			Name:          domain.LayerNames[layer],
			CurrentAmount: current[layer],
			TargetAmount:  targets[layer].Round(domain.AmountScale),
			Delta:         deltas[layer],
			Notes:         notes[layer],
		})
	}
	return result
}
