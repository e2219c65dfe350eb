package rebalancing

import (
	"fmt"
	"sort"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/allocation"
	"github.com/shopspring/decimal"
)

// maxExhaustiveDiscards bounds the bitmask search over discard subsets.
const maxExhaustiveDiscards = 16

// PlanAllocation is the outcome of spreading a layer delta over its plans.
type PlanAllocation struct {
	Proposed                map[domain.PlanKey]decimal.Decimal `json:"-"`
	Deltas                  map[domain.PlanKey]decimal.Decimal `json:"-"`
	Discarded               []domain.PlanKey                   `json:"discarded"`
	Notes                   []string                           `json:"notes,omitempty"`
	RequiredDelta           decimal.Decimal                    `json:"required_delta"`
	MinimumRebalanceRelaxed bool                               `json:"minimum_rebalance_relaxed"`
}

// rankedPlan is a plan with its rank-derived limits.
type rankedPlan struct {
	key      domain.PlanKey
	amount   decimal.Decimal
	capacity decimal.Decimal
	eligible decimal.Decimal
}

type planAllocator struct {
	minRebalance decimal.Decimal
	minPlan      decimal.Decimal
	ranked       []rankedPlan
	proposed     map[domain.PlanKey]decimal.Decimal
	discarded    map[domain.PlanKey]bool
	relaxed      bool
	notes        []string
}

// AllocatePlans spreads the change needed to reach layerTargetAmount over the
// layer's recurring plans.
//
// Plans are ranked by current amount (largest first, then by key). When the
// layer shrinks, plans are reduced down to minimumPlanSize and, if that is not
// enough, the smallest set of plans is discarded entirely. When it grows, the
// increase follows current amounts. No plan ends strictly between zero and
// minimumPlanSize unless the layer holds nothing else to move it to, and the
// deltas always add up to max(0, target) - sum(current).
func AllocatePlans(plans []domain.RecurringPlan, layerTargetAmount, minimumRebalance, minimumPlanSize decimal.Decimal) PlanAllocation {
	a := &planAllocator{
		minRebalance: domain.ClampNonNegative(minimumRebalance),
		minPlan:      domain.ClampNonNegative(minimumPlanSize),
		proposed:     make(map[domain.PlanKey]decimal.Decimal),
		discarded:    make(map[domain.PlanKey]bool),
	}

	current := make(map[domain.PlanKey]decimal.Decimal)
	for _, plan := range plans {
		key := plan.Key()
		current[key] = current[key].Add(domain.ClampNonNegative(plan.Amount).Round(domain.AmountScale))
	}
	for key, amount := range current {
		a.ranked = append(a.ranked, a.newRanked(key, amount))
		a.proposed[key] = amount
	}
	sort.Slice(a.ranked, func(i, j int) bool {
		if c := a.ranked[i].amount.Cmp(a.ranked[j].amount); c != 0 {
			return c > 0
		}
		return a.ranked[i].key.Less(a.ranked[j].key)
	})

	target := domain.ClampNonNegative(layerTargetAmount).Round(domain.AmountScale)
	required := target.Sub(domain.SumAmounts(current))
	result := PlanAllocation{RequiredDelta: required}

	if len(a.ranked) == 0 {
		result.Proposed = map[domain.PlanKey]decimal.Decimal{}
		result.Deltas = map[domain.PlanKey]decimal.Decimal{}
		result.Discarded = []domain.PlanKey{}
		if !required.IsZero() {
			result.Notes = []string{"No saving plans in layer to carry the change."}
		}
		return result
	}

	switch required.Sign() {
	case -1:
		a.shrink(required.Neg())
	case 1:
		a.grow(required, a.ranked)
	}
	a.guardMinimumPlanSize()

	result.Proposed = a.proposed
	result.Deltas = make(map[domain.PlanKey]decimal.Decimal, len(current))
	result.Discarded = []domain.PlanKey{}
	for _, p := range a.ranked {
		delta := a.proposed[p.key].Sub(p.amount)
		result.Deltas[p.key] = delta
		if p.amount.IsPositive() && a.proposed[p.key].IsZero() {
			result.Discarded = append(result.Discarded, p.key)
		}
		if a.minRebalance.IsPositive() && !delta.IsZero() && delta.Abs().LessThan(a.minRebalance) {
			a.relaxed = true
		}
	}
	sort.Slice(result.Discarded, func(i, j int) bool { return result.Discarded[i].Less(result.Discarded[j]) })
	if len(result.Discarded) > 0 {
		a.notes = append(a.notes, fmt.Sprintf("Discarded plans %v to avoid sub-minimum saving plan size.", result.Discarded))
	}
	result.MinimumRebalanceRelaxed = a.relaxed
	result.Notes = a.notes
	return result
}

func (a *planAllocator) newRanked(key domain.PlanKey, amount decimal.Decimal) rankedPlan {
	capacity := domain.ClampNonNegative(amount.Sub(a.minPlan))
	eligible := capacity
	if a.minRebalance.IsPositive() && capacity.LessThan(a.minRebalance) {
		eligible = decimal.Zero
	}
	return rankedPlan{key: key, amount: amount, capacity: capacity, eligible: eligible}
}

// shrink removes reduction from the layer.
func (a *planAllocator) shrink(reduction decimal.Decimal) {
	eligibleTotal := decimal.Zero
	for _, p := range a.ranked {
		eligibleTotal = eligibleTotal.Add(p.eligible)
	}

	freed := decimal.Zero
	if reduction.GreaterThan(eligibleTotal) {
		for _, p := range a.chooseDiscards(reduction, reduction.Sub(eligibleTotal)) {
			a.discarded[p.key] = true
			a.proposed[p.key] = decimal.Zero
			freed = freed.Add(p.amount)
		}
	}

	var survivors []rankedPlan
	for _, p := range a.ranked {
		if !a.discarded[p.key] {
			survivors = append(survivors, p)
		}
	}

	remainder := reduction.Sub(freed)
	switch remainder.Sign() {
	case 1:
		a.takeFromSurvivors(survivors, remainder)
	case -1:
		if len(survivors) == 0 {
			a.grow(remainder.Neg(), a.ranked)
			return
		}
		a.notes = append(a.notes, fmt.Sprintf("Regrew %s freed beyond the required reduction.",
			allocation.FormatAmount(remainder.Neg(), string(domain.BaseCurrency))))
		a.grow(remainder.Neg(), survivors)
	}
}

type discardChoice struct {
	plans     []rankedPlan
	amount    decimal.Decimal
	overshoot decimal.Decimal
}

func (c discardChoice) better(other *discardChoice) bool {
	if other == nil {
		return true
	}
	if len(c.plans) != len(other.plans) {
		return len(c.plans) < len(other.plans)
	}
	if cmp := c.amount.Cmp(other.amount); cmp != 0 {
		return cmp < 0
	}
	if cmp := c.overshoot.Cmp(other.overshoot); cmp != 0 {
		return cmp < 0
	}
	return keysLess(sortedKeys(c.plans), sortedKeys(other.plans))
}

// chooseDiscards picks the plans to zero so that the freed amounts cover
// excess beyond what reductions to minimumPlanSize can provide.
func (a *planAllocator) chooseDiscards(reduction, excess decimal.Decimal) []rankedPlan {
	var candidates []rankedPlan
	for _, p := range a.ranked {
		if p.amount.IsPositive() {
			candidates = append(candidates, p)
		}
	}

	if len(candidates) > maxExhaustiveDiscards {
		ordered := append([]rankedPlan(nil), candidates...)
		sort.SliceStable(ordered, func(i, j int) bool {
			if c := ordered[i].amount.Cmp(ordered[j].amount); c != 0 {
				return c < 0
			}
			return ordered[i].key.Less(ordered[j].key)
		})
		var picked []rankedPlan
		gain := decimal.Zero
		for _, p := range ordered {
			if gain.GreaterThanOrEqual(excess) {
				break
			}
			picked = append(picked, p)
			gain = gain.Add(p.amount.Sub(p.eligible))
		}
		return picked
	}

	var best *discardChoice
	for mask := 1; mask < 1<<len(candidates); mask++ {
		choice := discardChoice{amount: decimal.Zero}
		gain := decimal.Zero
		for i, p := range candidates {
			if mask&(1<<i) == 0 {
				continue
			}
			choice.plans = append(choice.plans, p)
			choice.amount = choice.amount.Add(p.amount)
			gain = gain.Add(p.amount.Sub(p.eligible))
		}
		if gain.LessThan(excess) {
			continue
		}
		choice.overshoot = domain.ClampNonNegative(choice.amount.Sub(reduction))
		if choice.better(best) {
			c := choice
			best = &c
		}
	}
	if best == nil {
		return candidates
	}
	return best.plans
}

// takeFromSurvivors reduces survivors by remainder, proportionally to their
// amounts. Each split is checked against the plan's capacity and the minimum
// rebalance amount; the lowest-ranked offender is dropped and the split
// retried. If no strict split exists, the minimum rebalance amount is ignored,
// and as a last resort capacities are filled greedily in rank order.
func (a *planAllocator) takeFromSurvivors(survivors []rankedPlan, remainder decimal.Decimal) {
	strict := filterPlans(survivors, func(p rankedPlan) bool { return p.eligible.IsPositive() })
	if cuts, ok := a.cappedSplit(strict, remainder, a.minRebalance); ok {
		a.applyCuts(cuts)
		return
	}

	soft := filterPlans(survivors, func(p rankedPlan) bool { return p.capacity.IsPositive() })
	if cuts, ok := a.cappedSplit(soft, remainder, decimal.Zero); ok {
		a.relaxed = a.minRebalance.IsPositive()
		a.notes = append(a.notes, "Relaxed the minimum rebalance amount to reach the layer target.")
		a.applyCuts(cuts)
		return
	}

	a.relaxed = a.minRebalance.IsPositive()
	left := remainder
	cuts := make(map[domain.PlanKey]decimal.Decimal)
	for _, p := range survivors {
		if !left.IsPositive() {
			break
		}
		take := decimal.Min(p.capacity, left)
		if take.IsPositive() {
			cuts[p.key] = take
			left = left.Sub(take)
		}
	}
	// Capacities are exhausted: the rest comes out of the top-ranked plans.
	for _, p := range survivors {
		if !left.IsPositive() {
			break
		}
		room := p.amount.Sub(cuts[p.key])
		take := decimal.Min(room, left)
		cuts[p.key] = cuts[p.key].Add(take)
		left = left.Sub(take)
	}
	a.notes = append(a.notes, "Fell back to filling plan capacities in rank order.")
	a.applyCuts(cuts)
}

func (a *planAllocator) cappedSplit(plans []rankedPlan, total, minimum decimal.Decimal) (map[domain.PlanKey]decimal.Decimal, bool) {
	active := append([]rankedPlan(nil), plans...)
	for len(active) > 0 {
		cuts := allocation.Apportion(total, amountWeights(active), domain.AmountScale, domain.PlanKey.Less)
		offender := -1
		for i := len(active) - 1; i >= 0; i-- {
			cut := cuts[active[i].key]
			if cut.GreaterThan(active[i].capacity) || (cut.IsPositive() && cut.LessThan(minimum)) {
				offender = i
				break
			}
		}
		if offender < 0 {
			return cuts, true
		}
		active = append(active[:offender], active[offender+1:]...)
	}
	return nil, false
}

func (a *planAllocator) applyCuts(cuts map[domain.PlanKey]decimal.Decimal) {
	for key, cut := range cuts {
		a.proposed[key] = a.proposed[key].Sub(cut)
	}
}

// grow adds increase to recipients proportionally to their current amounts.
// Allocations under the minimum rebalance amount drop the lowest-ranked
// offender; when no recipient is left the top-ranked plan takes everything.
func (a *planAllocator) grow(increase decimal.Decimal, pool []rankedPlan) {
	if len(pool) == 0 {
		return
	}
	recipients := filterPlans(pool, func(p rankedPlan) bool {
		return !a.discarded[p.key] && p.amount.IsPositive()
	})
	if len(recipients) == 0 {
		recipients = filterPlans(pool, func(p rankedPlan) bool { return !a.discarded[p.key] })
	}

	for len(recipients) > 0 {
		adds := allocation.Apportion(increase, amountWeights(recipients), domain.AmountScale, domain.PlanKey.Less)
		offender := -1
		for i := len(recipients) - 1; i >= 0; i-- {
			add := adds[recipients[i].key]
			if add.IsPositive() && add.LessThan(a.minRebalance) {
				offender = i
				break
			}
		}
		if offender < 0 {
			for key, add := range adds {
				a.proposed[key] = a.proposed[key].Add(add)
			}
			return
		}
		recipients = append(recipients[:offender], recipients[offender+1:]...)
	}

	top := pool[0].key
	a.proposed[top] = a.proposed[top].Add(increase)
}

// guardMinimumPlanSize discards every plan left strictly between zero and the
// minimum plan size and hands its amount to the top-ranked plan that meets the
// minimum. Without such a plan the small amounts are merged into the
// top-ranked small plan instead.
func (a *planAllocator) guardMinimumPlanSize() {
	if !a.minPlan.IsPositive() {
		return
	}
	var small []rankedPlan
	var receiver *rankedPlan
	for i, p := range a.ranked {
		v := a.proposed[p.key]
		switch {
		case v.IsPositive() && v.LessThan(a.minPlan):
			small = append(small, p)
		case v.GreaterThanOrEqual(a.minPlan) && receiver == nil:
			receiver = &a.ranked[i]
		}
	}
	if len(small) == 0 {
		return
	}
	if receiver == nil {
		receiver = &small[0]
		small = small[1:]
	}
	for _, p := range small {
		a.proposed[receiver.key] = a.proposed[receiver.key].Add(a.proposed[p.key])
		a.proposed[p.key] = decimal.Zero
		a.discarded[p.key] = true
	}
}

func filterPlans(plans []rankedPlan, keep func(rankedPlan) bool) []rankedPlan {
	var out []rankedPlan
	for _, p := range plans {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func amountWeights(plans []rankedPlan) map[domain.PlanKey]decimal.Decimal {
	weights := make(map[domain.PlanKey]decimal.Decimal, len(plans))
	for _, p := range plans {
		weights[p.key] = p.amount
	}
	return weights
}

func sortedKeys(plans []rankedPlan) []domain.PlanKey {
	keys := make([]domain.PlanKey, len(plans))
	for i, p := range plans {
		keys[i] = p.key
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

func keysLess(a, b []domain.PlanKey) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i].Less(b[i])
		}
	}
	return len(a) < len(b)
}
