// Package allocation provides the exact-decimal apportionment primitives shared
// by every stage of the rebalancing engine.
//
// All functions are pure: they never mutate their inputs and produce the same
// output for the same input. Ties are broken by the caller-supplied key order,
// so map iteration order never leaks into results.
package allocation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// divisionPrecision is the number of digits kept when computing proportional
// shares. Shares are only an intermediate step; Settle produces the exact result.
const divisionPrecision int32 = 16

// Less orders keys for deterministic tie-breaking.
type Less[K comparable] func(a, b K) bool

// LayerLess orders layers by ascending id.
func LayerLess(a, b int) bool { return a < b }

// StringLess orders keys lexicographically (ISINs).
func StringLess(a, b string) bool { return a < b }

// Unit returns the smallest representable amount at the given scale (0.01 for 2).
func Unit(scale int32) decimal.Decimal {
	return decimal.New(1, -scale)
}

// SortedKeys returns the keys of values ordered by less.
func SortedKeys[K comparable](values map[K]decimal.Decimal, less Less[K]) []K {
	keys := make([]K, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	return keys
}

// Settle rounds values to scale so that they sum exactly to target (itself
// rounded to scale) using the largest-remainder method.
//
// Every value is truncated toward zero. The units still missing are handed out
// one at a time: when units must be added, entries with the largest fractional
// remainder go first; when units must be removed, entries with the smallest
// (most negative) remainder go first. Ties fall back to key order. A unit is
// never applied where it would flip the sign of an entry, and entries that
// were exactly zero only take units when no other entry can.
//
// Settle panics when it cannot reach target, which would indicate a bug in the
// caller (for example settling a non-zero target over an empty map).
func Settle[K comparable](values map[K]decimal.Decimal, target decimal.Decimal, scale int32, less Less[K]) map[K]decimal.Decimal {
	target = target.Round(scale)
	keys := SortedKeys(values, less)
	u := Unit(scale)

	out := make(map[K]decimal.Decimal, len(values))
	remainders := make(map[K]decimal.Decimal, len(values))
	base := decimal.Zero
	for _, k := range keys {
		v := values[k]
		t := v.Truncate(scale)
		out[k] = t
		remainders[k] = v.Sub(t)
		base = base.Add(t)
	}

	steps := target.Sub(base).Div(u).IntPart()
	if steps != 0 && len(keys) == 0 {
		panic(fmt.Sprintf("allocation: cannot settle %s over an empty set", target.String()))
	}

	adding := steps > 0
	if steps < 0 {
		steps = -steps
	}
	for steps > 0 {
		order := settleOrder(keys, values, out, remainders, adding, less)
		for _, k := range order {
			if steps == 0 {
				break
			}
			if adding {
				out[k] = out[k].Add(u)
			} else {
				out[k] = out[k].Sub(u)
			}
			steps--
		}
	}

	if sum := sumOf(out); !sum.Equal(target) {
		panic(fmt.Sprintf("allocation: settled sum %s does not match target %s", sum.String(), target.String()))
	}
	return out
}

// settleOrder returns the keys allowed to take the next round of unit
// adjustments, most deserving first.
func settleOrder[K comparable](keys []K, values, current, remainders map[K]decimal.Decimal, adding bool, less Less[K]) []K {
	eligible := make([]K, 0, len(keys))
	for _, k := range keys {
		v := values[k]
		if v.IsZero() {
			continue
		}
		if adding && v.IsNegative() && current[k].IsZero() {
			continue
		}
		if !adding && v.IsPositive() && current[k].IsZero() {
			continue
		}
		eligible = append(eligible, k)
	}
	if len(eligible) > 0 {
		sort.SliceStable(eligible, func(i, j int) bool {
			ri, rj := remainders[eligible[i]], remainders[eligible[j]]
			if c := ri.Cmp(rj); c != 0 {
				if adding {
					return c > 0
				}
				return c < 0
			}
			return less(eligible[i], eligible[j])
		})
		return eligible
	}

	// Nothing with a value can move without flipping sign: fall back to the
	// zero entries, then to everything, in key order.
	for _, k := range keys {
		if values[k].IsZero() {
			eligible = append(eligible, k)
		}
	}
	if len(eligible) > 0 {
		return eligible
	}
	return keys
}

// Redistribute spreads residual over deltas and settles the result to scale.
//
// The residual first shrinks entries of the opposite sign (proportionally to
// their magnitude and never past zero); anything left grows entries of the
// same sign proportionally. When no non-zero entry can take it, the remainder
// lands on the first key. The output sums exactly to
// round(sum(deltas)+residual, scale).
func Redistribute[K comparable](deltas map[K]decimal.Decimal, residual decimal.Decimal, scale int32, less Less[K]) map[K]decimal.Decimal {
	if len(deltas) == 0 {
		return map[K]decimal.Decimal{}
	}
	target := sumOf(deltas).Add(residual)
	spread := spreadResidual(deltas, residual, less)
	return Settle(spread, target, scale, less)
}

func spreadResidual[K comparable](deltas map[K]decimal.Decimal, residual decimal.Decimal, less Less[K]) map[K]decimal.Decimal {
	keys := SortedKeys(deltas, less)
	out := make(map[K]decimal.Decimal, len(deltas))
	for k, v := range deltas {
		out[k] = v
	}
	remaining := residual
	if remaining.IsZero() {
		return out
	}

	direction := decimal.NewFromInt(int64(remaining.Sign()))

	// Phase 1: shrink entries pointing the other way.
	var shrinkers []K
	capacity := decimal.Zero
	for _, k := range keys {
		if v := deltas[k]; !v.IsZero() && v.Sign() != remaining.Sign() {
			shrinkers = append(shrinkers, k)
			capacity = capacity.Add(v.Abs())
		}
	}
	if capacity.IsPositive() {
		take := decimal.Min(remaining.Abs(), capacity)
		for _, k := range shrinkers {
			magnitude := deltas[k].Abs()
			share := magnitude
			if take.LessThan(capacity) {
				share = decimal.Min(magnitude.Mul(take).DivRound(capacity, divisionPrecision), magnitude)
			}
			out[k] = deltas[k].Add(share.Mul(direction))
		}
		remaining = remaining.Sub(take.Mul(direction))
	}
	if remaining.IsZero() {
		return out
	}

	// Phase 2: grow entries pointing the same way.
	var growers []K
	total := decimal.Zero
	for _, k := range keys {
		if v := deltas[k]; !v.IsZero() && v.Sign() == remaining.Sign() {
			growers = append(growers, k)
			total = total.Add(v.Abs())
		}
	}
	if total.IsPositive() {
		for _, k := range growers {
			share := remaining.Mul(deltas[k].Abs()).DivRound(total, divisionPrecision)
			out[k] = out[k].Add(share)
		}
		return out
	}

	first := keys[0]
	out[first] = out[first].Add(remaining)
	return out
}

// Apportion splits total across keys proportionally to weights and settles the
// shares to scale with largest remainder. Negative weights count as zero; when
// no weight is positive the split is equal. The result sums exactly to
// round(total, scale).
func Apportion[K comparable](total decimal.Decimal, weights map[K]decimal.Decimal, scale int32, less Less[K]) map[K]decimal.Decimal {
	if len(weights) == 0 {
		return map[K]decimal.Decimal{}
	}
	weightSum := decimal.Zero
	for _, w := range weights {
		if w.IsPositive() {
			weightSum = weightSum.Add(w)
		}
	}

	raw := make(map[K]decimal.Decimal, len(weights))
	count := decimal.NewFromInt(int64(len(weights)))
	for k, w := range weights {
		switch {
		case weightSum.IsZero():
			raw[k] = total.DivRound(count, divisionPrecision)
		case w.IsPositive():
			raw[k] = total.Mul(w).DivRound(weightSum, divisionPrecision)
		default:
			raw[k] = decimal.Zero
		}
	}
	return Settle(raw, total, scale, less)
}

func sumOf[K comparable](values map[K]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
