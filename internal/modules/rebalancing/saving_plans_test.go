package rebalancing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plan(isin, amount string) domain.RecurringPlan {
	return domain.RecurringPlan{ISIN: isin, AccountID: "main", Amount: d(amount), Layer: 1}
}

func key(isin string) domain.PlanKey {
	return domain.PlanKey{ISIN: isin, AccountID: "main"}
}

func assertPlanAmounts(t *testing.T, expected map[string]string, actual map[domain.PlanKey]decimal.Decimal) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for isin, want := range expected {
		got, ok := actual[key(isin)]
		require.True(t, ok, "missing plan %s", isin)
		assert.True(t, got.Equal(d(want)), "plan %s: expected %s, got %s", isin, want, got.String())
	}
}

func TestAllocatePlans_ShrinkDropsSmallCut(t *testing.T) {
	plans := []domain.RecurringPlan{plan("IE00A", "50"), plan("IE00B", "30")}

	result := AllocatePlans(plans, d("60"), d("10"), d("15"))

	assertPlanAmounts(t, map[string]string{"IE00A": "-20", "IE00B": "0"}, result.Deltas)
	assertPlanAmounts(t, map[string]string{"IE00A": "30", "IE00B": "30"}, result.Proposed)
	assert.Empty(t, result.Discarded)
	assert.False(t, result.MinimumRebalanceRelaxed)
	assert.True(t, result.RequiredDelta.Equal(d("-20")))
}

func TestAllocatePlans_DiscardsSmallestSufficientPlan(t *testing.T) {
	plans := []domain.RecurringPlan{plan("IE00A", "30"), plan("IE00B", "20")}

	result := AllocatePlans(plans, d("20"), d("10"), d("15"))

	assertPlanAmounts(t, map[string]string{"IE00A": "-10", "IE00B": "-20"}, result.Deltas)
	assert.Equal(t, []domain.PlanKey{key("IE00B")}, result.Discarded)
	assert.Contains(t, result.Notes, "Discarded plans [IE00B@main] to avoid sub-minimum saving plan size.")
}

func TestAllocatePlans_RegrowsOvershootFromDiscard(t *testing.T) {
	plans := []domain.RecurringPlan{plan("IE00A", "20"), plan("IE00B", "20")}

	result := AllocatePlans(plans, d("30"), d("10"), d("15"))

	assertPlanAmounts(t, map[string]string{"IE00A": "-20", "IE00B": "10"}, result.Deltas)
	assert.Equal(t, []domain.PlanKey{key("IE00A")}, result.Discarded)
	assert.True(t, domain.SumAmounts(result.Deltas).Equal(d("-10")))
}

func TestAllocatePlans_Grow(t *testing.T) {
	t.Run("follows current amounts", func(t *testing.T) {
		plans := []domain.RecurringPlan{plan("IE00A", "40"), plan("IE00B", "20")}
		result := AllocatePlans(plans, d("90"), d("10"), d("15"))
		assertPlanAmounts(t, map[string]string{"IE00A": "20", "IE00B": "10"}, result.Deltas)
	})

	t.Run("small increases move to the top plan and sub-minimum plans are folded in", func(t *testing.T) {
		plans := []domain.RecurringPlan{plan("IE00A", "90"), plan("IE00B", "10")}
		result := AllocatePlans(plans, d("110"), d("10"), d("15"))
		assertPlanAmounts(t, map[string]string{"IE00A": "30", "IE00B": "-10"}, result.Deltas)
		assert.Equal(t, []domain.PlanKey{key("IE00B")}, result.Discarded)
	})

	t.Run("plans without amounts split equally", func(t *testing.T) {
		plans := []domain.RecurringPlan{plan("IE00A", "0"), plan("IE00B", "0")}
		result := AllocatePlans(plans, d("50"), d("10"), d("15"))
		assertPlanAmounts(t, map[string]string{"IE00A": "25", "IE00B": "25"}, result.Deltas)
	})
}

func TestAllocatePlans_EdgeCases(t *testing.T) {
	t.Run("no plans", func(t *testing.T) {
		result := AllocatePlans(nil, d("50"), d("10"), d("15"))
		assert.Empty(t, result.Deltas)
		assert.Len(t, result.Notes, 1)
	})

	t.Run("already on target", func(t *testing.T) {
		plans := []domain.RecurringPlan{plan("IE00A", "40"), plan("IE00B", "20")}
		result := AllocatePlans(plans, d("60"), d("10"), d("15"))
		assertPlanAmounts(t, map[string]string{"IE00A": "0", "IE00B": "0"}, result.Deltas)
		assert.Empty(t, result.Discarded)
	})

	t.Run("target below every minimum keeps the sum", func(t *testing.T) {
		plans := []domain.RecurringPlan{plan("IE00A", "100"), plan("IE00B", "24")}
		result := AllocatePlans(plans, d("10"), d("10"), d("15"))
		assert.True(t, domain.SumAmounts(result.Deltas).Equal(d("-114")))
		assertPlanAmounts(t, map[string]string{"IE00A": "10", "IE00B": "0"}, result.Proposed)
	})

	t.Run("large layers fall back to discarding smallest plans first", func(t *testing.T) {
		var plans []domain.RecurringPlan
		for i := 0; i < 17; i++ {
			plans = append(plans, plan(fmt.Sprintf("IE%02d", i), "16"))
		}
		result := AllocatePlans(plans, d("100"), d("10"), d("15"))
		assert.True(t, domain.SumAmounts(result.Deltas).Equal(d("-172")))
		assert.Len(t, result.Discarded, 11)
	})
}

func TestAllocatePlans_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	minRebalance := d("10")
	minPlan := d("15")
	for i := 0; i < 300; i++ {
		var plans []domain.RecurringPlan
		n := rng.Intn(6) + 1
		for j := 0; j < n; j++ {
			plans = append(plans, plan(fmt.Sprintf("IE%02d", j), decimal.New(int64(rng.Intn(20000)), -2).String()))
		}
		target := decimal.New(int64(rng.Intn(60000)), -2)

		result := AllocatePlans(plans, target, minRebalance, minPlan)

		required := target.Sub(domain.SumAmounts(currentAmounts(plans)))
		assert.True(t, domain.SumAmounts(result.Deltas).Equal(required), "case %d: deltas %v, required %s", i, result.Deltas, required)

		meetsMinimum := false
		for _, amount := range result.Proposed {
			assert.False(t, amount.IsNegative(), "case %d: negative amount", i)
			if amount.GreaterThanOrEqual(minPlan) {
				meetsMinimum = true
			}
		}
		if meetsMinimum {
			for k, amount := range result.Proposed {
				assert.False(t, amount.IsPositive() && amount.LessThan(minPlan), "case %d: plan %s left at %s", i, k, amount)
			}
		}

		discardedTotal := decimal.Zero
		survivorDeltas := decimal.Zero
		discarded := make(map[domain.PlanKey]bool)
		for _, k := range result.Discarded {
			discarded[k] = true
		}
		for _, p := range plans {
			if discarded[p.Key()] {
				discardedTotal = discardedTotal.Add(p.Amount)
			} else {
				survivorDeltas = survivorDeltas.Add(result.Deltas[p.Key()])
			}
		}
		assert.True(t, discardedTotal.Equal(required.Neg().Add(survivorDeltas)), "case %d: discard conservation", i)

		again := AllocatePlans(plans, target, minRebalance, minPlan)
		assert.Equal(t, result.Discarded, again.Discarded)
		for k, v := range result.Deltas {
			assert.True(t, v.Equal(again.Deltas[k]))
		}
	}
}

func currentAmounts(plans []domain.RecurringPlan) map[domain.PlanKey]decimal.Decimal {
	out := make(map[domain.PlanKey]decimal.Decimal)
	for _, p := range plans {
		out[p.Key()] = out[p.Key()].Add(p.Amount)
	}
	return out
}
