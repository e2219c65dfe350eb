package allocation

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmounts[K comparable](t *testing.T, expected map[K]string, actual map[K]decimal.Decimal) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for k, want := range expected {
		got, ok := actual[k]
		require.True(t, ok, "missing key %v", k)
		assert.True(t, got.Equal(d(want)), "key %v: expected %s, got %s", k, want, got.String())
	}
}

func TestApportion(t *testing.T) {
	tests := []struct {
		name     string
		total    string
		weights  map[int]decimal.Decimal
		expected map[int]string
	}{
		{
			name:     "equal thirds give the extra cent to the first layer",
			total:    "100",
			weights:  map[int]decimal.Decimal{1: d("1"), 2: d("1"), 3: d("1")},
			expected: map[int]string{1: "33.34", 2: "33.33", 3: "33.33"},
		},
		{
			name:     "zero weights split equally",
			total:    "10",
			weights:  map[int]decimal.Decimal{1: d("0"), 2: d("0")},
			expected: map[int]string{1: "5", 2: "5"},
		},
		{
			name:     "zero weight entry receives nothing",
			total:    "10",
			weights:  map[int]decimal.Decimal{1: d("0.3"), 2: d("0")},
			expected: map[int]string{1: "10", 2: "0"},
		},
		{
			name:     "negative weight is ignored",
			total:    "20",
			weights:  map[int]decimal.Decimal{1: d("-1"), 2: d("1"), 3: d("3")},
			expected: map[int]string{1: "0", 2: "5", 3: "15"},
		},
		{
			name:     "largest remainder wins the spare cent",
			total:    "1",
			weights:  map[int]decimal.Decimal{1: d("0.334"), 2: d("0.333"), 3: d("0.333")},
			expected: map[int]string{1: "0.34", 2: "0.33", 3: "0.33"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Apportion(d(tt.total), tt.weights, 2, LayerLess)
			assertAmounts(t, tt.expected, result)
		})
	}
}

func TestApportionEmpty(t *testing.T) {
	result := Apportion(d("10"), map[string]decimal.Decimal{}, 2, StringLess)
	assert.Empty(t, result)
}

func TestRedistribute(t *testing.T) {
	tests := []struct {
		name     string
		deltas   map[int]decimal.Decimal
		residual string
		expected map[int]string
	}{
		{
			name:     "negative residual shrinks positive deltas first",
			deltas:   map[int]decimal.Decimal{1: d("50"), 2: d("-30"), 3: d("0")},
			residual: "-10",
			expected: map[int]string{1: "40", 2: "-30", 3: "0"},
		},
		{
			name:     "positive residual grows positive deltas proportionally",
			deltas:   map[int]decimal.Decimal{1: d("10"), 2: d("30")},
			residual: "4",
			expected: map[int]string{1: "11", 2: "33"},
		},
		{
			name:     "residual beyond shrink capacity grows the rest",
			deltas:   map[int]decimal.Decimal{1: d("-5"), 2: d("20")},
			residual: "10",
			expected: map[int]string{1: "0", 2: "25"},
		},
		{
			name:     "all zero deltas put the residual on the first key",
			deltas:   map[int]decimal.Decimal{2: d("0"), 1: d("0")},
			residual: "3",
			expected: map[int]string{1: "3", 2: "0"},
		},
		{
			name:     "zero residual only settles",
			deltas:   map[int]decimal.Decimal{1: d("1.005"), 2: d("2.005")},
			residual: "0",
			expected: map[int]string{1: "1.01", 2: "2.00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Redistribute(tt.deltas, d(tt.residual), 2, LayerLess)
			assertAmounts(t, tt.expected, result)
		})
	}
}

func TestRedistributeDoesNotMutateInput(t *testing.T) {
	deltas := map[string]decimal.Decimal{"A": d("10"), "B": d("-4")}
	_ = Redistribute(deltas, d("2"), 2, StringLess)
	assert.True(t, deltas["A"].Equal(d("10")))
	assert.True(t, deltas["B"].Equal(d("-4")))
}

func TestRedistributeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		deltas := make(map[int]decimal.Decimal)
		for layer := 1; layer <= 5; layer++ {
			deltas[layer] = decimal.New(rng.Int63n(20001)-10000, -3).Mul(d("10"))
		}
		residual := decimal.New(rng.Int63n(4001)-2000, -2)

		result := Redistribute(deltas, residual, 2, LayerLess)

		expected := decimal.Zero
		for _, v := range deltas {
			expected = expected.Add(v)
		}
		expected = expected.Add(residual).Round(2)

		sum := decimal.Zero
		for _, v := range result {
			assert.True(t, v.Equal(v.Round(2)), "value %s is not settled to cents", v.String())
			sum = sum.Add(v)
		}
		require.True(t, sum.Equal(expected), "iteration %d: sum %s != %s", i, sum.String(), expected.String())

		hasSameSign := false
		for _, v := range deltas {
			if !v.IsZero() && v.Sign() == residual.Sign() {
				hasSameSign = true
			}
		}
		if !hasSameSign {
			continue
		}
		for layer, v := range deltas {
			if v.IsPositive() {
				assert.False(t, result[layer].IsNegative(), "iteration %d: layer %d flipped sign", i, layer)
			}
			if v.IsNegative() {
				assert.False(t, result[layer].IsPositive(), "iteration %d: layer %d flipped sign", i, layer)
			}
			if v.IsZero() {
				assert.True(t, result[layer].IsZero(), "iteration %d: zero layer %d received units", i, layer)
			}
		}
	}
}

func TestApportionProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		weights := make(map[string]decimal.Decimal)
		for _, isin := range []string{"DE000A", "IE000B", "LU000C", "US000D"} {
			weights[isin] = decimal.New(rng.Int63n(1000), -3)
		}
		total := decimal.New(rng.Int63n(1000000), -2)

		result := Apportion(total, weights, 2, StringLess)

		sum := decimal.Zero
		for _, v := range result {
			assert.False(t, v.IsNegative())
			sum = sum.Add(v)
		}
		require.True(t, sum.Equal(total.Round(2)), "iteration %d", i)

		again := Apportion(total, weights, 2, StringLess)
		for k, v := range result {
			assert.True(t, v.Equal(again[k]), "apportion must be deterministic")
		}
	}
}

func TestSettleRemovesFromSmallestRemainder(t *testing.T) {
	values := map[string]decimal.Decimal{"A": d("5.555"), "B": d("4.441")}
	result := Settle(values, d("9.98"), 2, StringLess)
	assertAmounts(t, map[string]string{"A": "5.55", "B": "4.43"}, result)
}

func TestSettleNegativeValues(t *testing.T) {
	values := map[string]decimal.Decimal{"A": d("-3.337"), "B": d("-6.663")}
	result := Settle(values, d("-10"), 2, StringLess)
	assertAmounts(t, map[string]string{"A": "-3.34", "B": "-6.66"}, result)
}

func TestSettleEmptyNonZeroTargetPanics(t *testing.T) {
	assert.Panics(t, func() {
		Settle(map[int]decimal.Decimal{}, d("1"), 2, LayerLess)
	})
	assert.NotPanics(t, func() {
		Settle(map[int]decimal.Decimal{}, d("0"), 2, LayerLess)
	})
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "€4.00", FormatAmount(d("4"), "EUR"))
	assert.Equal(t, "€1,234.50", FormatAmount(d("1234.5"), "EUR"))
	assert.Equal(t, "-€3.00", FormatAmount(d("-3"), "EUR"))
	assert.Equal(t, "+€0.01", FormatSigned(d("0.01"), "EUR"))
	assert.Equal(t, "12.30", FormatAmount(d("12.3"), "ZZZ"))
}
