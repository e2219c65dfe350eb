// Package domain provides core domain models and types.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency represents a currency code
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
)

// BaseCurrency is the currency every amount handled by the engine is expressed in.
const BaseCurrency = CurrencyEUR

// AmountScale is the number of decimal places amounts are settled to (cents).
const AmountScale int32 = 2

// ProductType represents the type of financial product/instrument
type ProductType string

const (
	// ProductTypeEquity represents individual stocks/shares
	ProductTypeEquity ProductType = "EQUITY"
	// ProductTypeETF represents Exchange Traded Funds
	ProductTypeETF ProductType = "ETF"
	// ProductTypeFund represents mutual funds (some UCITS products)
	ProductTypeFund ProductType = "FUND"
	// ProductTypeREIT represents real estate investment trusts
	ProductTypeREIT ProductType = "REIT"
	// ProductTypeUnknown represents unknown type
	ProductTypeUnknown ProductType = "UNKNOWN"
)

// ParseProductType maps free-form instrument type labels onto a ProductType.
func ParseProductType(raw string) ProductType {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case value == "":
		return ProductTypeUnknown
	case strings.Contains(value, "reit"):
		return ProductTypeREIT
	case strings.Contains(value, "etf"), strings.Contains(value, "ucits"), strings.Contains(value, "etc"):
		return ProductTypeETF
	case strings.Contains(value, "fund"):
		return ProductTypeFund
	case strings.Contains(value, "stock"), strings.Contains(value, "equity"), strings.Contains(value, "share"):
		return ProductTypeEquity
	}
	return ProductTypeUnknown
}

// Layers lists the risk layers in ascending order. Every per-layer loop in the
// engine iterates this slice so that output order never depends on map order.
var Layers = []int{1, 2, 3, 4, 5}

// LayerNames holds the default display name of each layer.
var LayerNames = map[int]string{
	1: "Global Core",
	2: "Core-Plus",
	3: "Themes",
	4: "Individual Stocks",
	5: "Unclassified",
}

// IsValidLayer reports whether layer is one of the known risk layers.
func IsValidLayer(layer int) bool {
	return layer >= Layers[0] && layer <= Layers[len(Layers)-1]
}

// PlanKey identifies a recurring plan: one instrument in one account.
type PlanKey struct {
	ISIN      string `json:"isin"`
	AccountID string `json:"account_id"`
}

// Less orders plan keys by ISIN, then account.
func (k PlanKey) Less(other PlanKey) bool {
	if k.ISIN != other.ISIN {
		return k.ISIN < other.ISIN
	}
	return k.AccountID < other.AccountID
}

// String renders the key as ISIN or ISIN@account.
func (k PlanKey) String() string {
	if k.AccountID == "" {
		return k.ISIN
	}
	return k.ISIN + "@" + k.AccountID
}

// RecurringPlan is a periodic contribution to one instrument.
// The engine never mutates plans, it only proposes new amounts.
type RecurringPlan struct {
	LastChanged *time.Time      `json:"last_changed,omitempty"`
	ISIN        string          `json:"isin"`
	AccountID   string          `json:"account_id"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	Layer       int             `json:"layer"`
}

// Key returns the plan identity.
func (p RecurringPlan) Key() PlanKey {
	return PlanKey{ISIN: p.ISIN, AccountID: p.AccountID}
}

// NormalizeISIN trims and upper-cases an ISIN. Empty input stays empty.
func NormalizeISIN(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// SumAmounts adds up decimal values.
func SumAmounts[K comparable](values map[K]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// ClampNonNegative returns zero for negative values.
func ClampNonNegative(value decimal.Decimal) decimal.Decimal {
	if value.IsNegative() {
		return decimal.Zero
	}
	return value
}
