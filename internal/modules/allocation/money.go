package allocation

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FormatAmount renders amount in the given ISO currency using its symbol and
// minor-unit precision, e.g. "€4.00". Unknown currencies fall back to the
// plain decimal string.
func FormatAmount(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), cur.Code).Display()
}

// FormatSigned is FormatAmount with an explicit "+" for positive amounts.
func FormatSigned(amount decimal.Decimal, currency string) string {
	if amount.IsPositive() {
		return "+" + FormatAmount(amount, currency)
	}
	return FormatAmount(amount, currency)
}
