package export

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FormatAmount renders amount in the display format of the ISO currency code.
// An empty or unknown code yields a plain two-decimal string.
func FormatAmount(amount decimal.Decimal, code string) string {
	if code == "" {
		return amount.StringFixed(2)
	}
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.StringFixed(2)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}
