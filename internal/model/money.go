package model

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatAmount renders an amount in the given ISO 4217 currency for
// notification text. Unknown codes fall back to the plain decimal.
func FormatAmount(code string, amount decimal.Decimal) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return amount.StringFixed(2) + " " + code
	}
	f, _ := amount.Round(2).Float64()
	p := message.NewPrinter(language.English)
	return p.Sprint(currency.Symbol(unit.Amount(f)))
}

// MaxAmount returns the larger of a and b, ignoring a nil b.
func MaxAmount(a decimal.Decimal, b *decimal.Decimal) decimal.Decimal {
	if b != nil && b.GreaterThan(a) {
		return *b
	}
	return a
}
