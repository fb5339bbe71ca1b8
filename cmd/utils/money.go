package utils

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// ValidCurrency reports whether code is a known ISO 4217 currency.
func ValidCurrency(code string) bool {
	return money.GetCurrency(code) != nil
}

// FormatMoney renders an amount the way the user's currency writes it,
// e.g. "$1,234.50" or "1.234,50 €".
func FormatMoney(amount decimal.Decimal, code string) string {
	currency := money.GetCurrency(code)
	if currency == nil {
		return amount.StringFixed(2) + " " + code
	}
	minor := amount.Shift(int32(currency.Fraction)).Round(0).IntPart()
	return money.New(minor, currency.Code).Display()
}
