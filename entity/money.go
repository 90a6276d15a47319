package entity

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// ValidCurrency reports whether code is a known ISO 4217 currency.
func ValidCurrency(code string) bool {
	return code != "" && money.GetCurrency(strings.ToUpper(code)) != nil
}

// FormatAmount renders amount in the currency's display format, e.g. "$12.50".
func FormatAmount(amount decimal.Decimal, code string) string {
	cur := money.GetCurrency(strings.ToUpper(code))
	if cur == nil {
		return amount.StringFixed(2) + " " + code
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}

func checkMoney(kind, field string, amount decimal.Decimal, code string) error {
	if amount.IsNegative() {
		return invalid(kind, "%s is negative", field)
	}
	if !amount.IsZero() && !ValidCurrency(code) {
		return invalid(kind, "unknown currency %q", code)
	}
	return nil
}
