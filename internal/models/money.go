package models

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// CashScale is the number of decimal places every stored amount keeps.
const CashScale = 4

// FitsCashScale reports whether amount has no digits beyond CashScale.
func FitsCashScale(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(CashScale))
}

// USD renders a dollar amount rounded to cents, e.g. $1,234.50.
func USD(amount decimal.Decimal) string {
	return money.New(amount.Shift(2).Round(0).IntPart(), money.USD).Display()
}
