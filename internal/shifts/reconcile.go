package shifts

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Reconciliation is the drawer check computed at close. A positive Difference means
// cash over, a negative one cash short.
type Reconciliation struct {
	Expected   decimal.Decimal `json:"expected_cash"`
	Difference decimal.Decimal `json:"cash_difference"`
}

// Reconcile computes expected = opening + sales - refunds and
// difference = closing - expected in exact decimal arithmetic.
func Reconcile(opening, sales, refunds, closing decimal.Decimal) Reconciliation {
	expected := opening.Add(sales).Sub(refunds)
	return Reconciliation{Expected: expected, Difference: closing.Sub(expected)}
}

func validCash(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return cashError(field, "must not be negative")
	}
	if amount.Exponent() < -CashScale && !amount.Equal(amount.Round(CashScale)) {
		return cashError(field, "must have at most 2 decimal places")
	}
	return nil
}

func validAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return cashError(field, "must be positive")
	}
	return validCash(field, amount)
}

func cashError(field, message string) error {
	return shared.Validation(field, field+" "+message)
}
