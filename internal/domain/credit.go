package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreditStatus marks whether an exchange-reported fiat credit found a deposit.
type CreditStatus string

const (
	CreditStatusMatched   CreditStatus = "matched"
	CreditStatusUnmatched CreditStatus = "unmatched"
)

// FiatCredit is an exchange-reported fiat inflow. Unmatched credits are kept
// for manual reconciliation, never dropped.
type FiatCredit struct {
	ID         string
	CreditID   string // provider-side credit id, globally unique
	Amount     decimal.Decimal
	CreditedAt time.Time
	DepositID  string // set when matched
	Status     CreditStatus
	CreatedAt  time.Time
}
