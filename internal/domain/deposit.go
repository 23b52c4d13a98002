package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositStatus tracks a fiat deposit through reconciliation.
type DepositStatus string

const (
	DepositStatusReceived       DepositStatus = "received"
	DepositStatusFundsConfirmed DepositStatus = "funds_confirmed"
	DepositStatusMatched        DepositStatus = "matched"
	DepositStatusExpired        DepositStatus = "expired"
)

// depositOrder indexes the forward-only deposit state machine. expired is a
// terminal side exit reachable only from received.
var depositOrder = map[DepositStatus]int{
	DepositStatusReceived:       0,
	DepositStatusFundsConfirmed: 1,
	DepositStatusMatched:        2,
	DepositStatusExpired:        3,
}

// CanAdvance reports whether a deposit may move from to next.
func (s DepositStatus) CanAdvance(next DepositStatus) bool {
	if next == DepositStatusExpired {
		return s == DepositStatusReceived
	}
	cur, ok := depositOrder[s]
	nxt, ok2 := depositOrder[next]
	return ok && ok2 && nxt > cur && s != DepositStatusExpired
}

// Deposit is one client fiat payment awaiting conversion.
type Deposit struct {
	ID           string
	ClientID     string
	Amount       decimal.Decimal
	ExternalTxID string // bank-rail transaction id, globally unique
	CreditID     string // exchange-side credit id once funds are confirmed
	Status       DepositStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
