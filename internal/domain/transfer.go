package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferStatus tracks the onward custodial withdrawal.
type TransferStatus string

const (
	TransferStatusInitiated TransferStatus = "initiated"
	TransferStatusBroadcast TransferStatus = "broadcast"
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusFailed    TransferStatus = "failed"
)

var transferOrder = map[TransferStatus]int{
	TransferStatusInitiated: 0,
	TransferStatusBroadcast: 1,
	TransferStatusCompleted: 2,
}

// Terminal reports whether no further transitions are allowed.
func (s TransferStatus) Terminal() bool {
	return s == TransferStatusCompleted || s == TransferStatusFailed
}

// CanAdvance reports whether a transfer may move forward to next. failed is
// reachable from any non-terminal state; everything else is strictly
// monotonic in the declared order.
func (s TransferStatus) CanAdvance(next TransferStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == TransferStatusFailed {
		return true
	}
	cur, ok := transferOrder[s]
	nxt, ok2 := transferOrder[next]
	return ok && ok2 && nxt > cur
}

// Transfer records a custodial-wallet withdrawal of the converted asset.
// At most one Transfer per Exchange.
type Transfer struct {
	ID               string
	ExchangeID       string
	Asset            string
	Chain            string
	Amount           decimal.Decimal
	WithdrawalID     string // venue withdrawal id, globally unique
	TxHash           string // set once broadcast on-chain
	CustodyDepositID string // custodial-wallet deposit id, set on completion
	Status           TransferStatus
	InitiatedAt      time.Time
	CompletedAt      *time.Time
	UpdatedAt        time.Time
}
