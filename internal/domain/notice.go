package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inbound notifications from the three external systems. Each carries the
// externally-supplied idempotency key that deduplicates redelivery.

// DepositNotice is a bank-rail payment notification.
type DepositNotice struct {
	ClientID     string
	Amount       decimal.Decimal
	ExternalTxID string
}

// CreditNotice is an exchange-reported fiat inflow.
type CreditNotice struct {
	CreditID   string
	Amount     decimal.Decimal
	CreditedAt time.Time
}

// FillNotice reports a completed conversion order. The deposit id is
// required; fills are never inferred from pending deposits.
type FillNotice struct {
	DepositID   string
	OrderID     string
	Pair        string
	Side        ExchangeSide
	Price       decimal.Decimal
	BaseAmount  decimal.Decimal
	QuoteAmount decimal.Decimal
	FilledAt    time.Time
}

// WithdrawalNotice is a venue withdrawal status update.
type WithdrawalNotice struct {
	WithdrawalID string
	TxHash       string
	Status       TransferStatus
}

// CustodyDepositNotice confirms arrival at the custodial wallet.
type CustodyDepositNotice struct {
	CustodyDepositID string
	WithdrawalID     string
	Asset            string
	Amount           decimal.Decimal
	CreditedAt       time.Time
}
