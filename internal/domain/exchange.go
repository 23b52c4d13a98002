package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeSide indicates order direction on the venue.
type ExchangeSide string

const (
	ExchangeSideBuy  ExchangeSide = "buy"
	ExchangeSideSell ExchangeSide = "sell"
)

// ExchangeStatus is terminal on creation: fills are reported post-hoc.
type ExchangeStatus string

const (
	ExchangeStatusFilled ExchangeStatus = "filled"
	ExchangeStatusFailed ExchangeStatus = "failed"
)

// Exchange records the conversion order executed against a deposit's
// confirmed funds. At most one non-failed Exchange per deposit.
type Exchange struct {
	ID          string
	DepositID   string
	OrderID     string // venue order id, globally unique
	Pair        string
	Side        ExchangeSide
	Price       decimal.Decimal
	BaseAmount  decimal.Decimal // asset received
	QuoteAmount decimal.Decimal // fiat spent
	FilledAt    time.Time
	Status      ExchangeStatus
	CreatedAt   time.Time
}
