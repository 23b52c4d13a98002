package domain

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// OrderResult is the venue's response to a conversion order.
type OrderResult struct {
	OrderID     string
	Pair        string
	Side        ExchangeSide
	Price       decimal.Decimal
	BaseAmount  decimal.Decimal
	QuoteAmount decimal.Decimal
	FilledAt    time.Time
}

// OrderExecutor places conversion orders on the exchange.
type OrderExecutor interface {
	PlaceMarketBuy(ctx context.Context, pair string, quoteAmount decimal.Decimal) (OrderResult, error)
}

// WithdrawalRequest asks the venue to move an asset to the custodial wallet.
type WithdrawalRequest struct {
	Asset   string
	Chain   string
	Amount  decimal.Decimal
	Address string
}

// WithdrawalInitiator starts an onward withdrawal at the exchange.
type WithdrawalInitiator interface {
	InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (withdrawalID string, err error)
}

// AssetBalance is a venue account balance line.
type AssetBalance struct {
	Asset     string
	Available decimal.Decimal
	Reserved  decimal.Decimal
	Total     decimal.Decimal
}

// BalanceReader reads venue account balances.
type BalanceReader interface {
	Balances(ctx context.Context) ([]AssetBalance, error)
}

// SignalBus fans settlement events out to subscribers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager provides distributed mutual exclusion for background loops.
type LockManager interface {
	// Acquire returns ErrLockHeld when another holder owns the key. The
	// returned unlock function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter bounds inbound request rates per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter writes archive objects to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves aged settlement history to object storage.
type Archiver interface {
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
	ArchiveTransfers(ctx context.Context, before time.Time) (int64, error)
}

// Notifier delivers operator notifications for events needing attention.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}
