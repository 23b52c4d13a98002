package valr

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/netzerhq/settler/internal/domain"
)

// apiOrderRequest is the payload for POST /v1/orders/market.
type apiOrderRequest struct {
	Pair            string `json:"pair"`
	Side            string `json:"side"`
	QuoteAmount     string `json:"quoteAmount,omitempty"`
	BaseAmount      string `json:"baseAmount,omitempty"`
	CustomerOrderID string `json:"customerOrderId,omitempty"`
}

// apiOrderResponse acknowledges order placement.
type apiOrderResponse struct {
	ID string `json:"id"`
}

// apiOrderSummary is the order status reported by the API.
type apiOrderSummary struct {
	OrderID          string    `json:"orderId"`
	OrderStatusType  string    `json:"orderStatusType"`
	CurrencyPair     string    `json:"currencyPair"`
	AveragePrice     string    `json:"averagePrice"`
	OriginalQuantity string    `json:"originalQuantity"`
	Total            string    `json:"total"`
	OrderUpdatedAt   time.Time `json:"orderUpdatedAt"`
}

// toOrderResult converts a filled order summary to the domain result.
func (s apiOrderSummary) toOrderResult() (domain.OrderResult, error) {
	price, err := decimal.NewFromString(s.AveragePrice)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("parse average price %q: %w", s.AveragePrice, err)
	}
	base, err := decimal.NewFromString(s.OriginalQuantity)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("parse quantity %q: %w", s.OriginalQuantity, err)
	}
	quote, err := decimal.NewFromString(s.Total)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("parse total %q: %w", s.Total, err)
	}

	filledAt := s.OrderUpdatedAt
	if filledAt.IsZero() {
		filledAt = time.Now().UTC()
	}

	return domain.OrderResult{
		OrderID:     s.OrderID,
		Pair:        s.CurrencyPair,
		Side:        domain.ExchangeSideBuy,
		Price:       price,
		BaseAmount:  base,
		QuoteAmount: quote,
		FilledAt:    filledAt,
	}, nil
}

// apiBalance is one line of GET /v1/account/balances.
type apiBalance struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Reserved  string `json:"reserved"`
	Total     string `json:"total"`
}

func (b apiBalance) toAssetBalance() (domain.AssetBalance, error) {
	available, err := decimal.NewFromString(b.Available)
	if err != nil {
		return domain.AssetBalance{}, fmt.Errorf("parse available %q: %w", b.Available, err)
	}
	reserved, err := decimal.NewFromString(b.Reserved)
	if err != nil {
		return domain.AssetBalance{}, fmt.Errorf("parse reserved %q: %w", b.Reserved, err)
	}
	total, err := decimal.NewFromString(b.Total)
	if err != nil {
		return domain.AssetBalance{}, fmt.Errorf("parse total %q: %w", b.Total, err)
	}
	return domain.AssetBalance{
		Asset:     b.Currency,
		Available: available,
		Reserved:  reserved,
		Total:     total,
	}, nil
}

// apiWithdrawRequest is the payload for POST /v1/wallet/crypto/{asset}/withdraw.
type apiWithdrawRequest struct {
	Amount  string `json:"amount"`
	Address string `json:"address"`
}

// apiWithdrawResponse acknowledges a withdrawal request.
type apiWithdrawResponse struct {
	ID string `json:"id"`
}
