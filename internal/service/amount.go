package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/netzerhq/settler/internal/domain"
)

// parseAmount parses a positive decimal amount, rejecting malformed or
// non-positive values at the boundary.
func parseAmount(s string) (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("malformed amount %q: %w", s, domain.ErrValidation)
	}
	if !amt.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("amount must be positive: %w", domain.ErrValidation)
	}
	return amt, nil
}
