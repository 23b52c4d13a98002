package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dep(id, amount string, created time.Time) Deposit {
	return Deposit{
		ID:        id,
		Amount:    decimal.RequireFromString(amount),
		Status:    DepositStatusReceived,
		CreatedAt: created,
	}
}

func TestFirstWithinTolerance(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tol := decimal.RequireFromString("5.00")

	t.Run("exact match", func(t *testing.T) {
		deposits := []Deposit{dep("a", "100.00", base)}
		idx := FirstWithinTolerance(deposits, decimal.RequireFromString("100.00"), tol)
		assert.Equal(t, 0, idx)
	})

	t.Run("boundary inclusive", func(t *testing.T) {
		deposits := []Deposit{dep("a", "100.00", base)}
		idx := FirstWithinTolerance(deposits, decimal.RequireFromString("95.00"), tol)
		assert.Equal(t, 0, idx)
	})

	t.Run("boundary exclusive", func(t *testing.T) {
		deposits := []Deposit{dep("a", "100.00", base)}
		idx := FirstWithinTolerance(deposits, decimal.RequireFromString("94.99"), tol)
		assert.Equal(t, -1, idx)
	})

	t.Run("fifo tie break on equal amounts", func(t *testing.T) {
		deposits := []Deposit{
			dep("older", "250.00", base),
			dep("newer", "250.00", base.Add(time.Minute)),
		}
		idx := FirstWithinTolerance(deposits, decimal.RequireFromString("250.00"), tol)
		assert.Equal(t, 0, idx)
		assert.Equal(t, "older", deposits[idx].ID)
	})

	t.Run("first in order wins over closer amount", func(t *testing.T) {
		deposits := []Deposit{
			dep("older", "103.00", base),
			dep("closer", "100.00", base.Add(time.Minute)),
		}
		idx := FirstWithinTolerance(deposits, decimal.RequireFromString("100.00"), tol)
		assert.Equal(t, "older", deposits[idx].ID)
	})

	t.Run("empty slice", func(t *testing.T) {
		idx := FirstWithinTolerance(nil, decimal.RequireFromString("10.00"), tol)
		assert.Equal(t, -1, idx)
	})
}
