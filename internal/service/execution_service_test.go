package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzerhq/settler/internal/domain"
)

// confirmedDeposit drives a deposit through intake and matching so fills can
// be recorded against it.
func confirmedDeposit(t *testing.T, p *pipeline, txid, creditID string) domain.Deposit {
	t.Helper()
	ctx := context.Background()

	_, _, err := p.intake.RecordDeposit(ctx, domain.DepositNotice{
		ClientID: "c1", Amount: dec("500.00"), ExternalTxID: txid,
	})
	require.NoError(t, err)

	result, err := p.reconcile.HandleCredit(ctx, domain.CreditNotice{
		CreditID: creditID, Amount: dec("500.00"), CreditedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, result.Matched)
	return result.Deposit
}

func TestRecordFillLinksDeposit(t *testing.T) {
	p := newPipeline(t)
	// The matched credit already triggers an order through the fake executor,
	// so record the fill manually against a pipeline whose executor fails.
	p.executor.err = domain.ErrUpstream
	deposit := confirmedDeposit(t, p, "tx-1", "cr-1")

	ctx := context.Background()
	exchange, created, err := p.execution.RecordFill(ctx, domain.FillNotice{
		DepositID:   deposit.ID,
		OrderID:     "ord-manual",
		Pair:        "USDTZAR",
		Price:       dec("19.00"),
		BaseAmount:  dec("26.21"),
		QuoteAmount: dec("498.00"),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, deposit.ID, exchange.DepositID)
	assert.Equal(t, domain.ExchangeStatusFilled, exchange.Status)

	got, err := p.store.GetByID(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusMatched, got.Status)
}

func TestRecordFillReplayByOrderID(t *testing.T) {
	p := newPipeline(t)
	p.executor.err = domain.ErrUpstream
	deposit := confirmedDeposit(t, p, "tx-1", "cr-1")

	ctx := context.Background()
	notice := domain.FillNotice{
		DepositID:   deposit.ID,
		OrderID:     "ord-1",
		Pair:        "USDTZAR",
		Price:       dec("19.00"),
		BaseAmount:  dec("26.21"),
		QuoteAmount: dec("498.00"),
	}

	first, created, err := p.execution.RecordFill(ctx, notice)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := p.execution.RecordFill(ctx, notice)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestRecordFillRejectsUnconfirmedDeposit(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	deposit, _, err := p.intake.RecordDeposit(ctx, domain.DepositNotice{
		ClientID: "c1", Amount: dec("500.00"), ExternalTxID: "tx-1",
	})
	require.NoError(t, err)

	_, _, err = p.execution.RecordFill(ctx, domain.FillNotice{
		DepositID:   deposit.ID,
		OrderID:     "ord-1",
		Pair:        "USDTZAR",
		Price:       dec("19.00"),
		BaseAmount:  dec("26.21"),
		QuoteAmount: dec("498.00"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// The rejection itself is on the audit trail, referencing the deposit
	// the fill named; the history is not just the deposit.received row.
	rejected := p.store.auditEventsOfKind(domain.AuditExchangeRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, deposit.ID, rejected[0].RefID)
	assert.Contains(t, p.store.auditKinds(), domain.AuditDepositReceived)
}

func TestRecordFillRejectsSecondExchange(t *testing.T) {
	p := newPipeline(t)
	p.executor.err = domain.ErrUpstream
	deposit := confirmedDeposit(t, p, "tx-1", "cr-1")

	ctx := context.Background()
	base := domain.FillNotice{
		DepositID:   deposit.ID,
		Pair:        "USDTZAR",
		Price:       dec("19.00"),
		BaseAmount:  dec("26.21"),
		QuoteAmount: dec("498.00"),
	}

	first := base
	first.OrderID = "ord-1"
	_, _, err := p.execution.RecordFill(ctx, first)
	require.NoError(t, err)

	second := base
	second.OrderID = "ord-2"
	_, _, err = p.execution.RecordFill(ctx, second)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRecordFillValidation(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		notice domain.FillNotice
	}{
		{"missing deposit id", domain.FillNotice{
			OrderID: "ord-1", Price: dec("1"), BaseAmount: dec("1"), QuoteAmount: dec("1"),
		}},
		{"missing order id", domain.FillNotice{
			DepositID: "d-1", Price: dec("1"), BaseAmount: dec("1"), QuoteAmount: dec("1"),
		}},
		{"zero price", domain.FillNotice{
			DepositID: "d-1", OrderID: "ord-1", BaseAmount: dec("1"), QuoteAmount: dec("1"),
		}},
		{"negative base amount", domain.FillNotice{
			DepositID: "d-1", OrderID: "ord-1", Price: dec("1"), BaseAmount: dec("-1"), QuoteAmount: dec("1"),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := p.execution.RecordFill(ctx, tc.notice)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}
