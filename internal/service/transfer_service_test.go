package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzerhq/settler/internal/domain"
)

// filledExchange records a fill against a confirmed deposit without going
// through the async order chain.
func filledExchange(t *testing.T, p *pipeline) domain.Exchange {
	t.Helper()

	p.executor.err = domain.ErrUpstream
	deposit := confirmedDeposit(t, p, "tx-1", "cr-1")

	exchange, _, err := p.execution.RecordFill(context.Background(), domain.FillNotice{
		DepositID:   deposit.ID,
		OrderID:     "ord-1",
		Pair:        "USDTZAR",
		Price:       dec("19.00"),
		BaseAmount:  dec("26.21"),
		QuoteAmount: dec("498.00"),
	})
	require.NoError(t, err)
	return exchange
}

func TestInitiateReplayByWithdrawalID(t *testing.T) {
	p := newPipeline(t)
	exchange := filledExchange(t, p)
	ctx := context.Background()

	first, created, err := p.transfer.Initiate(ctx, exchange.ID, "USDT", "TRC20", "26.21", "wd-manual")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := p.transfer.Initiate(ctx, exchange.ID, "USDT", "TRC20", "26.21", "wd-manual")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestInitiateRejectsSecondWithdrawalPerExchange(t *testing.T) {
	p := newPipeline(t)
	exchange := filledExchange(t, p)
	ctx := context.Background()

	_, _, err := p.transfer.Initiate(ctx, exchange.ID, "USDT", "TRC20", "26.21", "wd-a")
	require.NoError(t, err)

	_, _, err = p.transfer.Initiate(ctx, exchange.ID, "USDT", "TRC20", "26.21", "wd-b")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestInitiateUnknownExchange(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, _, err := p.transfer.Initiate(ctx, "no-such-exchange", "USDT", "TRC20", "26.21", "wd-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInitiateValidation(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, _, err := p.transfer.Initiate(ctx, "", "USDT", "TRC20", "26.21", "wd-1")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = p.transfer.Initiate(ctx, "ex-1", "USDT", "TRC20", "26.21", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = p.transfer.Initiate(ctx, "ex-1", "USDT", "TRC20", "not-a-number", "wd-1")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestWithdrawalUpdateForwardOnly(t *testing.T) {
	p := newPipeline(t)
	exchange := filledExchange(t, p)
	ctx := context.Background()

	_, _, err := p.transfer.Initiate(ctx, exchange.ID, "USDT", "TRC20", "26.21", "wd-1")
	require.NoError(t, err)

	// A tx hash alone promotes to broadcast.
	transfer, applied, err := p.transfer.HandleWithdrawalUpdate(ctx, domain.WithdrawalNotice{
		WithdrawalID: "wd-1", TxHash: "0xabc",
	})
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, domain.TransferStatusBroadcast, transfer.Status)
	assert.Equal(t, "0xabc", transfer.TxHash)

	// Replaying the broadcast update is a no-op, not an error.
	transfer, applied, err = p.transfer.HandleWithdrawalUpdate(ctx, domain.WithdrawalNotice{
		WithdrawalID: "wd-1", Status: domain.TransferStatusBroadcast, TxHash: "0xabc",
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.TransferStatusBroadcast, transfer.Status)

	// Backward transitions never apply.
	transfer, applied, err = p.transfer.HandleWithdrawalUpdate(ctx, domain.WithdrawalNotice{
		WithdrawalID: "wd-1", Status: domain.TransferStatusInitiated,
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.TransferStatusBroadcast, transfer.Status)
}

func TestWithdrawalUpdateFailureNotifies(t *testing.T) {
	p := newPipeline(t)
	exchange := filledExchange(t, p)
	ctx := context.Background()

	_, _, err := p.transfer.Initiate(ctx, exchange.ID, "USDT", "TRC20", "26.21", "wd-1")
	require.NoError(t, err)

	transfer, applied, err := p.transfer.HandleWithdrawalUpdate(ctx, domain.WithdrawalNotice{
		WithdrawalID: "wd-1", Status: domain.TransferStatusFailed,
	})
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, domain.TransferStatusFailed, transfer.Status)
	assert.Contains(t, p.notifier.notified(), domain.AuditTransferFailed)

	// A terminal transfer ignores further updates.
	_, applied, err = p.transfer.HandleWithdrawalUpdate(ctx, domain.WithdrawalNotice{
		WithdrawalID: "wd-1", Status: domain.TransferStatusCompleted,
	})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestWithdrawalUpdateCompletedDefersToCustody(t *testing.T) {
	p := newPipeline(t)
	exchange := filledExchange(t, p)
	ctx := context.Background()

	_, _, err := p.transfer.Initiate(ctx, exchange.ID, "USDT", "TRC20", "26.21", "wd-1")
	require.NoError(t, err)

	// The venue reports completed, but only the custody confirmation
	// carries the receiving deposit id, so the update lands as broadcast.
	transfer, applied, err := p.transfer.HandleWithdrawalUpdate(ctx, domain.WithdrawalNotice{
		WithdrawalID: "wd-1", Status: domain.TransferStatusCompleted, TxHash: "0xabc",
	})
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, domain.TransferStatusBroadcast, transfer.Status)

	// The custody confirmation still applies and records the deposit id.
	transfer, applied, err = p.transfer.HandleCustodyDeposit(ctx, domain.CustodyDepositNotice{
		WithdrawalID: "wd-1", CustodyDepositID: "cd-1",
	})
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, domain.TransferStatusCompleted, transfer.Status)
	assert.Equal(t, "cd-1", transfer.CustodyDepositID)
}

func TestTransferRejectionsAudited(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, _, err := p.transfer.Initiate(ctx, "no-such-exchange", "USDT", "TRC20", "26.21", "wd-1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	rejected := p.store.auditEventsOfKind(domain.AuditTransferRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "no-such-exchange", rejected[0].RefID)

	// Structurally invalid input is audited without an entity id.
	_, _, err = p.transfer.HandleWithdrawalUpdate(ctx, domain.WithdrawalNotice{TxHash: "0xabc"})
	require.ErrorIs(t, err, domain.ErrValidation)

	rejected = p.store.auditEventsOfKind(domain.AuditTransferRejected)
	require.Len(t, rejected, 2)
	assert.Empty(t, rejected[1].RefID)
}

func TestCustodyDepositCompletesAndReplays(t *testing.T) {
	p := newPipeline(t)
	exchange := filledExchange(t, p)
	ctx := context.Background()

	_, _, err := p.transfer.Initiate(ctx, exchange.ID, "USDT", "TRC20", "26.21", "wd-1")
	require.NoError(t, err)

	creditedAt := time.Now().UTC().Add(-time.Minute)
	transfer, applied, err := p.transfer.HandleCustodyDeposit(ctx, domain.CustodyDepositNotice{
		WithdrawalID: "wd-1", CustodyDepositID: "cd-1", CreditedAt: creditedAt,
	})
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, domain.TransferStatusCompleted, transfer.Status)
	assert.Equal(t, "cd-1", transfer.CustodyDepositID)
	require.NotNil(t, transfer.CompletedAt)
	assert.True(t, transfer.CompletedAt.Equal(creditedAt))

	_, applied, err = p.transfer.HandleCustodyDeposit(ctx, domain.CustodyDepositNotice{
		WithdrawalID: "wd-1", CustodyDepositID: "cd-1", CreditedAt: creditedAt,
	})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestCustodyDepositValidation(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, _, err := p.transfer.HandleCustodyDeposit(ctx, domain.CustodyDepositNotice{CustodyDepositID: "cd-1"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = p.transfer.HandleCustodyDeposit(ctx, domain.CustodyDepositNotice{WithdrawalID: "wd-1"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = p.transfer.HandleCustodyDeposit(ctx, domain.CustodyDepositNotice{
		WithdrawalID: "wd-unknown", CustodyDepositID: "cd-1",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
