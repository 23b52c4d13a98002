package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzerhq/settler/internal/domain"
)

type heldLock struct{}

func (heldLock) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestSweepExpiresStaleDeposits(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	stale, _, err := p.intake.RecordDeposit(ctx, domain.DepositNotice{
		ClientID: "c1", Amount: dec("100.00"), ExternalTxID: "tx-stale",
	})
	require.NoError(t, err)
	fresh, _, err := p.intake.RecordDeposit(ctx, domain.DepositNotice{
		ClientID: "c2", Amount: dec("100.00"), ExternalTxID: "tx-fresh",
	})
	require.NoError(t, err)

	p.store.mu.Lock()
	for i := range p.store.deposits {
		if p.store.deposits[i].ID == stale.ID {
			p.store.deposits[i].CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
		}
	}
	p.store.mu.Unlock()

	svc := NewExpiryService(
		depositStoreAdapter{p.store}, fakeLock{}, p.notifier,
		24*time.Hour, time.Minute, testLogger())
	require.NoError(t, svc.Sweep(ctx))

	got, err := p.store.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusExpired, got.Status)

	got, err = p.store.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusReceived, got.Status)

	assert.Contains(t, p.store.auditKinds(), domain.AuditDepositExpired)
	assert.Contains(t, p.notifier.notified(), domain.AuditDepositExpired)
}

func TestSweepSkipsConfirmedDeposits(t *testing.T) {
	p := newPipeline(t)
	p.executor.err = domain.ErrUpstream
	ctx := context.Background()

	deposit := confirmedDeposit(t, p, "tx-1", "cr-1")

	p.store.mu.Lock()
	for i := range p.store.deposits {
		p.store.deposits[i].CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	}
	p.store.mu.Unlock()

	svc := NewExpiryService(
		depositStoreAdapter{p.store}, fakeLock{}, p.notifier,
		24*time.Hour, time.Minute, testLogger())
	require.NoError(t, svc.Sweep(ctx))

	got, err := p.store.GetByID(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositStatusFundsConfirmed, got.Status)
}

func TestSweepHeldLockIsNoOp(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, _, err := p.intake.RecordDeposit(ctx, domain.DepositNotice{
		ClientID: "c1", Amount: dec("100.00"), ExternalTxID: "tx-1",
	})
	require.NoError(t, err)

	svc := NewExpiryService(
		depositStoreAdapter{p.store}, heldLock{}, p.notifier,
		0, time.Minute, testLogger())
	require.NoError(t, svc.Sweep(ctx))

	assert.NotContains(t, p.store.auditKinds(), domain.AuditDepositExpired)
}
