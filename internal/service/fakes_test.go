package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/netzerhq/settler/internal/domain"
)

// memStore is an in-memory implementation of the store interfaces with the
// same transition, idempotency and audit semantics as the Postgres stores.
type memStore struct {
	mu        sync.Mutex
	deposits  []domain.Deposit
	credits   []domain.FiatCredit
	exchanges []domain.Exchange
	transfers []domain.Transfer
	audit     []domain.AuditEvent
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{}
}

func (m *memStore) appendAudit(kind, refID string, detail map[string]any) {
	m.nextID++
	m.audit = append(m.audit, domain.AuditEvent{
		ID:        m.nextID,
		Kind:      kind,
		RefID:     refID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
}

func (m *memStore) CreateIdempotent(_ context.Context, d domain.Deposit) (domain.Deposit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.deposits {
		if existing.ExternalTxID == d.ExternalTxID {
			return existing, false, nil
		}
	}

	d.Status = domain.DepositStatusReceived
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	m.deposits = append(m.deposits, d)
	m.appendAudit(domain.AuditDepositReceived, d.ID, nil)
	return d, true, nil
}

func (m *memStore) ClaimCredit(_ context.Context, n domain.CreditNotice, tol decimal.Decimal) (domain.MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.credits {
		if c.CreditID == n.CreditID {
			res := domain.MatchResult{Credit: c, Replayed: true}
			if c.DepositID != "" {
				res.Matched = true
				for _, d := range m.deposits {
					if d.ID == c.DepositID {
						res.Deposit = d
					}
				}
			}
			return res, nil
		}
	}

	var received []domain.Deposit
	for _, d := range m.deposits {
		if d.Status == domain.DepositStatusReceived {
			received = append(received, d)
		}
	}

	credit := domain.FiatCredit{
		ID:         uuid.NewString(),
		CreditID:   n.CreditID,
		Amount:     n.Amount,
		CreditedAt: n.CreditedAt,
	}

	idx := domain.FirstWithinTolerance(received, n.Amount, tol)
	if idx < 0 {
		credit.Status = domain.CreditStatusUnmatched
		m.credits = append(m.credits, credit)
		m.appendAudit(domain.AuditCreditUnmatched, credit.CreditID, nil)
		return domain.MatchResult{Credit: credit, Matched: false}, nil
	}

	matched := received[idx]
	for i := range m.deposits {
		if m.deposits[i].ID == matched.ID {
			m.deposits[i].Status = domain.DepositStatusFundsConfirmed
			m.deposits[i].CreditID = n.CreditID
			matched = m.deposits[i]
		}
	}

	credit.Status = domain.CreditStatusMatched
	credit.DepositID = matched.ID
	m.credits = append(m.credits, credit)
	m.appendAudit(domain.AuditFundsConfirmed, matched.ID, nil)
	return domain.MatchResult{Credit: credit, Deposit: matched, Matched: true}, nil
}

func (m *memStore) ExpireBefore(_ context.Context, cutoff time.Time) ([]domain.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []domain.Deposit
	for i := range m.deposits {
		if m.deposits[i].Status == domain.DepositStatusReceived && m.deposits[i].CreatedAt.Before(cutoff) {
			m.deposits[i].Status = domain.DepositStatusExpired
			expired = append(expired, m.deposits[i])
			m.appendAudit(domain.AuditDepositExpired, m.deposits[i].ID, nil)
		}
	}
	return expired, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (domain.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.deposits {
		if d.ID == id {
			return d, nil
		}
	}
	return domain.Deposit{}, domain.ErrNotFound
}

func (m *memStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Deposit(nil), m.deposits...), nil
}

func (m *memStore) RecordFill(_ context.Context, n domain.FillNotice) (domain.Exchange, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.exchanges {
		if e.OrderID == n.OrderID {
			return e, false, nil
		}
	}

	var deposit *domain.Deposit
	for i := range m.deposits {
		if m.deposits[i].ID == n.DepositID {
			deposit = &m.deposits[i]
		}
	}
	if deposit == nil {
		return domain.Exchange{}, false, domain.ErrNotFound
	}
	if deposit.Status != domain.DepositStatusFundsConfirmed {
		return domain.Exchange{}, false, fmt.Errorf("deposit %s is %s: %w",
			deposit.ID, deposit.Status, domain.ErrInvalidState)
	}
	for _, e := range m.exchanges {
		if e.DepositID == n.DepositID && e.Status != domain.ExchangeStatusFailed {
			return domain.Exchange{}, false, fmt.Errorf("deposit %s already has an exchange: %w",
				deposit.ID, domain.ErrConflict)
		}
	}

	e := domain.Exchange{
		ID:          uuid.NewString(),
		DepositID:   n.DepositID,
		OrderID:     n.OrderID,
		Pair:        n.Pair,
		Side:        n.Side,
		Price:       n.Price,
		BaseAmount:  n.BaseAmount,
		QuoteAmount: n.QuoteAmount,
		FilledAt:    n.FilledAt,
		Status:      domain.ExchangeStatusFilled,
		CreatedAt:   time.Now().UTC(),
	}
	m.exchanges = append(m.exchanges, e)
	deposit.Status = domain.DepositStatusMatched
	m.appendAudit(domain.AuditExchangeFilled, e.ID, nil)
	return e, true, nil
}

func (m *memStore) GetExchangeByID(_ context.Context, id string) (domain.Exchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.exchanges {
		if e.ID == id {
			return e, nil
		}
	}
	return domain.Exchange{}, domain.ErrNotFound
}

func (m *memStore) GetByDepositID(_ context.Context, depositID string) (domain.Exchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.exchanges {
		if e.DepositID == depositID && e.Status != domain.ExchangeStatusFailed {
			return e, nil
		}
	}
	return domain.Exchange{}, domain.ErrNotFound
}

func (m *memStore) Initiate(_ context.Context, t domain.Transfer) (domain.Transfer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.transfers {
		if existing.WithdrawalID == t.WithdrawalID {
			return existing, false, nil
		}
	}

	var found bool
	for _, e := range m.exchanges {
		if e.ID == t.ExchangeID {
			found = true
		}
	}
	if !found {
		return domain.Transfer{}, false, domain.ErrNotFound
	}
	for _, existing := range m.transfers {
		if existing.ExchangeID == t.ExchangeID {
			return domain.Transfer{}, false, fmt.Errorf("exchange %s already has a transfer: %w",
				t.ExchangeID, domain.ErrConflict)
		}
	}

	t.Status = domain.TransferStatusInitiated
	t.UpdatedAt = time.Now().UTC()
	m.transfers = append(m.transfers, t)
	m.appendAudit(domain.AuditTransferInit, t.ID, nil)
	return t, true, nil
}

func (m *memStore) ApplyUpdate(_ context.Context, n domain.WithdrawalNotice) (domain.Transfer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.transfers {
		if m.transfers[i].WithdrawalID != n.WithdrawalID {
			continue
		}
		t := &m.transfers[i]

		target := n.Status
		if n.TxHash != "" && target == domain.TransferStatusInitiated {
			target = domain.TransferStatusBroadcast
		}
		if !t.Status.CanAdvance(target) {
			return *t, false, nil
		}

		t.Status = target
		if n.TxHash != "" {
			t.TxHash = n.TxHash
		}
		switch target {
		case domain.TransferStatusCompleted:
			now := time.Now().UTC()
			t.CompletedAt = &now
			m.appendAudit(domain.AuditTransferComplete, t.ID, nil)
		case domain.TransferStatusFailed:
			m.appendAudit(domain.AuditTransferFailed, t.ID, nil)
		}
		return *t, true, nil
	}
	return domain.Transfer{}, false, domain.ErrNotFound
}

func (m *memStore) Complete(_ context.Context, n domain.CustodyDepositNotice) (domain.Transfer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.transfers {
		if m.transfers[i].WithdrawalID != n.WithdrawalID {
			continue
		}
		t := &m.transfers[i]

		if !t.Status.CanAdvance(domain.TransferStatusCompleted) {
			return *t, false, nil
		}

		completedAt := n.CreditedAt
		if completedAt.IsZero() {
			completedAt = time.Now().UTC()
		}
		t.Status = domain.TransferStatusCompleted
		t.CustodyDepositID = n.CustodyDepositID
		t.CompletedAt = &completedAt
		m.appendAudit(domain.AuditTransferComplete, t.ID, nil)
		return *t, true, nil
	}
	return domain.Transfer{}, false, domain.ErrNotFound
}

func (m *memStore) GetByWithdrawalID(_ context.Context, withdrawalID string) (domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.transfers {
		if t.WithdrawalID == withdrawalID {
			return t, nil
		}
	}
	return domain.Transfer{}, domain.ErrNotFound
}

func (m *memStore) ListTransfers(_ context.Context, _ domain.ListOpts) ([]domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Transfer(nil), m.transfers...), nil
}

func (m *memStore) ListCompletedBefore(_ context.Context, cutoff time.Time, _ int) ([]domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Transfer
	for _, t := range m.transfers {
		if t.Status == domain.TransferStatusCompleted && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) Append(_ context.Context, kind, refID string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAudit(kind, refID, detail)
	return nil
}

func (m *memStore) ListAudit(_ context.Context, _ domain.ListOpts) ([]domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEvent(nil), m.audit...), nil
}

func (m *memStore) auditEventsOfKind(kind string) []domain.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.AuditEvent
	for _, e := range m.audit {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) auditKinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	kinds := make([]string, 0, len(m.audit))
	for _, e := range m.audit {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// depositStoreAdapter exposes the memStore through the full DepositStore
// interface.
type depositStoreAdapter struct{ *memStore }

// exchangeStoreAdapter resolves the GetByID name collision with deposits.
type exchangeStoreAdapter struct{ *memStore }

func (a exchangeStoreAdapter) GetByID(ctx context.Context, id string) (domain.Exchange, error) {
	return a.GetExchangeByID(ctx, id)
}

func (a exchangeStoreAdapter) List(_ context.Context, _ domain.ListOpts) ([]domain.Exchange, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Exchange(nil), a.exchanges...), nil
}

type transferStoreAdapter struct{ *memStore }

func (a transferStoreAdapter) List(ctx context.Context, opts domain.ListOpts) ([]domain.Transfer, error) {
	return a.ListTransfers(ctx, opts)
}

type auditStoreAdapter struct{ *memStore }

func (a auditStoreAdapter) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEvent, error) {
	return a.ListAudit(ctx, opts)
}

func (a auditStoreAdapter) ListByRef(_ context.Context, refID string, _ domain.ListOpts) ([]domain.AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.AuditEvent
	for _, e := range a.audit {
		if e.RefID == refID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a auditStoreAdapter) ListBefore(_ context.Context, cutoff time.Time, _ int) ([]domain.AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.AuditEvent
	for _, e := range a.audit {
		if e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

var (
	_ domain.DepositStore  = depositStoreAdapter{}
	_ domain.ExchangeStore = exchangeStoreAdapter{}
	_ domain.TransferStore = transferStoreAdapter{}
	_ domain.AuditStore    = auditStoreAdapter{}
)

// fakeBus records published events.
type fakeBus struct {
	mu     sync.Mutex
	events [][]byte
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, payload)
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

// fakeNotifier records operator notifications.
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// fakeExecutor returns a deterministic fill, or fails when err is set.
type fakeExecutor struct {
	mu     sync.Mutex
	result domain.OrderResult
	err    error
	calls  int
}

func (e *fakeExecutor) PlaceMarketBuy(_ context.Context, pair string, quoteAmount decimal.Decimal) (domain.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return domain.OrderResult{}, e.err
	}
	r := e.result
	if r.Pair == "" {
		r.Pair = pair
	}
	if r.QuoteAmount.IsZero() {
		r.QuoteAmount = quoteAmount
	}
	if r.FilledAt.IsZero() {
		r.FilledAt = time.Now().UTC()
	}
	return r, nil
}

// fakeInitiator returns a fixed withdrawal id, or fails when err is set.
type fakeInitiator struct {
	mu           sync.Mutex
	withdrawalID string
	err          error
	calls        int
}

func (i *fakeInitiator) InitiateWithdrawal(_ context.Context, _ domain.WithdrawalRequest) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls++
	if i.err != nil {
		return "", i.err
	}
	return i.withdrawalID, nil
}

// fakeLock always grants the lock.
type fakeLock struct{}

func (fakeLock) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	return func() {}, nil
}
