package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MatchResult reports the outcome of claiming a fiat credit.
type MatchResult struct {
	Credit   FiatCredit
	Deposit  Deposit // zero value when unmatched
	Matched  bool
	Replayed bool // credit id was already processed
}

// DepositStore persists client fiat deposits. Every mutation runs inside its
// own transaction and writes its audit row atomically with the transition.
type DepositStore interface {
	// CreateIdempotent inserts a deposit in received state, or returns the
	// existing row when the external txid has been seen before.
	CreateIdempotent(ctx context.Context, d Deposit) (Deposit, bool, error)
	// ClaimCredit scans received deposits oldest-first and atomically
	// transitions the first one within tol of the credit amount to
	// funds_confirmed. Dedupes by credit id. Unmatched credits are recorded,
	// never dropped.
	ClaimCredit(ctx context.Context, n CreditNotice, tol decimal.Decimal) (MatchResult, error)
	// ExpireBefore marks received deposits created before cutoff as expired
	// and returns them.
	ExpireBefore(ctx context.Context, cutoff time.Time) ([]Deposit, error)
	GetByID(ctx context.Context, id string) (Deposit, error)
	List(ctx context.Context, opts ListOpts) ([]Deposit, error)
}

// CreditStore reads exchange-reported fiat credits.
type CreditStore interface {
	ListUnmatched(ctx context.Context, opts ListOpts) ([]FiatCredit, error)
}

// ExchangeStore persists conversion order results.
type ExchangeStore interface {
	// RecordFill creates the exchange row, moves the owning deposit to
	// matched and audits the fill in one transaction. Replay by order id
	// returns the existing row.
	RecordFill(ctx context.Context, n FillNotice) (Exchange, bool, error)
	GetByID(ctx context.Context, id string) (Exchange, error)
	GetByDepositID(ctx context.Context, depositID string) (Exchange, error)
	List(ctx context.Context, opts ListOpts) ([]Exchange, error)
}

// TransferStore persists custodial withdrawals.
type TransferStore interface {
	// Initiate creates a transfer in initiated state. Replay by withdrawal
	// id returns the existing row; a different withdrawal against the same
	// exchange is ErrConflict.
	Initiate(ctx context.Context, t Transfer) (Transfer, bool, error)
	// ApplyUpdate advances the transfer found by withdrawal id. Backward or
	// post-terminal transitions are no-ops reported via the bool.
	ApplyUpdate(ctx context.Context, n WithdrawalNotice) (Transfer, bool, error)
	// Complete records custodial-wallet arrival and sets the completed time.
	Complete(ctx context.Context, n CustodyDepositNotice) (Transfer, bool, error)
	GetByWithdrawalID(ctx context.Context, withdrawalID string) (Transfer, error)
	List(ctx context.Context, opts ListOpts) ([]Transfer, error)
	// ListCompletedBefore feeds the archiver.
	ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Transfer, error)
}

// AuditStore persists the append-only settlement history.
type AuditStore interface {
	Append(ctx context.Context, kind, refID string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEvent, error)
	// ListByRef narrows the trail to events referencing one entity. The
	// filter applies before pagination.
	ListByRef(ctx context.Context, refID string, opts ListOpts) ([]AuditEvent, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AuditEvent, error)
}
