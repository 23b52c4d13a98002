package domain

import "time"

// Audit event kinds written by the settlement pipeline.
const (
	AuditDepositReceived  = "deposit.received"
	AuditFundsConfirmed   = "deposit.funds_confirmed"
	AuditDepositExpired   = "deposit.expired"
	AuditCreditUnmatched  = "credit.unmatched"
	AuditExchangeFilled   = "exchange.filled"
	AuditOrderFailed      = "exchange.order_failed"
	AuditTransferInit     = "transfer.initiated"
	AuditTransferComplete = "transfer.completed"
	AuditTransferFailed   = "transfer.failed"
	AuditWithdrawFailed   = "withdraw.failed"
	AuditDepositRejected  = "deposit.rejected"
	AuditCreditRejected   = "credit.rejected"
	AuditExchangeRejected = "exchange.rejected"
	AuditTransferRejected = "transfer.rejected"
	AuditArchiveWritten   = "archive.written"
	AuditArchiveFailed    = "archive.failed"
)

// AuditEvent is one immutable entry in the settlement history. Rows are
// append-only; ordering by ID is the authoritative sequence.
type AuditEvent struct {
	ID        int64
	Kind      string
	RefID     string // deposit, exchange or transfer id this event concerns
	Detail    map[string]any
	CreatedAt time.Time
}
