package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/netzerhq/settler/internal/domain"
)

// TransferStore implements domain.TransferStore using PostgreSQL.
type TransferStore struct {
	pool *pgxpool.Pool
}

// NewTransferStore creates a new TransferStore backed by the given connection pool.
func NewTransferStore(pool *pgxpool.Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

const transferSelectCols = `id, exchange_id, asset, chain, amount::text,
	withdrawal_id, COALESCE(tx_hash, ''), COALESCE(custody_deposit_id, ''),
	status, initiated_at, completed_at, updated_at`

func scanTransferFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Transfer, error) {
	var t domain.Transfer
	var amount, status string

	err := scanner.Scan(
		&t.ID, &t.ExchangeID, &t.Asset, &t.Chain, &amount,
		&t.WithdrawalID, &t.TxHash, &t.CustodyDepositID,
		&status, &t.InitiatedAt, &t.CompletedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.Transfer{}, err
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Transfer{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	t.Status = domain.TransferStatus(status)
	return t, nil
}

func scanTransferRows(rows pgx.Rows) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	for rows.Next() {
		t, err := scanTransferFromRow(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// Initiate creates a transfer in initiated state. Redelivery of the same
// withdrawal id returns the existing row; a different withdrawal against the
// same exchange is a conflict.
func (s *TransferStore) Initiate(ctx context.Context, t domain.Transfer) (domain.Transfer, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Transfer{}, false, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+transferSelectCols+` FROM transfers WHERE withdrawal_id = $1`,
		t.WithdrawalID)
	existing, err := scanTransferFromRow(row)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return domain.Transfer{}, false, fmt.Errorf("postgres: commit tx: %w", err)
		}
		return existing, false, nil
	}
	if err != pgx.ErrNoRows {
		return domain.Transfer{}, false, fmt.Errorf("postgres: check withdrawal %s: %w", t.WithdrawalID, err)
	}

	var exchangeExists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM exchanges WHERE id = $1)`, t.ExchangeID,
	).Scan(&exchangeExists); err != nil {
		return domain.Transfer{}, false, fmt.Errorf("postgres: check exchange %s: %w", t.ExchangeID, err)
	}
	if !exchangeExists {
		return domain.Transfer{}, false, domain.ErrNotFound
	}

	var hasTransfer bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM transfers WHERE exchange_id = $1)`, t.ExchangeID,
	).Scan(&hasTransfer); err != nil {
		return domain.Transfer{}, false, fmt.Errorf("postgres: check existing transfer: %w", err)
	}
	if hasTransfer {
		return domain.Transfer{}, false, fmt.Errorf("exchange %s already has a transfer: %w",
			t.ExchangeID, domain.ErrConflict)
	}

	t.Status = domain.TransferStatusInitiated
	if _, err := tx.Exec(ctx,
		`INSERT INTO transfers (id, exchange_id, asset, chain, amount, withdrawal_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.ExchangeID, t.Asset, t.Chain, t.Amount.String(),
		t.WithdrawalID, string(t.Status)); err != nil {
		return domain.Transfer{}, false, fmt.Errorf("postgres: create transfer: %w", err)
	}

	if err := appendAuditTx(ctx, tx, domain.AuditTransferInit, t.ID, map[string]any{
		"exchange_id":   t.ExchangeID,
		"asset":         t.Asset,
		"chain":         t.Chain,
		"amount":        t.Amount.String(),
		"withdrawal_id": t.WithdrawalID,
	}); err != nil {
		return domain.Transfer{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Transfer{}, false, fmt.Errorf("postgres: commit tx: %w", err)
	}

	created, err := s.GetByWithdrawalID(ctx, t.WithdrawalID)
	if err != nil {
		return domain.Transfer{}, false, err
	}
	return created, true, nil
}

// GetByWithdrawalID is the lookup used by webhook updates.
func (s *TransferStore) GetByWithdrawalID(ctx context.Context, withdrawalID string) (domain.Transfer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+transferSelectCols+` FROM transfers WHERE withdrawal_id = $1`,
		withdrawalID)

	t, err := scanTransferFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Transfer{}, domain.ErrNotFound
		}
		return domain.Transfer{}, fmt.Errorf("postgres: get transfer by withdrawal %s: %w", withdrawalID, err)
	}
	return t, nil
}

// ApplyUpdate advances the transfer found by withdrawal id. A tx hash moves
// the status to at least broadcast. Backward or post-terminal transitions
// commit nothing and report applied=false so callers can log the replay.
func (s *TransferStore) ApplyUpdate(ctx context.Context, n domain.WithdrawalNotice) (domain.Transfer, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Transfer{}, false, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+transferSelectCols+` FROM transfers WHERE withdrawal_id = $1 FOR UPDATE`,
		n.WithdrawalID)
	t, err := scanTransferFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Transfer{}, false, domain.ErrNotFound
		}
		return domain.Transfer{}, false, fmt.Errorf("postgres: lock transfer %s: %w", n.WithdrawalID, err)
	}

	target := n.Status
	if n.TxHash != "" && target == domain.TransferStatusInitiated {
		target = domain.TransferStatusBroadcast
	}

	if !t.Status.CanAdvance(target) {
		if err := tx.Commit(ctx); err != nil {
			return domain.Transfer{}, false, fmt.Errorf("postgres: commit tx: %w", err)
		}
		return t, false, nil
	}

	query := `UPDATE transfers SET status = $1, updated_at = NOW()`
	args := []any{string(target)}
	argIdx := 2

	if n.TxHash != "" {
		query += fmt.Sprintf(", tx_hash = $%d", argIdx)
		args = append(args, n.TxHash)
		argIdx++
	}
	if target == domain.TransferStatusCompleted {
		query += ", completed_at = NOW()"
	}
	query += fmt.Sprintf(" WHERE id = $%d", argIdx)
	args = append(args, t.ID)

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return domain.Transfer{}, false, fmt.Errorf("postgres: update transfer %s: %w", t.ID, err)
	}

	switch target {
	case domain.TransferStatusCompleted:
		if err := appendAuditTx(ctx, tx, domain.AuditTransferComplete, t.ID, map[string]any{
			"withdrawal_id": n.WithdrawalID,
			"tx_hash":       n.TxHash,
		}); err != nil {
			return domain.Transfer{}, false, err
		}
	case domain.TransferStatusFailed:
		if err := appendAuditTx(ctx, tx, domain.AuditTransferFailed, t.ID, map[string]any{
			"withdrawal_id": n.WithdrawalID,
			"from":          string(t.Status),
		}); err != nil {
			return domain.Transfer{}, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Transfer{}, false, fmt.Errorf("postgres: commit tx: %w", err)
	}

	t.Status = target
	if n.TxHash != "" {
		t.TxHash = n.TxHash
	}
	if target == domain.TransferStatusCompleted && t.CompletedAt == nil {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
	return t, true, nil
}

// Complete records custodial-wallet arrival: terminal completed status, the
// receiving deposit id and the completed time, set exactly once. Redelivered
// confirmations for a terminal transfer are no-ops.
func (s *TransferStore) Complete(ctx context.Context, n domain.CustodyDepositNotice) (domain.Transfer, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Transfer{}, false, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+transferSelectCols+` FROM transfers WHERE withdrawal_id = $1 FOR UPDATE`,
		n.WithdrawalID)
	t, err := scanTransferFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Transfer{}, false, domain.ErrNotFound
		}
		return domain.Transfer{}, false, fmt.Errorf("postgres: lock transfer %s: %w", n.WithdrawalID, err)
	}

	if !t.Status.CanAdvance(domain.TransferStatusCompleted) {
		if err := tx.Commit(ctx); err != nil {
			return domain.Transfer{}, false, fmt.Errorf("postgres: commit tx: %w", err)
		}
		return t, false, nil
	}

	completedAt := n.CreditedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx,
		`UPDATE transfers SET status = $1, custody_deposit_id = $2, completed_at = $3, updated_at = NOW()
		 WHERE id = $4`,
		string(domain.TransferStatusCompleted), n.CustodyDepositID, completedAt, t.ID); err != nil {
		return domain.Transfer{}, false, fmt.Errorf("postgres: complete transfer %s: %w", t.ID, err)
	}

	if err := appendAuditTx(ctx, tx, domain.AuditTransferComplete, t.ID, map[string]any{
		"withdrawal_id":      n.WithdrawalID,
		"custody_deposit_id": n.CustodyDepositID,
		"asset":              n.Asset,
		"amount":             n.Amount.String(),
	}); err != nil {
		return domain.Transfer{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Transfer{}, false, fmt.Errorf("postgres: commit tx: %w", err)
	}

	t.Status = domain.TransferStatusCompleted
	t.CustodyDepositID = n.CustodyDepositID
	t.CompletedAt = &completedAt
	return t, true, nil
}

// List returns transfers most-recent-first with pagination.
func (s *TransferStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Transfer, error) {
	query := `SELECT ` + transferSelectCols + ` FROM transfers WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND initiated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND initiated_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY initiated_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers: %w", err)
	}
	defer rows.Close()

	transfers, err := scanTransferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transfers: %w", err)
	}
	return transfers, nil
}

// ListCompletedBefore returns completed transfers older than cutoff for the
// archiver.
func (s *TransferStore) ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transfer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transferSelectCols+` FROM transfers
		 WHERE status = $1 AND completed_at < $2
		 ORDER BY completed_at ASC
		 LIMIT $3`,
		string(domain.TransferStatusCompleted), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list completed transfers: %w", err)
	}
	defer rows.Close()

	transfers, err := scanTransferRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan completed transfers: %w", err)
	}
	return transfers, nil
}
