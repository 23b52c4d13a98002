package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/netzerhq/settler/internal/domain"
)

// CreditStore implements domain.CreditStore using PostgreSQL.
type CreditStore struct {
	pool *pgxpool.Pool
}

// NewCreditStore creates a new CreditStore backed by the given connection pool.
func NewCreditStore(pool *pgxpool.Pool) *CreditStore {
	return &CreditStore{pool: pool}
}

// ListUnmatched returns credits awaiting manual reconciliation, oldest first.
func (s *CreditStore) ListUnmatched(ctx context.Context, opts domain.ListOpts) ([]domain.FiatCredit, error) {
	query := `SELECT id, credit_id, amount::text, credited_at, COALESCE(deposit_id::text, ''), status, created_at
		FROM fiat_credits WHERE status = $1`
	args := []any{string(domain.CreditStatusUnmatched)}
	argIdx := 2

	query += " ORDER BY credited_at ASC"

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
		return nil, fmt.Errorf("postgres: list unmatched credits: %w", err)
	}
	defer rows.Close()

	var credits []domain.FiatCredit
	for rows.Next() {
		var c domain.FiatCredit
		var amount, status string
		if err := rows.Scan(&c.ID, &c.CreditID, &amount, &c.CreditedAt, &c.DepositID, &status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan credit: %w", err)
		}
		c.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse credit amount %q: %w", amount, err)
		}
		c.Status = domain.CreditStatus(status)
		credits = append(credits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unmatched credits rows: %w", err)
	}
	return credits, nil
}
