package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/netzerhq/settler/internal/domain"
)

// ExchangeStore implements domain.ExchangeStore using PostgreSQL.
type ExchangeStore struct {
	pool *pgxpool.Pool
}

// NewExchangeStore creates a new ExchangeStore backed by the given connection pool.
func NewExchangeStore(pool *pgxpool.Pool) *ExchangeStore {
	return &ExchangeStore{pool: pool}
}

const exchangeSelectCols = `id, deposit_id, order_id, pair, side,
	price::text, base_amount::text, quote_amount::text, filled_at, status, created_at`

func scanExchangeFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Exchange, error) {
	var e domain.Exchange
	var side, status, price, base, quote string

	err := scanner.Scan(
		&e.ID, &e.DepositID, &e.OrderID, &e.Pair, &side,
		&price, &base, &quote, &e.FilledAt, &status, &e.CreatedAt,
	)
	if err != nil {
		return domain.Exchange{}, err
	}

	if e.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Exchange{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	if e.BaseAmount, err = decimal.NewFromString(base); err != nil {
		return domain.Exchange{}, fmt.Errorf("parse base amount %q: %w", base, err)
	}
	if e.QuoteAmount, err = decimal.NewFromString(quote); err != nil {
		return domain.Exchange{}, fmt.Errorf("parse quote amount %q: %w", quote, err)
	}
	e.Side = domain.ExchangeSide(side)
	e.Status = domain.ExchangeStatus(status)
	return e, nil
}

func scanExchangeRows(rows pgx.Rows) ([]domain.Exchange, error) {
	var exchanges []domain.Exchange
	for rows.Next() {
		e, err := scanExchangeFromRow(rows)
		if err != nil {
			return nil, err
		}
		exchanges = append(exchanges, e)
	}
	return exchanges, rows.Err()
}

// RecordFill creates the exchange row for a funds-confirmed deposit, moves
// the deposit to matched and audits the fill in one transaction. The deposit
// row is locked for the duration so concurrent fills serialize. Replay by
// order id returns the row written the first time.
func (s *ExchangeStore) RecordFill(ctx context.Context, n domain.FillNotice) (domain.Exchange, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Exchange{}, false, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Dedupe by venue order id.
	row := tx.QueryRow(ctx,
		`SELECT `+exchangeSelectCols+` FROM exchanges WHERE order_id = $1`, n.OrderID)
	existing, err := scanExchangeFromRow(row)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return domain.Exchange{}, false, fmt.Errorf("postgres: commit tx: %w", err)
		}
		return existing, false, nil
	}
	if err != pgx.ErrNoRows {
		return domain.Exchange{}, false, fmt.Errorf("postgres: check order %s: %w", n.OrderID, err)
	}

	var depStatus string
	err = tx.QueryRow(ctx,
		`SELECT status FROM deposits WHERE id = $1 FOR UPDATE`, n.DepositID,
	).Scan(&depStatus)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Exchange{}, false, domain.ErrNotFound
		}
		return domain.Exchange{}, false, fmt.Errorf("postgres: lock deposit %s: %w", n.DepositID, err)
	}
	if domain.DepositStatus(depStatus) != domain.DepositStatusFundsConfirmed {
		return domain.Exchange{}, false, fmt.Errorf("deposit %s is %s: %w",
			n.DepositID, depStatus, domain.ErrInvalidState)
	}

	var hasLive bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM exchanges WHERE deposit_id = $1 AND status <> $2)`,
		n.DepositID, string(domain.ExchangeStatusFailed),
	).Scan(&hasLive); err != nil {
		return domain.Exchange{}, false, fmt.Errorf("postgres: check existing exchange: %w", err)
	}
	if hasLive {
		return domain.Exchange{}, false, fmt.Errorf("deposit %s already has an exchange: %w",
			n.DepositID, domain.ErrConflict)
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
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO exchanges (id, deposit_id, order_id, pair, side, price, base_amount, quote_amount, filled_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.DepositID, e.OrderID, e.Pair, string(e.Side),
		e.Price.String(), e.BaseAmount.String(), e.QuoteAmount.String(),
		e.FilledAt, string(e.Status)); err != nil {
		return domain.Exchange{}, false, fmt.Errorf("postgres: create exchange: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE deposits SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(domain.DepositStatusMatched), n.DepositID); err != nil {
		return domain.Exchange{}, false, fmt.Errorf("postgres: mark deposit matched: %w", err)
	}

	if err := appendAuditTx(ctx, tx, domain.AuditExchangeFilled, e.ID, map[string]any{
		"deposit_id":   e.DepositID,
		"order_id":     e.OrderID,
		"pair":         e.Pair,
		"side":         string(e.Side),
		"price":        e.Price.String(),
		"base_amount":  e.BaseAmount.String(),
		"quote_amount": e.QuoteAmount.String(),
	}); err != nil {
		return domain.Exchange{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Exchange{}, false, fmt.Errorf("postgres: commit tx: %w", err)
	}
	return e, true, nil
}

// GetByID retrieves a single exchange by ID.
func (s *ExchangeStore) GetByID(ctx context.Context, id string) (domain.Exchange, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+exchangeSelectCols+` FROM exchanges WHERE id = $1`, id)

	e, err := scanExchangeFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Exchange{}, domain.ErrNotFound
		}
		return domain.Exchange{}, fmt.Errorf("postgres: get exchange %s: %w", id, err)
	}
	return e, nil
}

// GetByDepositID retrieves the live exchange for a deposit.
func (s *ExchangeStore) GetByDepositID(ctx context.Context, depositID string) (domain.Exchange, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+exchangeSelectCols+` FROM exchanges
		 WHERE deposit_id = $1 AND status <> $2`,
		depositID, string(domain.ExchangeStatusFailed))

	e, err := scanExchangeFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Exchange{}, domain.ErrNotFound
		}
		return domain.Exchange{}, fmt.Errorf("postgres: get exchange for deposit %s: %w", depositID, err)
	}
	return e, nil
}

// List returns exchanges most-recent-first with pagination.
func (s *ExchangeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Exchange, error) {
	query := `SELECT ` + exchangeSelectCols + ` FROM exchanges WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list exchanges: %w", err)
	}
	defer rows.Close()

	exchanges, err := scanExchangeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan exchanges: %w", err)
	}
	return exchanges, nil
}
