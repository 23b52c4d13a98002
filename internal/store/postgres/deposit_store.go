package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/netzerhq/settler/internal/domain"
)

// DepositStore implements domain.DepositStore using PostgreSQL.
type DepositStore struct {
	pool *pgxpool.Pool
}

// NewDepositStore creates a new DepositStore backed by the given connection pool.
func NewDepositStore(pool *pgxpool.Pool) *DepositStore {
	return &DepositStore{pool: pool}
}

const depositSelectCols = `id, client_id, amount::text, external_txid,
	COALESCE(credit_id, ''), status, created_at, updated_at`

func scanDepositFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Deposit, error) {
	var d domain.Deposit
	var amount, status string

	err := scanner.Scan(
		&d.ID, &d.ClientID, &amount, &d.ExternalTxID,
		&d.CreditID, &status, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return domain.Deposit{}, err
	}

	d.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	d.Status = domain.DepositStatus(status)
	return d, nil
}

func scanDepositRows(rows pgx.Rows) ([]domain.Deposit, error) {
	var deposits []domain.Deposit
	for rows.Next() {
		d, err := scanDepositFromRow(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

// CreateIdempotent inserts a deposit in received state. Redelivery of the
// same external txid returns the row written the first time; the bool
// reports whether a new row was created.
func (s *DepositStore) CreateIdempotent(ctx context.Context, d domain.Deposit) (domain.Deposit, bool, error) {
	res, created, err := s.createDeposit(ctx, d)
	if err == nil {
		return res, created, nil
	}

	// Two concurrent first deliveries of the same txid race the unique
	// constraint. The loser's insert surfaces the violation only after the
	// winner has committed, so a re-read outside the rolled-back transaction
	// sees the winner's row and reports a replay.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		existing, loadErr := s.getByExternalTxID(ctx, d.ExternalTxID)
		if loadErr != nil {
			return domain.Deposit{}, false, loadErr
		}
		return existing, false, nil
	}
	return domain.Deposit{}, false, err
}

func (s *DepositStore) createDeposit(ctx context.Context, d domain.Deposit) (domain.Deposit, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Deposit{}, false, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+depositSelectCols+` FROM deposits WHERE external_txid = $1`,
		d.ExternalTxID)
	existing, err := scanDepositFromRow(row)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return domain.Deposit{}, false, fmt.Errorf("postgres: commit tx: %w", err)
		}
		return existing, false, nil
	}
	if err != pgx.ErrNoRows {
		return domain.Deposit{}, false, fmt.Errorf("postgres: check deposit txid %s: %w", d.ExternalTxID, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO deposits (id, client_id, amount, external_txid, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.ClientID, d.Amount.String(), d.ExternalTxID, string(domain.DepositStatusReceived)); err != nil {
		return domain.Deposit{}, false, fmt.Errorf("postgres: create deposit: %w", err)
	}

	if err := appendAuditTx(ctx, tx, domain.AuditDepositReceived, d.ID, map[string]any{
		"client_id":     d.ClientID,
		"amount":        d.Amount.String(),
		"external_txid": d.ExternalTxID,
	}); err != nil {
		return domain.Deposit{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Deposit{}, false, fmt.Errorf("postgres: commit tx: %w", err)
	}

	row = s.pool.QueryRow(ctx,
		`SELECT `+depositSelectCols+` FROM deposits WHERE id = $1`, d.ID)
	created, err := scanDepositFromRow(row)
	if err != nil {
		return domain.Deposit{}, false, fmt.Errorf("postgres: load created deposit: %w", err)
	}
	return created, true, nil
}

// getByExternalTxID loads a deposit by its bank-rail transaction id.
func (s *DepositStore) getByExternalTxID(ctx context.Context, txid string) (domain.Deposit, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+depositSelectCols+` FROM deposits WHERE external_txid = $1`, txid)
	d, err := scanDepositFromRow(row)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("postgres: load deposit txid %s: %w", txid, err)
	}
	return d, nil
}

// ClaimCredit correlates an exchange-reported fiat credit with the oldest
// received deposit within tolerance. The candidate scan locks rows with
// SKIP LOCKED so two concurrent credits can never claim the same deposit,
// and the transition commits atomically with its audit row.
func (s *DepositStore) ClaimCredit(ctx context.Context, n domain.CreditNotice, tol decimal.Decimal) (domain.MatchResult, error) {
	res, err := s.claimCredit(ctx, n, tol)
	if err == nil {
		return res, nil
	}

	// A concurrent delivery of the same credit id can slip past the replay
	// check and hit the unique constraint on insert; re-read as a replay.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return s.loadCreditResult(ctx, n.CreditID)
	}
	return domain.MatchResult{}, err
}

func (s *DepositStore) claimCredit(ctx context.Context, n domain.CreditNotice, tol decimal.Decimal) (domain.MatchResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Dedupe by provider credit id.
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM fiat_credits WHERE credit_id = $1)`,
		n.CreditID,
	).Scan(&exists); err != nil {
		return domain.MatchResult{}, fmt.Errorf("postgres: check credit %s: %w", n.CreditID, err)
	}
	if exists {
		if err := tx.Commit(ctx); err != nil {
			return domain.MatchResult{}, fmt.Errorf("postgres: commit tx: %w", err)
		}
		return s.loadCreditResult(ctx, n.CreditID)
	}

	rows, err := tx.Query(ctx,
		`SELECT `+depositSelectCols+` FROM deposits
		 WHERE status = $1
		 ORDER BY created_at ASC, id ASC
		 FOR UPDATE SKIP LOCKED`,
		string(domain.DepositStatusReceived))
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("postgres: scan candidates: %w", err)
	}
	candidates, err := scanDepositRows(rows)
	rows.Close()
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("postgres: scan candidates: %w", err)
	}

	credit := domain.FiatCredit{
		ID:         uuid.NewString(),
		CreditID:   n.CreditID,
		Amount:     n.Amount,
		CreditedAt: n.CreditedAt,
	}

	idx := domain.FirstWithinTolerance(candidates, n.Amount, tol)
	if idx < 0 {
		credit.Status = domain.CreditStatusUnmatched
		if _, err := tx.Exec(ctx,
			`INSERT INTO fiat_credits (id, credit_id, amount, credited_at, status)
			 VALUES ($1, $2, $3, $4, $5)`,
			credit.ID, credit.CreditID, credit.Amount.String(), credit.CreditedAt,
			string(credit.Status)); err != nil {
			return domain.MatchResult{}, fmt.Errorf("postgres: record unmatched credit: %w", err)
		}
		if err := appendAuditTx(ctx, tx, domain.AuditCreditUnmatched, credit.CreditID, map[string]any{
			"amount":      credit.Amount.String(),
			"credited_at": credit.CreditedAt,
		}); err != nil {
			return domain.MatchResult{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return domain.MatchResult{}, fmt.Errorf("postgres: commit tx: %w", err)
		}
		return domain.MatchResult{Credit: credit, Matched: false}, nil
	}

	matched := candidates[idx]
	if _, err := tx.Exec(ctx,
		`UPDATE deposits SET status = $1, credit_id = $2, updated_at = NOW() WHERE id = $3`,
		string(domain.DepositStatusFundsConfirmed), n.CreditID, matched.ID); err != nil {
		return domain.MatchResult{}, fmt.Errorf("postgres: confirm deposit %s: %w", matched.ID, err)
	}

	credit.Status = domain.CreditStatusMatched
	credit.DepositID = matched.ID
	if _, err := tx.Exec(ctx,
		`INSERT INTO fiat_credits (id, credit_id, amount, credited_at, deposit_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		credit.ID, credit.CreditID, credit.Amount.String(), credit.CreditedAt,
		credit.DepositID, string(credit.Status)); err != nil {
		return domain.MatchResult{}, fmt.Errorf("postgres: record matched credit: %w", err)
	}

	if err := appendAuditTx(ctx, tx, domain.AuditFundsConfirmed, matched.ID, map[string]any{
		"credit_id":      n.CreditID,
		"credit_amount":  n.Amount.String(),
		"deposit_amount": matched.Amount.String(),
	}); err != nil {
		return domain.MatchResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.MatchResult{}, fmt.Errorf("postgres: commit tx: %w", err)
	}

	matched.Status = domain.DepositStatusFundsConfirmed
	matched.CreditID = n.CreditID
	return domain.MatchResult{Credit: credit, Deposit: matched, Matched: true}, nil
}

// loadCreditResult rebuilds a MatchResult for an already-processed credit id.
func (s *DepositStore) loadCreditResult(ctx context.Context, creditID string) (domain.MatchResult, error) {
	var c domain.FiatCredit
	var amount, status string
	var depositID *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, credit_id, amount::text, credited_at, deposit_id, status, created_at
		 FROM fiat_credits WHERE credit_id = $1`, creditID,
	).Scan(&c.ID, &c.CreditID, &amount, &c.CreditedAt, &depositID, &status, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MatchResult{}, domain.ErrNotFound
		}
		return domain.MatchResult{}, fmt.Errorf("postgres: load credit %s: %w", creditID, err)
	}

	c.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("postgres: parse credit amount %q: %w", amount, err)
	}
	c.Status = domain.CreditStatus(status)

	res := domain.MatchResult{Credit: c, Replayed: true}
	if depositID != nil {
		c.DepositID = *depositID
		res.Credit = c
		dep, err := s.GetByID(ctx, *depositID)
		if err != nil {
			return domain.MatchResult{}, err
		}
		res.Deposit = dep
		res.Matched = true
	}
	return res, nil
}

// ExpireBefore marks received deposits created before cutoff as expired and
// returns them, one audit row per expiry.
func (s *DepositStore) ExpireBefore(ctx context.Context, cutoff time.Time) ([]domain.Deposit, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`UPDATE deposits SET status = $1, updated_at = NOW()
		 WHERE status = $2 AND created_at < $3
		 RETURNING `+depositSelectCols,
		string(domain.DepositStatusExpired), string(domain.DepositStatusReceived), cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: expire deposits: %w", err)
	}
	expired, err := scanDepositRows(rows)
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("postgres: scan expired deposits: %w", err)
	}

	for _, d := range expired {
		if err := appendAuditTx(ctx, tx, domain.AuditDepositExpired, d.ID, map[string]any{
			"client_id":     d.ClientID,
			"amount":        d.Amount.String(),
			"external_txid": d.ExternalTxID,
			"cutoff":        cutoff,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit tx: %w", err)
	}
	return expired, nil
}

// GetByID retrieves a single deposit by ID.
func (s *DepositStore) GetByID(ctx context.Context, id string) (domain.Deposit, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+depositSelectCols+` FROM deposits WHERE id = $1`, id)

	d, err := scanDepositFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Deposit{}, domain.ErrNotFound
		}
		return domain.Deposit{}, fmt.Errorf("postgres: get deposit %s: %w", id, err)
	}
	return d, nil
}

// List returns deposits most-recent-first with pagination.
func (s *DepositStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Deposit, error) {
	query := `SELECT ` + depositSelectCols + ` FROM deposits WHERE 1=1`
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
		return nil, fmt.Errorf("postgres: list deposits: %w", err)
	}
	defer rows.Close()

	deposits, err := scanDepositRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan deposits: %w", err)
	}
	return deposits, nil
}
