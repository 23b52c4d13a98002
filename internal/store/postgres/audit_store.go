package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/netzerhq/settler/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// appendAuditTx writes one audit row inside an open transaction so the event
// commits atomically with the transition it records.
func appendAuditTx(ctx context.Context, tx pgx.Tx, kind, refID string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO audit_events (kind, ref_id, detail) VALUES ($1, $2, $3)`,
		kind, refID, detailJSON)
	if err != nil {
		return fmt.Errorf("postgres: append audit event %s: %w", kind, err)
	}
	return nil
}

// Append writes a standalone audit row outside any transition transaction.
// Used for failures of fire-and-forget downstream actions.
func (s *AuditStore) Append(ctx context.Context, kind, refID string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_events (kind, ref_id, detail) VALUES ($1, $2, $3)`,
		kind, refID, detailJSON)
	if err != nil {
		return fmt.Errorf("postgres: append audit event %s: %w", kind, err)
	}
	return nil
}

// List returns audit events most-recent-first with pagination and optional
// time filtering.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEvent, error) {
	return s.list(ctx, "", opts)
}

// ListByRef returns the events referencing one entity, most-recent-first.
// Filtering happens in the query so pagination never hides matches.
func (s *AuditStore) ListByRef(ctx context.Context, refID string, opts domain.ListOpts) ([]domain.AuditEvent, error) {
	return s.list(ctx, refID, opts)
}

func (s *AuditStore) list(ctx context.Context, refID string, opts domain.ListOpts) ([]domain.AuditEvent, error) {
	query := `SELECT id, kind, ref_id, detail, created_at FROM audit_events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if refID != "" {
		query += fmt.Sprintf(" AND ref_id = $%d", argIdx)
		args = append(args, refID)
		argIdx++
	}
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

	query += " ORDER BY created_at DESC, id DESC"

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
		return nil, fmt.Errorf("postgres: list audit events: %w", err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// ListBefore returns events older than cutoff in authoritative order, for
// archival.
func (s *AuditStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AuditEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, ref_id, detail, created_at FROM audit_events
		 WHERE created_at < $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit events before: %w", err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func scanAuditRows(rows pgx.Rows) ([]domain.AuditEvent, error) {
	var events []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var detailJSON []byte

		if err := rows.Scan(&e.ID, &e.Kind, &e.RefID, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit event: %w", err)
		}

		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit events rows: %w", err)
	}
	return events, nil
}
