package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/netzerhq/settler/internal/domain"
)

// settlementsChannel is the signal bus channel all pipeline events go out on.
const settlementsChannel = "settlements"

// IntakeService absorbs bank-rail deposit notifications. Redelivery of the
// same external txid returns the deposit recorded the first time.
type IntakeService struct {
	deposits domain.DepositStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	logger   *slog.Logger
}

// NewIntakeService creates an IntakeService.
func NewIntakeService(deposits domain.DepositStore, audit domain.AuditStore, bus domain.SignalBus, logger *slog.Logger) *IntakeService {
	return &IntakeService{
		deposits: deposits,
		audit:    audit,
		bus:      bus,
		logger:   logger.With(slog.String("component", "intake")),
	}
}

// RecordDeposit creates a deposit in received state. The bool reports
// whether this delivery created the row.
func (s *IntakeService) RecordDeposit(ctx context.Context, n domain.DepositNotice) (domain.Deposit, bool, error) {
	if strings.TrimSpace(n.ClientID) == "" {
		return s.reject(ctx, fmt.Errorf("client id is required: %w", domain.ErrValidation))
	}
	if strings.TrimSpace(n.ExternalTxID) == "" {
		return s.reject(ctx, fmt.Errorf("external txid is required: %w", domain.ErrValidation))
	}
	if !n.Amount.IsPositive() {
		return s.reject(ctx, fmt.Errorf("amount must be positive: %w", domain.ErrValidation))
	}

	deposit, created, err := s.deposits.CreateIdempotent(ctx, domain.Deposit{
		ID:           uuid.NewString(),
		ClientID:     n.ClientID,
		Amount:       n.Amount,
		ExternalTxID: n.ExternalTxID,
	})
	if err != nil {
		return domain.Deposit{}, false, fmt.Errorf("intake: create deposit: %w", err)
	}

	if !created {
		s.logger.InfoContext(ctx, "intake: duplicate deposit notification",
			slog.String("external_txid", n.ExternalTxID),
			slog.String("deposit_id", deposit.ID),
		)
		return deposit, false, nil
	}

	depositsReceived.Inc()

	s.publish(ctx, map[string]string{
		"event":      domain.AuditDepositReceived,
		"deposit_id": deposit.ID,
		"client_id":  deposit.ClientID,
		"amount":     deposit.Amount.String(),
	})

	s.logger.InfoContext(ctx, "intake: deposit recorded",
		slog.String("deposit_id", deposit.ID),
		slog.String("client_id", deposit.ClientID),
		slog.String("amount", deposit.Amount.String()),
	)

	return deposit, true, nil
}

// reject audits and returns a validation failure. Invalid notices reference
// no deposit, so the audit row carries no entity id.
func (s *IntakeService) reject(ctx context.Context, err error) (domain.Deposit, bool, error) {
	auditRejection(ctx, s.audit, s.logger, domain.AuditDepositRejected, "", err)
	return domain.Deposit{}, false, err
}

func (s *IntakeService) publish(ctx context.Context, event map[string]string) {
	payload, _ := json.Marshal(event)
	if err := s.bus.Publish(ctx, settlementsChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "intake: publish event failed",
			slog.String("event", event["event"]),
			slog.String("error", err.Error()),
		)
	}
}
