package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/netzerhq/settler/internal/domain"
)

// WithdrawalStarter is the downstream hop a recorded fill chains into.
type WithdrawalStarter interface {
	StartWithdrawal(ctx context.Context, exchange domain.Exchange) (domain.Transfer, error)
}

// ExecutionService records conversion order fills against funds-confirmed
// deposits and chains each fill into an onward custodial withdrawal.
type ExecutionService struct {
	exchanges  domain.ExchangeStore
	withdrawer WithdrawalStarter
	audit      domain.AuditStore
	bus        domain.SignalBus
	logger     *slog.Logger
}

// NewExecutionService creates an ExecutionService.
func NewExecutionService(
	exchanges domain.ExchangeStore,
	withdrawer WithdrawalStarter,
	audit domain.AuditStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *ExecutionService {
	return &ExecutionService{
		exchanges:  exchanges,
		withdrawer: withdrawer,
		audit:      audit,
		bus:        bus,
		logger:     logger.With(slog.String("component", "execution")),
	}
}

// RecordFill records the fill explicitly linked to its deposit id. The fill
// is never inferred from pending deposits; callers must supply the linkage.
// Redelivery of the same order id returns the exchange recorded first.
func (s *ExecutionService) RecordFill(ctx context.Context, n domain.FillNotice) (domain.Exchange, bool, error) {
	if strings.TrimSpace(n.DepositID) == "" {
		return s.reject(ctx, "", fmt.Errorf("deposit id is required: %w", domain.ErrValidation))
	}
	if strings.TrimSpace(n.OrderID) == "" {
		return s.reject(ctx, "", fmt.Errorf("order id is required: %w", domain.ErrValidation))
	}
	if !n.Price.IsPositive() || !n.BaseAmount.IsPositive() || !n.QuoteAmount.IsPositive() {
		return s.reject(ctx, "", fmt.Errorf("price and amounts must be positive: %w", domain.ErrValidation))
	}
	if n.Side == "" {
		n.Side = domain.ExchangeSideBuy
	}
	if n.FilledAt.IsZero() {
		n.FilledAt = time.Now().UTC()
	}

	exchange, created, err := s.exchanges.RecordFill(ctx, n)
	if err != nil {
		err = fmt.Errorf("execution: record fill: %w", err)
		if isRejection(err) {
			return s.reject(ctx, n.DepositID, err)
		}
		return domain.Exchange{}, false, err
	}

	if !created {
		s.logger.InfoContext(ctx, "execution: duplicate fill notification",
			slog.String("order_id", n.OrderID),
			slog.String("exchange_id", exchange.ID),
		)
		return exchange, false, nil
	}

	fillsRecorded.Inc()

	s.publish(ctx, map[string]string{
		"event":       domain.AuditExchangeFilled,
		"exchange_id": exchange.ID,
		"deposit_id":  exchange.DepositID,
		"order_id":    exchange.OrderID,
		"base_amount": exchange.BaseAmount.String(),
	})

	s.logger.InfoContext(ctx, "execution: fill recorded",
		slog.String("exchange_id", exchange.ID),
		slog.String("deposit_id", exchange.DepositID),
		slog.String("order_id", exchange.OrderID),
		slog.String("price", exchange.Price.String()),
		slog.String("base_amount", exchange.BaseAmount.String()),
	)

	// Chain the custodial withdrawal without holding up the webhook response.
	// A nil withdrawer means withdrawals are driven externally and tracked
	// via webhook.
	if s.withdrawer != nil {
		go s.startWithdrawal(context.WithoutCancel(ctx), exchange)
	} else {
		s.logger.InfoContext(ctx, "execution: withdrawal chaining disabled",
			slog.String("exchange_id", exchange.ID),
		)
	}

	return exchange, true, nil
}

// reject audits and returns a rejected fill. refID names the deposit the
// fill referenced, or is empty when validation failed before any lookup.
func (s *ExecutionService) reject(ctx context.Context, refID string, err error) (domain.Exchange, bool, error) {
	auditRejection(ctx, s.audit, s.logger, domain.AuditExchangeRejected, refID, err)
	return domain.Exchange{}, false, err
}

// startWithdrawal runs the withdrawal hop outside any transaction. A failure
// is recorded as an audit event against the exchange; the committed fill is
// untouched.
func (s *ExecutionService) startWithdrawal(ctx context.Context, exchange domain.Exchange) {
	ctx, cancel := context.WithTimeout(ctx, chainTimeout)
	defer cancel()

	if _, err := s.withdrawer.StartWithdrawal(ctx, exchange); err != nil {
		chainFailures.WithLabelValues("withdrawal").Inc()
		s.logger.ErrorContext(ctx, "execution: start withdrawal failed",
			slog.String("exchange_id", exchange.ID),
			slog.String("error", err.Error()),
		)
		if auditErr := s.audit.Append(ctx, domain.AuditWithdrawFailed, exchange.ID, map[string]any{
			"deposit_id":  exchange.DepositID,
			"base_amount": exchange.BaseAmount.String(),
			"error":       err.Error(),
		}); auditErr != nil {
			s.logger.ErrorContext(ctx, "execution: audit withdrawal failure failed",
				slog.String("exchange_id", exchange.ID),
				slog.String("error", auditErr.Error()),
			)
		}
	}
}

func (s *ExecutionService) publish(ctx context.Context, event map[string]string) {
	payload, _ := json.Marshal(event)
	if err := s.bus.Publish(ctx, settlementsChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "execution: publish event failed",
			slog.String("event", event["event"]),
			slog.String("error", err.Error()),
		)
	}
}
