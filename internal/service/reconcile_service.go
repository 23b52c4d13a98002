package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/netzerhq/settler/internal/domain"
)

// chainTimeout bounds each fire-and-forget downstream action. Failures are
// audited, never propagated back to the webhook that triggered them.
const chainTimeout = 60 * time.Second

// FillRecorder is the downstream hop the matcher chains into once a deposit
// is funds-confirmed and the conversion order fills.
type FillRecorder interface {
	RecordFill(ctx context.Context, n domain.FillNotice) (domain.Exchange, bool, error)
}

// ReconcileService correlates exchange-reported fiat credits with recorded
// deposits and chains matched deposits into a conversion order.
type ReconcileService struct {
	deposits  domain.DepositStore
	executor  domain.OrderExecutor
	execution FillRecorder
	audit     domain.AuditStore
	bus       domain.SignalBus
	notifier  domain.Notifier
	logger    *slog.Logger

	pair      string
	tolerance decimal.Decimal
}

// NewReconcileService creates a ReconcileService. tolerance is the absolute
// currency band a credit may differ from a deposit and still match.
func NewReconcileService(
	deposits domain.DepositStore,
	executor domain.OrderExecutor,
	execution FillRecorder,
	audit domain.AuditStore,
	bus domain.SignalBus,
	notifier domain.Notifier,
	pair string,
	tolerance decimal.Decimal,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		deposits:  deposits,
		executor:  executor,
		execution: execution,
		audit:     audit,
		bus:       bus,
		notifier:  notifier,
		pair:      pair,
		tolerance: tolerance,
		logger:    logger.With(slog.String("component", "reconcile")),
	}
}

// HandleCredit processes one fiat-credit notification. Matched deposits move
// to funds_confirmed and the conversion order is placed in the background;
// unmatched credits are recorded and surfaced for manual reconciliation.
func (s *ReconcileService) HandleCredit(ctx context.Context, n domain.CreditNotice) (domain.MatchResult, error) {
	if strings.TrimSpace(n.CreditID) == "" {
		return s.reject(ctx, fmt.Errorf("credit id is required: %w", domain.ErrValidation))
	}
	if !n.Amount.IsPositive() {
		return s.reject(ctx, fmt.Errorf("amount must be positive: %w", domain.ErrValidation))
	}
	if n.CreditedAt.IsZero() {
		n.CreditedAt = time.Now().UTC()
	}

	timer := prometheus.NewTimer(matchScanDuration)
	result, err := s.deposits.ClaimCredit(ctx, n, s.tolerance)
	timer.ObserveDuration()
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("reconcile: claim credit: %w", err)
	}

	switch {
	case result.Replayed:
		creditOutcomes.WithLabelValues("replayed").Inc()
		s.logger.InfoContext(ctx, "reconcile: duplicate credit notification",
			slog.String("credit_id", n.CreditID),
		)
		return result, nil

	case !result.Matched:
		creditOutcomes.WithLabelValues("unmatched").Inc()
		s.logger.WarnContext(ctx, "reconcile: unmatched credit",
			slog.String("credit_id", n.CreditID),
			slog.String("amount", n.Amount.String()),
		)
		s.publish(ctx, map[string]string{
			"event":     domain.AuditCreditUnmatched,
			"credit_id": n.CreditID,
			"amount":    n.Amount.String(),
		})
		if err := s.notifier.Notify(ctx, domain.AuditCreditUnmatched,
			"Unmatched fiat credit",
			fmt.Sprintf("Credit %s for %s has no matching deposit", n.CreditID, n.Amount.String()),
		); err != nil {
			s.logger.WarnContext(ctx, "reconcile: notify failed",
				slog.String("error", err.Error()),
			)
		}
		return result, nil
	}

	creditOutcomes.WithLabelValues("matched").Inc()
	s.logger.InfoContext(ctx, "reconcile: deposit funds confirmed",
		slog.String("deposit_id", result.Deposit.ID),
		slog.String("credit_id", n.CreditID),
		slog.String("credit_amount", n.Amount.String()),
	)
	s.publish(ctx, map[string]string{
		"event":      domain.AuditFundsConfirmed,
		"deposit_id": result.Deposit.ID,
		"credit_id":  n.CreditID,
	})

	// Chain the conversion order without holding up the webhook response.
	// A nil executor means order placement is disabled and fills arrive via
	// webhook instead.
	if s.executor != nil {
		deposit := result.Deposit
		creditAmount := n.Amount
		go s.placeOrder(context.WithoutCancel(ctx), deposit, creditAmount)
	} else {
		s.logger.InfoContext(ctx, "reconcile: order placement disabled, awaiting fill webhook",
			slog.String("deposit_id", result.Deposit.ID),
		)
	}

	return result, nil
}

// reject audits and returns a validation failure. Invalid notices reference
// no credit row, so the audit row carries no entity id.
func (s *ReconcileService) reject(ctx context.Context, err error) (domain.MatchResult, error) {
	auditRejection(ctx, s.audit, s.logger, domain.AuditCreditRejected, "", err)
	return domain.MatchResult{}, err
}

// placeOrder runs the conversion order outside any transaction and applies
// the result back through the guarded fill transition. A venue failure is
// recorded as an audit event against the deposit.
func (s *ReconcileService) placeOrder(ctx context.Context, deposit domain.Deposit, quoteAmount decimal.Decimal) {
	ctx, cancel := context.WithTimeout(ctx, chainTimeout)
	defer cancel()

	result, err := s.executor.PlaceMarketBuy(ctx, s.pair, quoteAmount)
	if err != nil {
		chainFailures.WithLabelValues("order").Inc()
		s.logger.ErrorContext(ctx, "reconcile: conversion order failed",
			slog.String("deposit_id", deposit.ID),
			slog.String("error", err.Error()),
		)
		if auditErr := s.audit.Append(ctx, domain.AuditOrderFailed, deposit.ID, map[string]any{
			"pair":         s.pair,
			"quote_amount": quoteAmount.String(),
			"error":        err.Error(),
		}); auditErr != nil {
			s.logger.ErrorContext(ctx, "reconcile: audit order failure failed",
				slog.String("deposit_id", deposit.ID),
				slog.String("error", auditErr.Error()),
			)
		}
		return
	}

	if _, _, err := s.execution.RecordFill(ctx, domain.FillNotice{
		DepositID:   deposit.ID,
		OrderID:     result.OrderID,
		Pair:        result.Pair,
		Side:        result.Side,
		Price:       result.Price,
		BaseAmount:  result.BaseAmount,
		QuoteAmount: result.QuoteAmount,
		FilledAt:    result.FilledAt,
	}); err != nil {
		chainFailures.WithLabelValues("record_fill").Inc()
		s.logger.ErrorContext(ctx, "reconcile: record fill failed",
			slog.String("deposit_id", deposit.ID),
			slog.String("order_id", result.OrderID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ReconcileService) publish(ctx context.Context, event map[string]string) {
	payload, _ := json.Marshal(event)
	if err := s.bus.Publish(ctx, settlementsChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "reconcile: publish event failed",
			slog.String("event", event["event"]),
			slog.String("error", err.Error()),
		)
	}
}
