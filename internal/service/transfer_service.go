package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/netzerhq/settler/internal/domain"
)

// TransferService tracks custodial withdrawals from initiation through
// confirmation at the custodial wallet.
type TransferService struct {
	transfers domain.TransferStore
	initiator domain.WithdrawalInitiator
	audit     domain.AuditStore
	bus       domain.SignalBus
	notifier  domain.Notifier
	logger    *slog.Logger

	asset          string
	chain          string
	custodyAddress string
}

// NewTransferService creates a TransferService. asset, chain and
// custodyAddress describe the onward leg every settlement takes.
func NewTransferService(
	transfers domain.TransferStore,
	initiator domain.WithdrawalInitiator,
	audit domain.AuditStore,
	bus domain.SignalBus,
	notifier domain.Notifier,
	asset, chain, custodyAddress string,
	logger *slog.Logger,
) *TransferService {
	return &TransferService{
		transfers:      transfers,
		initiator:      initiator,
		audit:          audit,
		bus:            bus,
		notifier:       notifier,
		asset:          asset,
		chain:          chain,
		custodyAddress: custodyAddress,
		logger:         logger.With(slog.String("component", "transfer")),
	}
}

// StartWithdrawal asks the venue to move the exchange's base amount to the
// custodial wallet, then records the transfer in initiated state. The venue
// call happens before any row is locked.
func (s *TransferService) StartWithdrawal(ctx context.Context, exchange domain.Exchange) (domain.Transfer, error) {
	withdrawalID, err := s.initiator.InitiateWithdrawal(ctx, domain.WithdrawalRequest{
		Asset:   s.asset,
		Chain:   s.chain,
		Amount:  exchange.BaseAmount,
		Address: s.custodyAddress,
	})
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("transfer: initiate withdrawal: %w", err)
	}

	transfer, _, err := s.Initiate(ctx, exchange.ID, s.asset, s.chain, exchange.BaseAmount.String(), withdrawalID)
	if err != nil {
		return domain.Transfer{}, err
	}
	return transfer, nil
}

// Initiate records a withdrawal in initiated state. Redelivery of the same
// withdrawal id returns the existing transfer.
func (s *TransferService) Initiate(ctx context.Context, exchangeID, asset, chain, amount, withdrawalID string) (domain.Transfer, bool, error) {
	if strings.TrimSpace(exchangeID) == "" {
		return s.reject(ctx, "", fmt.Errorf("exchange id is required: %w", domain.ErrValidation))
	}
	if strings.TrimSpace(withdrawalID) == "" {
		return s.reject(ctx, "", fmt.Errorf("withdrawal id is required: %w", domain.ErrValidation))
	}

	t, err := buildTransfer(exchangeID, asset, chain, amount, withdrawalID)
	if err != nil {
		return s.reject(ctx, "", err)
	}

	transfer, created, err := s.transfers.Initiate(ctx, t)
	if err != nil {
		err = fmt.Errorf("transfer: initiate: %w", err)
		if isRejection(err) {
			return s.reject(ctx, exchangeID, err)
		}
		return domain.Transfer{}, false, err
	}

	if !created {
		s.logger.InfoContext(ctx, "transfer: duplicate initiation",
			slog.String("withdrawal_id", withdrawalID),
			slog.String("transfer_id", transfer.ID),
		)
		return transfer, false, nil
	}

	s.publish(ctx, map[string]string{
		"event":         domain.AuditTransferInit,
		"transfer_id":   transfer.ID,
		"exchange_id":   transfer.ExchangeID,
		"withdrawal_id": transfer.WithdrawalID,
		"amount":        transfer.Amount.String(),
	})

	s.logger.InfoContext(ctx, "transfer: withdrawal initiated",
		slog.String("transfer_id", transfer.ID),
		slog.String("exchange_id", transfer.ExchangeID),
		slog.String("withdrawal_id", transfer.WithdrawalID),
	)

	return transfer, true, nil
}

// HandleWithdrawalUpdate applies a venue withdrawal status update. Backward
// or post-terminal transitions are logged no-ops.
func (s *TransferService) HandleWithdrawalUpdate(ctx context.Context, n domain.WithdrawalNotice) (domain.Transfer, bool, error) {
	if strings.TrimSpace(n.WithdrawalID) == "" {
		return s.reject(ctx, "", fmt.Errorf("withdrawal id is required: %w", domain.ErrValidation))
	}
	if n.Status == "" && n.TxHash == "" {
		return s.reject(ctx, "", fmt.Errorf("status or tx hash is required: %w", domain.ErrValidation))
	}
	if n.Status == "" {
		n.Status = domain.TransferStatusBroadcast
	}
	switch n.Status {
	case domain.TransferStatusInitiated, domain.TransferStatusBroadcast,
		domain.TransferStatusCompleted, domain.TransferStatusFailed:
	default:
		return s.reject(ctx, "", fmt.Errorf("unknown status %q: %w", n.Status, domain.ErrValidation))
	}

	// The venue reports completed once funds leave its books, but settlement
	// completes only on the custodial confirmation, which carries the
	// receiving deposit id. Venue updates are capped at broadcast so the
	// custody path can still apply the terminal transition.
	if n.Status == domain.TransferStatusCompleted {
		n.Status = domain.TransferStatusBroadcast
	}

	transfer, applied, err := s.transfers.ApplyUpdate(ctx, n)
	if err != nil {
		err = fmt.Errorf("transfer: apply update: %w", err)
		if isRejection(err) {
			return s.reject(ctx, n.WithdrawalID, err)
		}
		return domain.Transfer{}, false, err
	}

	if !applied {
		s.logger.InfoContext(ctx, "transfer: update ignored",
			slog.String("withdrawal_id", n.WithdrawalID),
			slog.String("current_status", string(transfer.Status)),
			slog.String("requested_status", string(n.Status)),
		)
		return transfer, false, nil
	}

	s.publish(ctx, map[string]string{
		"event":         "transfer." + string(transfer.Status),
		"transfer_id":   transfer.ID,
		"withdrawal_id": transfer.WithdrawalID,
		"tx_hash":       transfer.TxHash,
	})

	s.logger.InfoContext(ctx, "transfer: status updated",
		slog.String("transfer_id", transfer.ID),
		slog.String("status", string(transfer.Status)),
		slog.String("tx_hash", transfer.TxHash),
	)

	if transfer.Status == domain.TransferStatusFailed {
		if err := s.notifier.Notify(ctx, domain.AuditTransferFailed,
			"Transfer failed",
			fmt.Sprintf("Withdrawal %s failed", transfer.WithdrawalID),
		); err != nil {
			s.logger.WarnContext(ctx, "transfer: notify failed",
				slog.String("error", err.Error()),
			)
		}
	}

	return transfer, true, nil
}

// HandleCustodyDeposit applies the custodial-wallet confirmation: the
// terminal completed transition with the receiving deposit id and completed
// time. Redelivered confirmations are logged no-ops.
func (s *TransferService) HandleCustodyDeposit(ctx context.Context, n domain.CustodyDepositNotice) (domain.Transfer, bool, error) {
	if strings.TrimSpace(n.WithdrawalID) == "" {
		return s.reject(ctx, "", fmt.Errorf("withdrawal id is required: %w", domain.ErrValidation))
	}
	if strings.TrimSpace(n.CustodyDepositID) == "" {
		return s.reject(ctx, "", fmt.Errorf("custody deposit id is required: %w", domain.ErrValidation))
	}

	transfer, applied, err := s.transfers.Complete(ctx, n)
	if err != nil {
		err = fmt.Errorf("transfer: complete: %w", err)
		if isRejection(err) {
			return s.reject(ctx, n.WithdrawalID, err)
		}
		return domain.Transfer{}, false, err
	}

	if !applied {
		s.logger.InfoContext(ctx, "transfer: completion replayed",
			slog.String("withdrawal_id", n.WithdrawalID),
			slog.String("current_status", string(transfer.Status)),
		)
		return transfer, false, nil
	}

	transfersCompleted.Inc()

	s.publish(ctx, map[string]string{
		"event":              domain.AuditTransferComplete,
		"transfer_id":        transfer.ID,
		"withdrawal_id":      transfer.WithdrawalID,
		"custody_deposit_id": transfer.CustodyDepositID,
	})

	s.logger.InfoContext(ctx, "transfer: completed",
		slog.String("transfer_id", transfer.ID),
		slog.String("withdrawal_id", transfer.WithdrawalID),
		slog.String("custody_deposit_id", transfer.CustodyDepositID),
	)

	return transfer, true, nil
}

// reject audits and returns a rejected transfer operation. refID names the
// exchange or withdrawal the caller referenced, or is empty when validation
// failed before any lookup.
func (s *TransferService) reject(ctx context.Context, refID string, err error) (domain.Transfer, bool, error) {
	auditRejection(ctx, s.audit, s.logger, domain.AuditTransferRejected, refID, err)
	return domain.Transfer{}, false, err
}

func (s *TransferService) publish(ctx context.Context, event map[string]string) {
	payload, _ := json.Marshal(event)
	if err := s.bus.Publish(ctx, settlementsChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "transfer: publish event failed",
			slog.String("event", event["event"]),
			slog.String("error", err.Error()),
		)
	}
}

// buildTransfer validates and assembles a new transfer row.
func buildTransfer(exchangeID, asset, chain, amount, withdrawalID string) (domain.Transfer, error) {
	amt, err := parseAmount(amount)
	if err != nil {
		return domain.Transfer{}, err
	}
	return domain.Transfer{
		ID:           uuid.NewString(),
		ExchangeID:   exchangeID,
		Asset:        asset,
		Chain:        chain,
		Amount:       amt,
		WithdrawalID: withdrawalID,
		InitiatedAt:  time.Now().UTC(),
	}, nil
}
