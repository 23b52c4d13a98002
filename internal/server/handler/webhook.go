package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/netzerhq/settler/internal/domain"
)

// IntakeService defines what the webhook handler needs from the intake layer.
type IntakeService interface {
	RecordDeposit(ctx context.Context, n domain.DepositNotice) (domain.Deposit, bool, error)
}

// ReconcileService matches exchange fiat credits against pending deposits.
type ReconcileService interface {
	HandleCredit(ctx context.Context, n domain.CreditNotice) (domain.MatchResult, error)
}

// ExecutionService records conversion order fills.
type ExecutionService interface {
	RecordFill(ctx context.Context, n domain.FillNotice) (domain.Exchange, bool, error)
}

// TransferService applies withdrawal and custody updates.
type TransferService interface {
	HandleWithdrawalUpdate(ctx context.Context, n domain.WithdrawalNotice) (domain.Transfer, bool, error)
	HandleCustodyDeposit(ctx context.Context, n domain.CustodyDepositNotice) (domain.Transfer, bool, error)
}

// WebhookHandler receives notifications from the bank rail, the exchange and
// the custody watcher. Every endpoint is idempotent; redelivery returns the
// previously recorded state with created=false.
type WebhookHandler struct {
	intake    IntakeService
	reconcile ReconcileService
	execution ExecutionService
	transfers TransferService
	logger    *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(
	intake IntakeService,
	reconcile ReconcileService,
	execution ExecutionService,
	transfers TransferService,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		intake:    intake,
		reconcile: reconcile,
		execution: execution,
		transfers: transfers,
		logger:    logger,
	}
}

type depositRequest struct {
	ClientID     string          `json:"client_id"`
	Amount       decimal.Decimal `json:"amount"`
	ExternalTxID string          `json:"external_tx_id"`
}

// StitchDeposit records a bank-rail payment notification.
// POST /webhooks/stitch
func (h *WebhookHandler) StitchDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	deposit, created, err := h.intake.RecordDeposit(r.Context(), domain.DepositNotice{
		ClientID:     req.ClientID,
		Amount:       req.Amount,
		ExternalTxID: req.ExternalTxID,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "record deposit", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"deposit": deposit,
		"created": created,
	})
}

type creditRequest struct {
	CreditID   string          `json:"credit_id"`
	Amount     decimal.Decimal `json:"amount"`
	CreditedAt time.Time       `json:"credited_at"`
}

// ValrCredit matches an exchange-reported fiat inflow against pending
// deposits.
// POST /webhooks/valr/credit
func (h *WebhookHandler) ValrCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.reconcile.HandleCredit(r.Context(), domain.CreditNotice{
		CreditID:   req.CreditID,
		Amount:     req.Amount,
		CreditedAt: req.CreditedAt,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "handle credit", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type fillRequest struct {
	DepositID   string          `json:"deposit_id"`
	OrderID     string          `json:"order_id"`
	Pair        string          `json:"pair"`
	Side        string          `json:"side"`
	Price       decimal.Decimal `json:"price"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
	FilledAt    time.Time       `json:"filled_at"`
}

// ValrOrder records a conversion order fill against its deposit.
// POST /webhooks/valr/order
func (h *WebhookHandler) ValrOrder(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	exchange, created, err := h.execution.RecordFill(r.Context(), domain.FillNotice{
		DepositID:   req.DepositID,
		OrderID:     req.OrderID,
		Pair:        req.Pair,
		Side:        domain.ExchangeSide(req.Side),
		Price:       req.Price,
		BaseAmount:  req.BaseAmount,
		QuoteAmount: req.QuoteAmount,
		FilledAt:    req.FilledAt,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "record fill", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"exchange": exchange,
		"created":  created,
	})
}

type withdrawalRequest struct {
	WithdrawalID string `json:"withdrawal_id"`
	TxHash       string `json:"tx_hash"`
	Status       string `json:"status"`
}

// ValrWithdrawal applies a venue withdrawal status update.
// POST /webhooks/valr/withdrawal
func (h *WebhookHandler) ValrWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	transfer, applied, err := h.transfers.HandleWithdrawalUpdate(r.Context(), domain.WithdrawalNotice{
		WithdrawalID: req.WithdrawalID,
		TxHash:       req.TxHash,
		Status:       domain.TransferStatus(req.Status),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "apply withdrawal update", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transfer": transfer,
		"applied":  applied,
	})
}

type custodyDepositRequest struct {
	CustodyDepositID string          `json:"custody_deposit_id"`
	WithdrawalID     string          `json:"withdrawal_id"`
	Asset            string          `json:"asset"`
	Amount           decimal.Decimal `json:"amount"`
	CreditedAt       time.Time       `json:"credited_at"`
}

// CustodyDeposit confirms arrival of a transfer at the custodial wallet.
// POST /webhooks/custody/deposit
func (h *WebhookHandler) CustodyDeposit(w http.ResponseWriter, r *http.Request) {
	var req custodyDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	transfer, applied, err := h.transfers.HandleCustodyDeposit(r.Context(), domain.CustodyDepositNotice{
		CustodyDepositID: req.CustodyDepositID,
		WithdrawalID:     req.WithdrawalID,
		Asset:            req.Asset,
		Amount:           req.Amount,
		CreditedAt:       req.CreditedAt,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "apply custody deposit", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transfer": transfer,
		"applied":  applied,
	})
}
