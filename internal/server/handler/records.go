package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/netzerhq/settler/internal/domain"
)

// RecordsHandler serves read endpoints over the settlement records: deposits,
// exchanges, transfers, unmatched credits and the audit trail.
type RecordsHandler struct {
	deposits  domain.DepositStore
	credits   domain.CreditStore
	exchanges domain.ExchangeStore
	transfers domain.TransferStore
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewRecordsHandler creates a RecordsHandler over the given stores.
func NewRecordsHandler(
	deposits domain.DepositStore,
	credits domain.CreditStore,
	exchanges domain.ExchangeStore,
	transfers domain.TransferStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *RecordsHandler {
	return &RecordsHandler{
		deposits:  deposits,
		credits:   credits,
		exchanges: exchanges,
		transfers: transfers,
		audit:     audit,
		logger:    logger,
	}
}

// ListDeposits returns fiat deposits, newest first.
// GET /api/deposits?limit=50&offset=0&since=...&until=...
func (h *RecordsHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := h.deposits.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list deposits", err)
		return
	}
	if deposits == nil {
		deposits = []domain.Deposit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposits": deposits})
}

// GetDeposit returns one deposit by id.
// GET /api/deposits/{id}
func (h *RecordsHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing deposit id")
		return
	}

	deposit, err := h.deposits.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, deposit)
}

// GetDepositSettlement returns a deposit together with its exchange and
// transfer legs, so one call shows how far a settlement has progressed.
// GET /api/deposits/{id}/settlement
func (h *RecordsHandler) GetDepositSettlement(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing deposit id")
		return
	}
	ctx := r.Context()

	deposit, err := h.deposits.GetByID(ctx, id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get deposit", err)
		return
	}

	out := map[string]any{"deposit": deposit}

	exchange, err := h.exchanges.GetByDepositID(ctx, id)
	if err == nil {
		out["exchange"] = exchange
		if transfer, terr := h.transferForExchange(ctx, exchange.ID); terr == nil {
			out["transfer"] = transfer
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *RecordsHandler) transferForExchange(ctx context.Context, exchangeID string) (domain.Transfer, error) {
	transfers, err := h.transfers.List(ctx, domain.ListOpts{Limit: 500})
	if err != nil {
		return domain.Transfer{}, err
	}
	for _, t := range transfers {
		if t.ExchangeID == exchangeID {
			return t, nil
		}
	}
	return domain.Transfer{}, domain.ErrNotFound
}

// ListExchanges returns recorded conversion fills.
// GET /api/exchanges
func (h *RecordsHandler) ListExchanges(w http.ResponseWriter, r *http.Request) {
	exchanges, err := h.exchanges.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list exchanges", err)
		return
	}
	if exchanges == nil {
		exchanges = []domain.Exchange{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchanges": exchanges})
}

// ListTransfers returns custodial transfers.
// GET /api/transfers
func (h *RecordsHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.transfers.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list transfers", err)
		return
	}
	if transfers == nil {
		transfers = []domain.Transfer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

// ListUnmatchedCredits returns fiat credits that never found a deposit; the
// manual reconciliation queue.
// GET /api/credits/unmatched
func (h *RecordsHandler) ListUnmatchedCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.credits.ListUnmatched(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list unmatched credits", err)
		return
	}
	if credits == nil {
		credits = []domain.FiatCredit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": credits})
}

// ListAudit returns the append-only settlement history, newest first. An
// optional ref_id query narrows the trail to one record.
// GET /api/audit?ref_id=...
func (h *RecordsHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var events []domain.AuditEvent
	var err error
	if ref := r.URL.Query().Get("ref_id"); ref != "" {
		events, err = h.audit.ListByRef(r.Context(), ref, opts)
	} else {
		events, err = h.audit.List(r.Context(), opts)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "list audit events", err)
		return
	}
	if events == nil {
		events = []domain.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
