package handler

import (
	"log/slog"
	"net/http"

	"github.com/netzerhq/settler/internal/domain"
)

// BalanceHandler exposes venue account balances for operator dashboards.
type BalanceHandler struct {
	balances domain.BalanceReader
	logger   *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler.
func NewBalanceHandler(balances domain.BalanceReader, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{balances: balances, logger: logger}
}

// ListBalances returns the venue account balances.
// GET /api/valr/balances
func (h *BalanceHandler) ListBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.balances.Balances(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list balances", err)
		return
	}
	if balances == nil {
		balances = []domain.AssetBalance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": balances})
}
