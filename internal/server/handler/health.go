package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler reports daemon liveness along with the running mode and
// uptime, mirroring the status frame the websocket hub sends on connect.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler for the given run mode.
func NewHealthHandler(mode string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthCheck reports that the daemon is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
