package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckReportsModeAndUptime(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHealthHandler("daemon", logger)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status        string `json:"status"`
		Mode          string `json:"mode"`
		UptimeSeconds int64  `json:"uptime_seconds"`
		Timestamp     string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "daemon", body.Mode)
	assert.GreaterOrEqual(t, body.UptimeSeconds, int64(0))
	assert.NotEmpty(t, body.Timestamp)
}
