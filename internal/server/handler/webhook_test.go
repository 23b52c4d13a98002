package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzerhq/settler/internal/domain"
)

type stubIntake struct {
	deposit domain.Deposit
	created bool
	err     error
	got     domain.DepositNotice
}

func (s *stubIntake) RecordDeposit(_ context.Context, n domain.DepositNotice) (domain.Deposit, bool, error) {
	s.got = n
	return s.deposit, s.created, s.err
}

type stubTransfers struct {
	transfer domain.Transfer
	applied  bool
	err      error
}

func (s *stubTransfers) HandleWithdrawalUpdate(_ context.Context, _ domain.WithdrawalNotice) (domain.Transfer, bool, error) {
	return s.transfer, s.applied, s.err
}

func (s *stubTransfers) HandleCustodyDeposit(_ context.Context, _ domain.CustodyDepositNotice) (domain.Transfer, bool, error) {
	return s.transfer, s.applied, s.err
}

func newTestHandler(intake IntakeService, transfers TransferService) *WebhookHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWebhookHandler(intake, nil, nil, transfers, logger)
}

func TestStitchDepositCreated(t *testing.T) {
	intake := &stubIntake{
		deposit: domain.Deposit{ID: "d-1", Status: domain.DepositStatusReceived},
		created: true,
	}
	h := newTestHandler(intake, nil)

	body := `{"client_id":"c1","amount":"1000.00","external_tx_id":"tx-1"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stitch", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.StitchDeposit(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "c1", intake.got.ClientID)
	assert.True(t, intake.got.Amount.Equal(decimal.RequireFromString("1000.00")))
	assert.Contains(t, rec.Body.String(), `"created":true`)
}

func TestStitchDepositReplayReturns200(t *testing.T) {
	intake := &stubIntake{
		deposit: domain.Deposit{ID: "d-1", Status: domain.DepositStatusReceived},
		created: false,
	}
	h := newTestHandler(intake, nil)

	body := `{"client_id":"c1","amount":"1000.00","external_tx_id":"tx-1"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stitch", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.StitchDeposit(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"created":false`)
}

func TestStitchDepositBadJSON(t *testing.T) {
	h := newTestHandler(&stubIntake{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stitch", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()

	h.StitchDeposit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDomainErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.ErrValidation, http.StatusBadRequest},
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"conflict", domain.ErrConflict, http.StatusConflict},
		{"invalid state", domain.ErrInvalidState, http.StatusConflict},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
		{"upstream", domain.ErrUpstream, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intake := &stubIntake{err: tc.err}
			h := newTestHandler(intake, nil)

			body := `{"client_id":"c1","amount":"1000.00","external_tx_id":"tx-1"}`
			req := httptest.NewRequest(http.MethodPost, "/webhooks/stitch", strings.NewReader(body))
			rec := httptest.NewRecorder()

			h.StitchDeposit(rec, req)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestValrWithdrawalAppliesUpdate(t *testing.T) {
	transfers := &stubTransfers{
		transfer: domain.Transfer{ID: "t-1", WithdrawalID: "wd-1", Status: domain.TransferStatusBroadcast},
		applied:  true,
	}
	h := newTestHandler(nil, transfers)

	body := `{"withdrawal_id":"wd-1","tx_hash":"0xabc"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/valr/withdrawal", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ValrWithdrawal(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"applied":true`)
}

func TestCustodyDepositNoOpReplay(t *testing.T) {
	transfers := &stubTransfers{
		transfer: domain.Transfer{ID: "t-1", Status: domain.TransferStatusCompleted},
		applied:  false,
	}
	h := newTestHandler(nil, transfers)

	body := `{"withdrawal_id":"wd-1","custody_deposit_id":"cd-1"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/custody/deposit", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.CustodyDeposit(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"applied":false`)
}
