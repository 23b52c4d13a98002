package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netzerhq/settler/internal/domain"
)

// stubAudit serves a fixed event list with the same filter-then-paginate
// contract as the Postgres store.
type stubAudit struct {
	events []domain.AuditEvent
}

func (s *stubAudit) Append(_ context.Context, _, _ string, _ map[string]any) error {
	return nil
}

func (s *stubAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEvent, error) {
	return paginate(s.events, opts), nil
}

func (s *stubAudit) ListByRef(_ context.Context, refID string, opts domain.ListOpts) ([]domain.AuditEvent, error) {
	var matched []domain.AuditEvent
	for _, e := range s.events {
		if e.RefID == refID {
			matched = append(matched, e)
		}
	}
	return paginate(matched, opts), nil
}

func (s *stubAudit) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.AuditEvent, error) {
	return nil, nil
}

func paginate(events []domain.AuditEvent, opts domain.ListOpts) []domain.AuditEvent {
	if opts.Offset >= len(events) {
		return nil
	}
	events = events[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(events) {
		events = events[:opts.Limit]
	}
	return events
}

func newRecordsHandler(audit domain.AuditStore) *RecordsHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRecordsHandler(nil, nil, nil, nil, audit, logger)
}

func listAudit(t *testing.T, h *RecordsHandler, target string) []domain.AuditEvent {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ListAudit(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []domain.AuditEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Events
}

func TestListAuditFiltersBeforePagination(t *testing.T) {
	now := time.Now().UTC()
	audit := &stubAudit{events: []domain.AuditEvent{
		{ID: 3, Kind: domain.AuditFundsConfirmed, RefID: "dep-2", CreatedAt: now},
		{ID: 2, Kind: domain.AuditDepositReceived, RefID: "dep-2", CreatedAt: now},
		{ID: 1, Kind: domain.AuditDepositReceived, RefID: "dep-1", CreatedAt: now},
	}}
	h := newRecordsHandler(audit)

	// dep-1's only event sits beyond the first unfiltered page, so a
	// post-pagination filter would come back empty.
	events := listAudit(t, h, "/api/audit?ref_id=dep-1&limit=1")
	require.Len(t, events, 1)
	assert.Equal(t, "dep-1", events[0].RefID)
	assert.Equal(t, domain.AuditDepositReceived, events[0].Kind)
}

func TestListAuditUnfiltered(t *testing.T) {
	now := time.Now().UTC()
	audit := &stubAudit{events: []domain.AuditEvent{
		{ID: 2, Kind: domain.AuditDepositReceived, RefID: "dep-2", CreatedAt: now},
		{ID: 1, Kind: domain.AuditDepositReceived, RefID: "dep-1", CreatedAt: now},
	}}
	h := newRecordsHandler(audit)

	events := listAudit(t, h, "/api/audit?limit=1")
	require.Len(t, events, 1)
	assert.Equal(t, "dep-2", events[0].RefID)
}
