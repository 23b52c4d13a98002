package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/netzerhq/settler/internal/domain"
)

// archiveBatchLimit caps how many rows one archive pass reads.
const archiveBatchLimit = 10000

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// settlement history, serializing it to JSONL, and uploading the result to
// S3.
//
// Archiving copies rows; it never deletes them from the primary store. Audit
// rows in particular are append-only.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	transfers domain.TransferStore
	audit     domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, transfers domain.TransferStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		transfers: transfers,
		audit:     audit,
	}
}

// ArchiveAudit uploads audit events older than the cutoff to
// archive/audit/YYYY-MM.jsonl and records the pass in the audit log.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.audit.ListBefore(ctx, before, archiveBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		a.auditFailure(ctx, path, "audit", err)
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(events))

	if err := a.audit.Append(ctx, domain.AuditArchiveWritten, path, map[string]any{
		"kind":   "audit",
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return count, nil
}

// ArchiveTransfers uploads completed transfers older than the cutoff to
// archive/transfers/YYYY-MM.jsonl and records the pass in the audit log.
func (a *ArchiveImpl) ArchiveTransfers(ctx context.Context, before time.Time) (int64, error) {
	transfers, err := a.transfers.ListCompletedBefore(ctx, before, archiveBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers query: %w", err)
	}
	if len(transfers) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(transfers)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers marshal: %w", err)
	}

	path := archivePath("transfers", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		a.auditFailure(ctx, path, "transfers", err)
		return 0, fmt.Errorf("s3blob: archive transfers upload: %w", err)
	}

	count := int64(len(transfers))

	if err := a.audit.Append(ctx, domain.AuditArchiveWritten, path, map[string]any{
		"kind":   "transfers",
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive transfers log: %w", err)
	}

	return count, nil
}

// auditFailure records a failed upload in the audit log. The upload error is
// returned to the caller regardless, so an audit write failure here is not
// propagated.
func (a *ArchiveImpl) auditFailure(ctx context.Context, path, kind string, cause error) {
	_ = a.audit.Append(ctx, domain.AuditArchiveFailed, path, map[string]any{
		"kind":  kind,
		"error": cause.Error(),
	})
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/audit/2026-01.jsonl
//	archive/transfers/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
