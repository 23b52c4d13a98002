package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/netzerhq/settler/internal/domain"
)

// isRejection reports whether err is one of the domain rejection sentinels,
// as opposed to an infrastructure failure.
func isRejection(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrNotFound)
}

// auditRejection records a rejected operation so the settlement history
// stays complete even for failures. The guarded transaction a rejection came
// out of has already rolled back, so the row is written standalone. refID is
// empty for structurally invalid input that references no entity.
func auditRejection(ctx context.Context, audit domain.AuditStore, logger *slog.Logger, kind, refID string, cause error) {
	if err := audit.Append(ctx, kind, refID, map[string]any{
		"error": cause.Error(),
	}); err != nil {
		logger.WarnContext(ctx, "audit rejection failed",
			slog.String("kind", kind),
			slog.String("ref_id", refID),
			slog.String("error", err.Error()),
		)
	}
}
