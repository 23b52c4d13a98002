package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/netzerhq/settler/internal/domain"
)

// expiryLockKey serializes sweeps across instances.
const expiryLockKey = "deposit-expiry"

// ExpiryService periodically marks deposits that never received a matching
// credit as expired. A Redis lock keeps concurrent instances from running
// the same sweep.
type ExpiryService struct {
	deposits domain.DepositStore
	locks    domain.LockManager
	notifier domain.Notifier
	logger   *slog.Logger

	window   time.Duration
	interval time.Duration
}

// NewExpiryService creates an ExpiryService. window is how long a deposit
// may wait in received state; interval is how often the sweep runs.
func NewExpiryService(
	deposits domain.DepositStore,
	locks domain.LockManager,
	notifier domain.Notifier,
	window, interval time.Duration,
	logger *slog.Logger,
) *ExpiryService {
	return &ExpiryService{
		deposits: deposits,
		locks:    locks,
		notifier: notifier,
		window:   window,
		interval: interval,
		logger:   logger.With(slog.String("component", "expiry")),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *ExpiryService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "expiry: sweeper started",
		slog.Duration("window", s.window),
		slog.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "expiry: sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Sweep runs one expiry pass under the distributed lock. A held lock means
// another instance is sweeping; that is not an error.
func (s *ExpiryService) Sweep(ctx context.Context) error {
	unlock, err := s.locks.Acquire(ctx, expiryLockKey, s.interval)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "expiry: sweep already running elsewhere")
			return nil
		}
		return fmt.Errorf("expiry: acquire lock: %w", err)
	}
	defer unlock()

	cutoff := time.Now().UTC().Add(-s.window)
	expired, err := s.deposits.ExpireBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("expiry: expire deposits: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	s.logger.WarnContext(ctx, "expiry: deposits expired",
		slog.Int("count", len(expired)),
		slog.Time("cutoff", cutoff),
	)

	if err := s.notifier.Notify(ctx, domain.AuditDepositExpired,
		"Deposits expired",
		fmt.Sprintf("%d deposit(s) passed the matching window without a credit", len(expired)),
	); err != nil {
		s.logger.WarnContext(ctx, "expiry: notify failed",
			slog.String("error", err.Error()),
		)
	}

	return nil
}
