package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/netzerhq/settler/internal/domain"
	"github.com/netzerhq/settler/internal/server"
	"github.com/netzerhq/settler/internal/server/handler"
	"github.com/netzerhq/settler/internal/server/ws"
	"github.com/netzerhq/settler/internal/service"
)

// archiveLockKey serializes cold-archive runs across instances.
const archiveLockKey = "history-archive"

// services bundles the wired settlement services.
type services struct {
	intake    *service.IntakeService
	reconcile *service.ReconcileService
	execution *service.ExecutionService
	transfer  *service.TransferService
	expiry    *service.ExpiryService
}

// buildServices wires the settlement pipeline. When venue is false the
// services run webhook-driven: matched credits wait for fill webhooks and
// fills wait for withdrawal webhooks instead of calling the exchange.
func (a *App) buildServices(deps *Dependencies, venue bool) (*services, error) {
	tolerance, err := a.cfg.Settlement.ToleranceDecimal()
	if err != nil {
		return nil, fmt.Errorf("app: parse tolerance: %w", err)
	}

	var initiator domain.WithdrawalInitiator
	var executor domain.OrderExecutor
	if venue && deps.Valr != nil {
		initiator = deps.Valr
		executor = deps.Valr
	}

	transferSvc := service.NewTransferService(
		deps.TransferStore, initiator, deps.AuditStore, deps.SignalBus, deps.Notifier,
		a.cfg.Valr.Asset, a.cfg.Valr.Chain, a.cfg.Valr.CustodyAddress,
		a.logger,
	)

	var withdrawer service.WithdrawalStarter
	if initiator != nil {
		withdrawer = transferSvc
	}
	executionSvc := service.NewExecutionService(
		deps.ExchangeStore, withdrawer, deps.AuditStore, deps.SignalBus, a.logger,
	)

	reconcileSvc := service.NewReconcileService(
		deps.DepositStore, executor, executionSvc, deps.AuditStore,
		deps.SignalBus, deps.Notifier, a.cfg.Valr.Pair, tolerance, a.logger,
	)

	intakeSvc := service.NewIntakeService(deps.DepositStore, deps.AuditStore, deps.SignalBus, a.logger)

	expirySvc := service.NewExpiryService(
		deps.DepositStore, deps.LockManager, deps.Notifier,
		a.cfg.Settlement.ExpiryWindow.Duration,
		a.cfg.Settlement.ExpiryInterval.Duration,
		a.logger,
	)

	return &services{
		intake:    intakeSvc,
		reconcile: reconcileSvc,
		execution: executionSvc,
		transfer:  transferSvc,
		expiry:    expirySvc,
	}, nil
}

// ServeMode runs the daemon webhook-driven: the HTTP API ingests all five
// notification kinds but no venue calls are made. Used for deployments where
// order placement and withdrawals are operated externally.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	return a.run(ctx, deps, false)
}

// FullMode runs the complete settlement chain: matched credits are converted
// through the exchange and withdrawn to custody automatically.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.run(ctx, deps, true)
}

func (a *App) run(ctx context.Context, deps *Dependencies, venue bool) error {
	svcs, err := a.buildServices(deps, venue)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// Expiry sweeper.
	g.Go(func() error {
		return svcs.expiry.Run(ctx)
	})

	// Cold archive loop.
	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps)
		})
	}

	// HTTP + WebSocket server.
	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
		g.Go(func() error {
			err := hub.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})

		handlers := server.Handlers{
			Health: handler.NewHealthHandler(a.cfg.Mode, a.logger),
			Webhooks: handler.NewWebhookHandler(
				svcs.intake, svcs.reconcile, svcs.execution, svcs.transfer, a.logger,
			),
			Records: handler.NewRecordsHandler(
				deps.DepositStore, deps.CreditStore, deps.ExchangeStore,
				deps.TransferStore, deps.AuditStore, a.logger,
			),
		}
		if deps.Valr != nil {
			handlers.Balances = handler.NewBalanceHandler(deps.Valr, a.logger)
		}

		srv := server.NewServer(server.Config{
			Port:             a.cfg.Server.Port,
			CORSOrigins:      a.cfg.Server.CORSOrigins,
			APIKey:           a.cfg.Server.ApiKey,
			WebhookRateLimit: a.cfg.Settlement.WebhookRateLimit,
		}, handlers, hub, deps.RateLimiter, a.logger)

		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// runArchiver periodically moves aged audit events and completed transfers
// to object storage, serialized across instances via the distributed lock.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Settlement.ArchiveInterval.Duration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.InfoContext(ctx, "archiver started",
		slog.Duration("interval", interval),
		slog.Duration("archive_after", a.cfg.Settlement.ArchiveAfter.Duration),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.archiveOnce(ctx, deps); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) error {
	unlock, err := deps.LockManager.Acquire(ctx, archiveLockKey, a.cfg.Settlement.ArchiveInterval.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.DebugContext(ctx, "archive already running elsewhere")
			return nil
		}
		return fmt.Errorf("archive: acquire lock: %w", err)
	}
	defer unlock()

	cutoff := time.Now().UTC().Add(-a.cfg.Settlement.ArchiveAfter.Duration)

	audited, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive audit events: %w", err)
	}
	transferred, err := deps.Archiver.ArchiveTransfers(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive transfers: %w", err)
	}

	if audited > 0 || transferred > 0 {
		a.logger.InfoContext(ctx, "archive run complete",
			slog.Int64("audit_events", audited),
			slog.Int64("transfers", transferred),
			slog.Time("cutoff", cutoff),
		)
	}
	return nil
}
