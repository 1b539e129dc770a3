package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/ledger/accounts"
	"github.com/meridian-erp/meridian-erp/internal/ledger/currencies"
	"github.com/meridian-erp/meridian-erp/internal/ledger/fiscal"
	"github.com/meridian-erp/meridian-erp/internal/ledger/journals"
	"github.com/meridian-erp/meridian-erp/internal/numbering"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/payments"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

// sweepQueue adapts the jobs client to the payments handler port.
type sweepQueue struct {
	client *jobs.Client
}

func (q sweepQueue) EnqueueReconcile(ctx context.Context, tenantID int64, kind string) error {
	_, err := q.client.EnqueueInvoiceReconcile(ctx, jobs.InvoiceReconcilePayload{TenantID: tenantID, Kind: kind})
	return err
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, close locks degrade to db row locks", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	metrics := observability.NewMetrics()
	auditLog := shared.NewAuditLogger(pool)
	numbers := numbering.NewPGSource(pool)

	var locker fiscal.LockPort
	if redisClient != nil {
		locker = shared.NewLocker(redisClient, 30*time.Second)
	}

	accountsSvc := accounts.NewService(accounts.NewRepository(pool))
	currenciesSvc := currencies.NewService(currencies.NewRepository(pool))
	fiscalSvc := fiscal.NewService(fiscal.NewRepository(pool), auditLog, locker).WithMetrics(metrics)
	journalsSvc := journals.NewService(journals.NewRepository(pool), numbers, auditLog, metrics)
	paymentsSvc := payments.NewService(payments.NewRepository(pool), numbers, auditLog, metrics).
		WithPolicy(payments.AllocationPolicy(cfg.AllocationPolicy))

	paymentsHandler := payments.NewHandler(logger, paymentsSvc)
	var jobsHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		jobsHandler = jobs.NewHandler(inspector, logger)

		jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Warn("jobs client unavailable", slog.Any("error", err))
		} else {
			defer func() { _ = jobsClient.Close() }()
			paymentsHandler.WithSweeps(sweepQueue{client: jobsClient})
		}
	}

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AccountsHandler:   accounts.NewHandler(logger, accountsSvc),
		CurrenciesHandler: currencies.NewHandler(logger, currenciesSvc),
		FiscalHandler:     fiscal.NewHandler(logger, fiscalSvc),
		JournalsHandler:   journals.NewHandler(logger, journalsSvc),
		PaymentsHandler:   paymentsHandler,
		JobsHandler:       jobsHandler,
		Pool:              pool,
		Metrics:           metrics,
	})

	server := app.Server(cfg, router)

	go func() {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}
