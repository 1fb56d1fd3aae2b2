package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/scaffold-erp/internal/app"
	"github.com/odyssey-erp/scaffold-erp/internal/dunning"
	"github.com/odyssey-erp/scaffold-erp/internal/invoices"
	"github.com/odyssey-erp/scaffold-erp/internal/ledger"
	"github.com/odyssey-erp/scaffold-erp/internal/observability"
	"github.com/odyssey-erp/scaffold-erp/internal/payments"
	"github.com/odyssey-erp/scaffold-erp/internal/platform/cache"
	"github.com/odyssey-erp/scaffold-erp/internal/platform/db"
	"github.com/odyssey-erp/scaffold-erp/internal/platform/lock"
	"github.com/odyssey-erp/scaffold-erp/internal/settings"
	"github.com/odyssey-erp/scaffold-erp/internal/shared"
	"github.com/odyssey-erp/scaffold-erp/jobs"
)

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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	locker := lock.NewRedisLocker(redisClient, cfg.LockTTL, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	settingsRepo := settings.NewRepository(dbpool)
	resolver := settings.NewResolver(settingsRepo, redisClient, cfg.SettingsCacheTTL, logger)

	invoiceRepo := invoices.NewRepository(dbpool)

	ledgerRepo := ledger.NewRepository(dbpool)
	engine := ledger.NewEngine(ledgerRepo, locker, metrics, logger)
	ledgerService := ledger.NewService(ledgerRepo, engine, jobClient, metrics, logger)

	dunningRepo := dunning.NewRepository(dbpool)
	dunningService := dunning.NewService(dunningRepo, invoiceRepo, resolver, jobClient, metrics, logger).WithLocker(locker)

	coordinator := payments.NewCoordinator(invoiceRepo, dunningService, ledgerService, locker, metrics, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SettingsHandler: settings.NewHandler(logger, resolver),
		InvoiceHandler:  invoices.NewHandler(logger, invoiceRepo),
		PaymentsHandler: payments.NewHandler(logger, coordinator),
		DunningHandler:  dunning.NewHandler(logger, dunningService, idempotencyStore),
		LedgerHandler:   ledger.NewHandler(logger, ledgerService),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
