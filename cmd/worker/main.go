package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/scaffold-erp/internal/app"
	"github.com/odyssey-erp/scaffold-erp/internal/dunning"
	"github.com/odyssey-erp/scaffold-erp/internal/invoices"
	jobmetrics "github.com/odyssey-erp/scaffold-erp/internal/jobs"
	"github.com/odyssey-erp/scaffold-erp/internal/ledger"
	"github.com/odyssey-erp/scaffold-erp/internal/observability"
	"github.com/odyssey-erp/scaffold-erp/internal/platform/cache"
	"github.com/odyssey-erp/scaffold-erp/internal/platform/db"
	"github.com/odyssey-erp/scaffold-erp/internal/platform/lock"
	"github.com/odyssey-erp/scaffold-erp/internal/settings"
	"github.com/odyssey-erp/scaffold-erp/internal/shared"
	"github.com/odyssey-erp/scaffold-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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
	jobMetrics := jobmetrics.NewMetrics(nil)
	locker := lock.NewRedisLocker(redisClient, cfg.LockTTL, logger)

	// Worker-side recomputes do not reschedule themselves; asynq retries the task.
	ledgerRepo := ledger.NewRepository(pool)
	engine := ledger.NewEngine(ledgerRepo, locker, metrics, logger)
	ledgerService := ledger.NewService(ledgerRepo, engine, nil, metrics, logger)

	resolver := settings.NewResolver(settings.NewRepository(pool), redisClient, cfg.SettingsCacheTTL, logger)
	dunningService := dunning.NewService(dunning.NewRepository(pool), invoices.NewRepository(pool), resolver, nil, metrics, logger).WithLocker(locker)

	recomputeJob := jobs.NewLedgerRecomputeJob(ledgerService, logger, jobMetrics)
	deliverJob := jobs.NewDunningDeliverJob(jobs.LogMailer{Logger: logger}, logger, jobMetrics)
	overdueJob := jobs.NewOverdueScanJob(dunningService, logger, jobMetrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, jobMetrics)

	var cron []jobs.CronRegistration
	if cfg.OverdueScanCron != "" {
		overdueTask, err := jobs.NewOverdueScanTask(cfg.OverdueScanGraceDay)
		if err != nil {
			logger.Error("build overdue scan task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.OverdueScanCron, Task: overdueTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}
	if cfg.IdempotencyCleanupCron != "" {
		cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
		if err != nil {
			logger.Error("build idempotency cleanup task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerRecompute, Handler: recomputeJob.Handle},
			{Type: jobs.TaskDunningDeliver, Handler: deliverJob.Handle},
			{Type: jobs.TaskDunningOverdueScan, Handler: overdueJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
