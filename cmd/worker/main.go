package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/awecode/awecount-sub001/internal/app"
	jobmetrics "github.com/awecode/awecount-sub001/internal/jobs"
	"github.com/awecode/awecount-sub001/internal/platform/cache"
	"github.com/awecode/awecount-sub001/internal/platform/db"
	"github.com/awecode/awecount-sub001/internal/shared"
	"github.com/awecode/awecount-sub001/internal/store/postgres"
	"github.com/awecode/awecount-sub001/internal/voucher"
	"github.com/awecode/awecount-sub001/jobs"
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
	if cfg.StoreDriver != app.StorePostgres {
		logger.Error("worker requires the postgres store", slog.String("store", cfg.StoreDriver))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	service := voucher.NewService(postgres.New(pool), shared.NewAuditLogger(pool), logger, nil, voucher.ServiceConfig{
		AllowNegativeStock:   cfg.FIFOAllowNegativeStock,
		ReconcileConcurrency: cfg.FIFOReconcileConcurrency,
	})
	locker := cache.NewLocker(redisClient, cfg.FIFOReconcileLockTTL)
	reconcileJob := jobs.NewFIFOReconcileJob(service, locker, logger, jobmetrics.NewMetrics(nil))

	cron := make([]jobs.CronRegistration, 0, len(cfg.FIFOReconcileCompanies))
	for _, companyID := range cfg.FIFOReconcileCompanies {
		task, err := jobs.NewFIFOReconcileTask(jobs.FIFOReconcilePayload{CompanyID: companyID})
		if err != nil {
			logger.Error("build reconcile task", slog.Int64("company_id", companyID), slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.FIFOReconcileCron, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.JobsConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskFIFOReconcile, Handler: reconcileJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting", slog.Int("scheduled_companies", len(cron)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
