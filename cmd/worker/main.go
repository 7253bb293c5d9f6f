package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-consol/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-consol/internal/jobs"
	"github.com/odyssey-erp/odyssey-consol/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	if cfg.Offline {
		logger.Info("offline mode, skipping worker startup")
		return
	}
	if cfg.RedisAddr == "" {
		logger.Error("REDIS_ADDR is required for the worker")
		os.Exit(1)
	}

	rt, err := app.Bootstrap(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		os.Exit(1)
	}
	defer rt.Close()

	metrics := jobmetrics.NewMetrics(nil)
	var (
		consolidator jobs.Consolidator      = rt.Engine
		reconciler   jobs.BalanceReconciler = rt.Reconciler
		cron         []jobs.CronRegistration
	)
	if rt.Snapshots != nil {
		consolidator, reconciler = rt.Snapshots, rt.Snapshots
		cron, err = nightly(rt.Root)
		if err != nil {
			logger.Error("build nightly tasks", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("no durable store configured, jobs read the startup group and the nightly schedule is off")
	}
	consolidation := jobs.NewConsolidationJob(consolidator, jobs.NewRedisResults(rt.Redis, cfg.ReportTTL), logger, metrics)
	reconciliation := jobs.NewReconcileJob(reconciler, rt.Reports, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.Workers,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskConsolidationRun, Handler: consolidation.Handle},
			{Type: jobs.TaskReconcileRun, Handler: reconciliation.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// nightly schedules the consolidation of root and the reconciliation run.
func nightly(root string) ([]jobs.CronRegistration, error) {
	var cron []jobs.CronRegistration
	if root != "" {
		task, err := jobs.NewConsolidationTask(root, "", "")
		if err != nil {
			return nil, err
		}
		cron = append(cron, jobs.CronRegistration{Spec: "0 2 * * *", Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}
	task, err := jobs.NewReconcileTask("")
	if err != nil {
		return nil, err
	}
	return append(cron, jobs.CronRegistration{Spec: "30 2 * * *", Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}}), nil
}
