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

	"github.com/odyssey-erp/odyssey-consol/internal/app"
	consolhttp "github.com/odyssey-erp/odyssey-consol/internal/consol/http"
	"github.com/odyssey-erp/odyssey-consol/internal/observability"
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
	metrics := observability.NewMetrics()

	rt, err := app.Bootstrap(ctx, cfg, logger, metrics.Registerer())
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		os.Exit(1)
	}
	defer rt.Close()

	consolHandler, err := consolhttp.NewHandler(consolhttp.Deps{
		Logger:      logger,
		Graph:       rt.Graph,
		Ledger:      rt.Ledger,
		Financials:  rt.Financials,
		Engine:      rt.Engine,
		Reconciler:  rt.Reconciler,
		Reports:     rt.Reports,
		Store:       rt.GroupStore(),
		Registerer:  metrics.Registerer(),
		Currency:    rt.Currency,
		CacheTTL:    cfg.CacheTTL,
		ExportLimit: cfg.ExportLimit,
	})
	if err != nil {
		logger.Error("init consol handler", slog.Any("error", err))
		os.Exit(1)
	}

	var jobHandler *jobs.Handler
	if rt.Redis != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("close inspector", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, jobs.NewRedisResults(rt.Redis, cfg.ReportTTL), logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		ConsolHandler: consolHandler,
		JobHandler:    jobHandler,
		Metrics:       metrics,
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
