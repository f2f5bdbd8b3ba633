package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/loomhub/loomhub/internal/app"
	jobmetrics "github.com/loomhub/loomhub/internal/jobs"
	platformdb "github.com/loomhub/loomhub/internal/platform/db"
	"github.com/loomhub/loomhub/internal/session"
	"github.com/loomhub/loomhub/jobs"
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

	pool, err := platformdb.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	sessionStore := session.NewPGStore(pool)
	metrics := jobmetrics.NewMetrics(nil)
	cleanupHandler := jobs.NewSessionsCleanupHandler(sessionStore, metrics, logger)

	cleanupTask, err := jobs.NewSessionsCleanupTask(time.Now().UTC())
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSessionsCleanup, Handler: cleanupHandler},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	// Kick off one cleanup right away so a long-stopped worker does not wait
	// until the next cron tick to drain expired sessions.
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	if _, err := client.EnqueueSessionsCleanup(ctx); err != nil {
		logger.Warn("enqueue startup cleanup", slog.Any("error", err))
	}
	if err := client.Close(); err != nil {
		logger.Warn("close job client", slog.Any("error", err))
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
