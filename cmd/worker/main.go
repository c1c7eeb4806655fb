package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/meridian-hms/meridian/internal/admissions"
	"github.com/meridian-hms/meridian/internal/app"
	"github.com/meridian-hms/meridian/internal/billing"
	jobmetrics "github.com/meridian-hms/meridian/internal/jobs"
	"github.com/meridian-hms/meridian/internal/platform/cache"
	"github.com/meridian-hms/meridian/internal/platform/db"
	"github.com/meridian-hms/meridian/internal/shared"
	"github.com/meridian-hms/meridian/jobs"
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
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	mealRate, err := decimal.NewFromString(cfg.DailyMealRate)
	if err != nil {
		logger.Error("parse DAILY_MEAL_RATE", slog.Any("error", err))
		os.Exit(1)
	}

	admissionRepo := admissions.NewRepository(pool)
	auditLogger := shared.NewAuditLogger(pool)
	balanceCache := billing.NewCache(redisClient, cfg.BalanceCacheTTL)
	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billingRepo, admissionRepo, auditLogger, balanceCache, mealRate)

	dailyChargesJob := &jobs.DailyChargesJob{
		Source:  admissionRepo,
		Poster:  billingService,
		Logger:  logger,
		Metrics: jobmetrics.NewMetrics(nil),
	}

	// The cron task carries no date; the handler charges the day it runs.
	// A specific day comes in only through the manual trigger endpoint.
	dailyTask, err := jobs.NewDailyChargesCronTask()
	if err != nil {
		logger.Error("build daily charges task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeDailyCharges, Handler: dailyChargesJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RoomChargeCron, Task: dailyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
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
