package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/strata-hq/strata/internal/app"
	"github.com/strata-hq/strata/internal/collections"
	jobmetrics "github.com/strata-hq/strata/internal/jobs"
	"github.com/strata-hq/strata/internal/ledger"
	"github.com/strata-hq/strata/internal/notify"
	"github.com/strata-hq/strata/internal/platform/db"
	"github.com/strata-hq/strata/internal/property"
	"github.com/strata-hq/strata/internal/shared"
	"github.com/strata-hq/strata/jobs"
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

	metrics := jobmetrics.NewMetrics(nil)
	auditLogger := shared.NewAuditLogger(pool)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	collectionsService := collections.NewService(
		collections.NewRepository(pool),
		jobs.NewEnqueueNotifier(jobClient),
		auditLogger,
		logger,
	)
	ledgerService := ledger.NewService(ledger.NewRepository(pool), auditLogger)
	propertyService := property.NewService(property.NewRepository(pool))
	mailer := notify.NewMailer(notify.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	}, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeDebtScan, Handler: jobs.NewDebtScanHandler(collectionsService, metrics, logger)},
			{Type: jobs.TaskTypeReconcile, Handler: jobs.NewReconcileHandler(ledgerService, metrics, logger)},
			{Type: jobs.TaskTypeSendNotification, Handler: jobs.NewSendNotificationHandler(mailer, propertyService, metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DebtScanCron, Task: jobs.NewDebtScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.ReconcileCron, Task: jobs.NewReconcileTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
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
