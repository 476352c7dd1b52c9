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

	"github.com/strata-hq/strata/internal/app"
	"github.com/strata-hq/strata/internal/billing"
	"github.com/strata-hq/strata/internal/collections"
	"github.com/strata-hq/strata/internal/documents"
	"github.com/strata-hq/strata/internal/ledger"
	"github.com/strata-hq/strata/internal/observability"
	"github.com/strata-hq/strata/internal/payments"
	"github.com/strata-hq/strata/internal/platform/cache"
	"github.com/strata-hq/strata/internal/platform/db"
	"github.com/strata-hq/strata/internal/property"
	"github.com/strata-hq/strata/internal/shared"
	"github.com/strata-hq/strata/internal/summary"
	"github.com/strata-hq/strata/jobs"
	"github.com/strata-hq/strata/report"
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
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	metrics := observability.NewMetrics()

	propertyService := property.NewService(property.NewRepository(dbpool))
	propertyHandler := property.NewHandler(logger, propertyService)

	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), auditLogger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	paymentsService := payments.NewService(payments.NewRepository(dbpool), auditLogger)
	paymentsHandler := payments.NewHandler(logger, paymentsService)

	billingService := billing.NewService(billing.NewRepository(dbpool), auditLogger)
	billingHandler := billing.NewHandler(logger, billingService)

	pdfClient := report.NewClient(cfg.GotenbergURL)
	if err := pdfClient.Ping(ctx); err != nil {
		logger.Warn("gotenberg ping", slog.Any("error", err))
	}
	documentsService := documents.NewService(documents.NewRepository(dbpool), pdfClient)
	documentsHandler := documents.NewHandler(logger, documentsService)

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
		collections.NewRepository(dbpool),
		jobs.NewEnqueueNotifier(jobClient),
		auditLogger,
		logger,
	)
	collectionsHandler := collections.NewHandler(logger, collectionsService)

	summaryService := summary.NewService(
		summary.NewRepository(dbpool),
		summary.NewCache(redisClient, cfg.SummaryCacheTTL),
	)
	summaryHandler := summary.NewHandler(logger, summaryService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Pool:               dbpool,
		PropertyHandler:    propertyHandler,
		LedgerHandler:      ledgerHandler,
		PaymentsHandler:    paymentsHandler,
		BillingHandler:     billingHandler,
		DocumentsHandler:   documentsHandler,
		CollectionsHandler: collectionsHandler,
		SummaryHandler:     summaryHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
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
