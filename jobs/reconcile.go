package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/strata-hq/strata/internal/jobs"
	"github.com/strata-hq/strata/internal/ledger"
)

const reconcileConcurrency = 8

// NewReconcileHandler returns the handler for the nightly balance sweep.
func NewReconcileHandler(svc *ledger.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		tracker := metrics.Track("reconcile_balances")
		report, err := svc.ReconcileAll(ctx, reconcileConcurrency)
		if err != nil {
			return tracker.End(err)
		}
		metrics.AddDrift(report.Drifted)
		logger.Info("reconciliation finished",
			slog.Int("apartments", report.Apartments),
			slog.Int("drifted", report.Drifted),
			slog.Int("errors", report.Errors))
		if report.Errors > 0 {
			return tracker.End(fmt.Errorf("reconcile: %d apartments failed", report.Errors))
		}
		return tracker.End(nil)
	}
}
