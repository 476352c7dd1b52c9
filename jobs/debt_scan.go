package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/strata-hq/strata/internal/collections"
	jobmetrics "github.com/strata-hq/strata/internal/jobs"
)

// NewDebtScanHandler returns the handler for the nightly escalation pass.
func NewDebtScanHandler(svc *collections.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		tracker := metrics.Track("debt_scan")
		report, err := svc.Evaluate(ctx)
		if err != nil {
			return tracker.End(err)
		}
		logger.Info("debt scan finished",
			slog.Int("debtors", report.Debtors),
			slog.Int("triggered", report.Triggered),
			slog.Int("skipped", report.Skipped),
			slog.Int("failed", report.Failed))
		return tracker.End(nil)
	}
}

// EnqueueNotifier dispatches escalation actions by enqueuing delivery tasks.
// Enqueue success is the dispatch guarantee; Asynq retries delivery.
type EnqueueNotifier struct {
	client *Client
}

// NewEnqueueNotifier constructs the notifier adapter.
func NewEnqueueNotifier(client *Client) *EnqueueNotifier {
	return &EnqueueNotifier{client: client}
}

// Dispatch implements collections.Notifier.
func (n *EnqueueNotifier) Dispatch(ctx context.Context, notification collections.Notification) error {
	_, err := n.client.EnqueueSendNotification(ctx, SendNotificationPayload{
		ApartmentID: notification.ApartmentID,
		BuildingID:  notification.BuildingID,
		StageNumber: notification.StageNumber,
		ActionType:  string(notification.ActionType),
		Template:    notification.Template,
		Debt:        notification.Debt.StringFixed(2),
		DaysOverdue: notification.DaysOverdue,
	})
	return err
}
