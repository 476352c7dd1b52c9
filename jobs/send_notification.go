package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/strata-hq/strata/internal/jobs"
	"github.com/strata-hq/strata/internal/notify"
	"github.com/strata-hq/strata/internal/property"
)

// NewSendNotificationHandler returns the handler that delivers escalation
// mail to an apartment's primary residents. Letter and legal stages are
// logged for the administrator until those channels grow a delivery path.
func NewSendNotificationHandler(mailer *notify.Mailer, properties *property.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("send_notification")
		var payload SendNotificationPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}

		if payload.ActionType != "EMAIL" {
			logger.Info("escalation action recorded",
				slog.Int64("apartment_id", payload.ApartmentID),
				slog.String("action", payload.ActionType),
				slog.Int("stage", payload.StageNumber))
			return tracker.End(nil)
		}

		recipients, err := properties.PrimaryEmails(ctx, payload.ApartmentID)
		if err != nil {
			return tracker.End(err)
		}
		if len(recipients) == 0 {
			logger.Warn("no recipients for escalation mail",
				slog.Int64("apartment_id", payload.ApartmentID),
				slog.Int("stage", payload.StageNumber))
			return tracker.End(nil)
		}

		subject := fmt.Sprintf("Payment reminder: %s overdue for %d days", payload.Debt, payload.DaysOverdue)
		body := fmt.Sprintf(
			"%s\n\nOutstanding balance: %s\nDays overdue: %d\n\nPlease settle the amount or contact the building administration.",
			payload.Template, payload.Debt, payload.DaysOverdue)
		return tracker.End(mailer.Send(ctx, recipients, subject, body))
	}
}
