package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault carries scheduled scans and reconciliation sweeps.
	QueueDefault = "default"
	// QueueNotify carries outbound notification deliveries. Kept separate
	// so a slow mail server cannot starve the scans.
	QueueNotify = "notify"
	// TaskTypeSendNotification delivers one escalation notification.
	TaskTypeSendNotification = "notify:send"
	// TaskTypeDebtScan runs an escalation pass over every debtor.
	TaskTypeDebtScan = "collections:scan"
	// TaskTypeReconcile recomputes cached balances from the ledger.
	TaskTypeReconcile = "ledger:reconcile"
)

// SendNotificationPayload describes one escalation delivery.
type SendNotificationPayload struct {
	ApartmentID int64  `json:"apartment_id"`
	BuildingID  int64  `json:"building_id"`
	StageNumber int    `json:"stage_number"`
	ActionType  string `json:"action_type"`
	Template    string `json:"template"`
	Debt        string `json:"debt"`
	DaysOverdue int    `json:"days_overdue"`
}

// NewSendNotificationTask constructs an Asynq task.
func NewSendNotificationTask(payload SendNotificationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendNotification, data), nil
}

// NewDebtScanTask constructs the cron debt-scan task.
func NewDebtScanTask() *asynq.Task {
	return asynq.NewTask(TaskTypeDebtScan, nil)
}

// NewReconcileTask constructs the cron reconciliation task.
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskTypeReconcile, nil)
}
