package collections

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActionType names the dispatch channel for an escalation stage.
type ActionType string

const (
	ActionEmail  ActionType = "EMAIL"
	ActionLetter ActionType = "LETTER"
	ActionLegal  ActionType = "LEGAL"
)

// Valid reports whether the action type is known.
func (a ActionType) Valid() bool {
	switch a {
	case ActionEmail, ActionLetter, ActionLegal:
		return true
	}
	return false
}

// Stage is one rung of the escalation ladder. Stages fire in ascending
// days_overdue order once an apartment's debt has aged past the threshold.
type Stage struct {
	ID          int64
	StageNumber int
	DaysOverdue int
	ActionType  ActionType
	Template    string
	IsActive    bool
	CreatedAt   time.Time
}

// Debtor is an apartment with positive outstanding debt. OldestChargeOn is
// the expense date of the oldest outstanding charge; it seeds the start of
// a newly opened episode but never re-keys one already open, so paying off
// the oldest charge mid-episode cannot re-arm a stage.
type Debtor struct {
	ApartmentID    int64
	BuildingID     int64
	Debt           decimal.Decimal
	OldestChargeOn time.Time
}

// Log records one triggered stage. The (apartment, stage, episode) key
// keeps a stage from firing twice within the same overdue episode.
type Log struct {
	ID               int64
	ApartmentID      int64
	StageNumber      int
	EpisodeStartedOn time.Time
	TriggeredAt      time.Time
}

// Notification is the dispatch payload handed to the Notifier port.
type Notification struct {
	ApartmentID int64
	BuildingID  int64
	StageNumber int
	ActionType  ActionType
	Template    string
	Debt        decimal.Decimal
	DaysOverdue int
}

// StageInput carries stage create/update fields.
type StageInput struct {
	StageNumber int
	DaysOverdue int
	ActionType  ActionType
	Template    string
	IsActive    bool
}

// Report summarises one evaluation pass.
type Report struct {
	Debtors   int
	Triggered int
	Skipped   int
	Failed    int
}
