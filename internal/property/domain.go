package property

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApartmentStatus controls whether an apartment participates in billing.
type ApartmentStatus string

const (
	StatusActive   ApartmentStatus = "ACTIVE"
	StatusInactive ApartmentStatus = "INACTIVE"
)

// Valid reports whether the status is known.
func (s ApartmentStatus) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Building groups apartments under one administration.
type Building struct {
	ID        int64
	Name      string
	Address   string
	CreatedAt time.Time
}

// Apartment is the unit every charge, payment and ledger entry hangs off.
// CachedBalance mirrors the ledger entry history and is maintained by the
// ledger package.
type Apartment struct {
	ID                 int64
	BuildingID         int64
	Number             string
	Floor              int
	Status             ApartmentStatus
	SubscriptionAmount *decimal.Decimal
	CachedBalance      decimal.Decimal
	CreatedAt          time.Time
}

// Resident lives in or owns an apartment. Primary residents receive the
// escalation mail.
type Resident struct {
	ID          int64
	ApartmentID int64
	Name        string
	Email       string
	Phone       string
	IsPrimary   bool
	CreatedAt   time.Time
}

// BuildingInput carries building create/update fields.
type BuildingInput struct {
	Name    string
	Address string
}

// ApartmentInput carries apartment create/update fields.
type ApartmentInput struct {
	BuildingID         int64
	Number             string
	Floor              int
	SubscriptionAmount *decimal.Decimal
}

// ResidentInput carries resident create/update fields.
type ResidentInput struct {
	ApartmentID int64
	Name        string
	Email       string
	Phone       string
	IsPrimary   bool
}
