package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies the direction of a ledger entry.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// Opposite returns the reversing entry type.
func (t EntryType) Opposite() EntryType {
	if t == EntryDebit {
		return EntryCredit
	}
	return EntryDebit
}

// Valid reports whether the entry type is one of the known values.
func (t EntryType) Valid() bool {
	return t == EntryDebit || t == EntryCredit
}

// ReferenceType names the record an entry originates from.
type ReferenceType string

const (
	RefPayment         ReferenceType = "PAYMENT"
	RefExpense         ReferenceType = "EXPENSE"
	RefSubscription    ReferenceType = "SUBSCRIPTION"
	RefWaiver          ReferenceType = "WAIVER"
	RefOccupancyCredit ReferenceType = "OCCUPANCY_CREDIT"
	RefReversal        ReferenceType = "REVERSAL"
)

// Entry is the immutable unit of truth for apartment money movements.
// Entries are only ever appended; corrections are additive reversals.
type Entry struct {
	ID            int64
	ApartmentID   int64
	EntryType     EntryType
	Amount        decimal.Decimal
	ReferenceType ReferenceType
	ReferenceID   int64
	Description   string
	CreatedBy     int64
	CreatedAt     time.Time
}

// EntryInput carries the fields required to append an entry.
type EntryInput struct {
	ApartmentID   int64
	EntryType     EntryType
	Amount        decimal.Decimal
	ReferenceType ReferenceType
	ReferenceID   int64
	Description   string
	CreatedBy     int64
}

// ReconcileReport summarises a reconciliation sweep.
type ReconcileReport struct {
	Apartments int
	Drifted    int
	Errors     int
}
