package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment is a cash receipt event for an apartment in a billing month.
// Immutable once recorded; cancellation is paired with a ledger reversal.
type Payment struct {
	ID          int64
	ApartmentID int64
	Reference   uuid.UUID
	Amount      decimal.Decimal
	Month       string
	Method      string
	Note        string
	IsCanceled  bool
	CanceledAt  *time.Time
	CreatedBy   int64
	CreatedAt   time.Time
}

// Allocation records that part of a payment was applied to a specific
// charge, or parked as an unallocated credit against a ledger entry.
// Exactly one of ApartmentExpenseID / LedgerEntryID is set.
type Allocation struct {
	ID                 int64
	PaymentID          int64
	ApartmentExpenseID *int64
	LedgerEntryID      *int64
	AmountAllocated    decimal.Decimal
	CreatedAt          time.Time
}

// OutstandingCharge is the allocation engine's view of an unpaid
// apartment expense line.
type OutstandingCharge struct {
	ID          int64
	ExpenseID   int64
	ExpenseDate time.Time
	Description string
	Amount      decimal.Decimal
	AmountPaid  decimal.Decimal
}

// Outstanding returns the unpaid remainder on the charge.
func (c OutstandingCharge) Outstanding() decimal.Decimal {
	return c.Amount.Sub(c.AmountPaid)
}

// RecordPaymentInput carries the fields required to record a payment.
type RecordPaymentInput struct {
	ApartmentID int64
	Amount      decimal.Decimal
	Month       string
	Method      string
	Note        string
	CreatedBy   int64
}

// AllocationInput carries the fields for one allocation row.
type AllocationInput struct {
	PaymentID          int64
	ApartmentExpenseID *int64
	LedgerEntryID      *int64
	AmountAllocated    decimal.Decimal
}
