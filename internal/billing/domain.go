package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpenseKind distinguishes ad hoc building expenses from generated
// subscription charges.
type ExpenseKind string

const (
	KindGeneral      ExpenseKind = "GENERAL"
	KindSubscription ExpenseKind = "SUBSCRIPTION"
)

// Expense is a charge source at the building level. Immutable once billed,
// except for cancellation.
type Expense struct {
	ID          int64
	BuildingID  int64
	Kind        ExpenseKind
	Description string
	Amount      decimal.Decimal
	ExpenseDate time.Time
	Month       string
	IsBilled    bool
	IsCanceled  bool
	CreatedBy   int64
	CreatedAt   time.Time
}

// Charge is a billed line linking one apartment to one expense
// (apartment_expenses). Never deleted, only canceled; amount_paid grows
// monotonically through payment allocations and never exceeds amount.
type Charge struct {
	ID          int64
	ApartmentID int64
	ExpenseID   int64
	Amount      decimal.Decimal
	AmountPaid  decimal.Decimal
	IsCanceled  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Outstanding returns the unpaid remainder on the charge.
func (c Charge) Outstanding() decimal.Decimal {
	return c.Amount.Sub(c.AmountPaid)
}

// CreateExpenseInput carries the fields to create an expense.
type CreateExpenseInput struct {
	BuildingID  int64
	Description string
	Amount      decimal.Decimal
	ExpenseDate time.Time
	CreatedBy   int64
}

// ApartmentRef is the billing view of an apartment.
type ApartmentRef struct {
	ID                 int64
	SubscriptionAmount *decimal.Decimal
}

// ChargeInput carries the fields for one apartment_expenses row.
type ChargeInput struct {
	ApartmentID int64
	ExpenseID   int64
	Amount      decimal.Decimal
}

// SplitEvenly divides an amount across n parties at two decimal places,
// spreading leftover cents over the first parties so the parts sum exactly
// to the whole. Amounts carrying sub-cent precision are rounded to cents
// first, so the cent spreading always terminates at the rounded total.
func SplitEvenly(amount decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	amount = amount.Round(2)
	parts := make([]decimal.Decimal, n)
	base := amount.Div(decimal.NewFromInt(int64(n))).Truncate(2)
	for i := range parts {
		parts[i] = base
	}
	cent := decimal.New(1, -2)
	remainder := amount.Sub(base.Mul(decimal.NewFromInt(int64(n))))
	for i := 0; remainder.IsPositive(); i++ {
		parts[i%n] = parts[i%n].Add(cent)
		remainder = remainder.Sub(cent)
	}
	return parts
}
