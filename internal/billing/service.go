package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/strata-hq/strata/internal/ledger"
	"github.com/strata-hq/strata/internal/shared"
)

// TxRepository exposes transactional billing operations. Ledger writes go
// through the ledger store bound to the same transaction.
type TxRepository interface {
	LockApartment(ctx context.Context, apartmentID int64) error
	GetExpenseForUpdate(ctx context.Context, expenseID int64) (Expense, error)
	InsertExpense(ctx context.Context, in Expense) (Expense, error)
	MarkExpenseBilled(ctx context.Context, expenseID int64) error
	ListActiveApartments(ctx context.Context, buildingID int64) ([]ApartmentRef, error)
	InsertCharge(ctx context.Context, in ChargeInput) (Charge, error)
	GetChargeForUpdate(ctx context.Context, chargeID int64) (Charge, error)
	MarkChargeCanceled(ctx context.Context, chargeID int64) error
	AddToAmountPaid(ctx context.Context, chargeID int64, delta decimal.Decimal) error
	SubscriptionExpenseExists(ctx context.Context, buildingID int64, month string) (bool, error)
	ListBuildingIDs(ctx context.Context) ([]int64, error)
	InsertLedgerEntry(ctx context.Context, in ledger.EntryInput) (ledger.Entry, error)
	RefreshCachedBalance(ctx context.Context, apartmentID int64) error
}

// RepositoryPort abstracts billing persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetExpense(ctx context.Context, expenseID int64) (Expense, error)
	ListExpenses(ctx context.Context, buildingID int64, limit, offset int) ([]Expense, error)
	ListCharges(ctx context.Context, apartmentID int64) ([]Charge, error)
}

// AuditPort records billing events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service bills building expenses onto apartments and manages charge
// lifecycle (cancellation, waiver, occupancy credits).
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the billing service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateExpense records a building-level expense, not yet billed.
func (s *Service) CreateExpense(ctx context.Context, in CreateExpenseInput) (Expense, error) {
	if !in.Amount.IsPositive() {
		return Expense{}, fmt.Errorf("billing: expense amount %s: %w", in.Amount, shared.ErrInvalidAmount)
	}
	if in.Description == "" {
		return Expense{}, fmt.Errorf("billing: expense description required: %w", shared.ErrValidation)
	}
	expenseDate := in.ExpenseDate
	if expenseDate.IsZero() {
		expenseDate = s.now()
	}
	var expense Expense
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := tx.InsertExpense(ctx, Expense{
			BuildingID:  in.BuildingID,
			Kind:        KindGeneral,
			Description: in.Description,
			Amount:      in.Amount,
			ExpenseDate: expenseDate,
			CreatedBy:   in.CreatedBy,
		})
		if err != nil {
			return err
		}
		expense = inserted
		return nil
	})
	return expense, err
}

// BillExpense splits an expense across the building's active apartments,
// writing one charge line and one ledger debit per apartment. The expense
// row lock guarantees an expense is billed at most once.
func (s *Service) BillExpense(ctx context.Context, expenseID, billedBy int64) ([]Charge, error) {
	var charges []Charge
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		expense, err := tx.GetExpenseForUpdate(ctx, expenseID)
		if err != nil {
			return err
		}
		if expense.IsCanceled {
			return fmt.Errorf("billing: expense %d is canceled: %w", expenseID, shared.ErrValidation)
		}
		if expense.IsBilled {
			return fmt.Errorf("billing: expense %d already billed: %w", expenseID, shared.ErrValidation)
		}
		apartments, err := tx.ListActiveApartments(ctx, expense.BuildingID)
		if err != nil {
			return err
		}
		if len(apartments) == 0 {
			return fmt.Errorf("billing: building %d has no active apartments: %w", expense.BuildingID, shared.ErrValidation)
		}
		shares := SplitEvenly(expense.Amount, len(apartments))
		for i, apt := range apartments {
			if err := s.chargeApartment(ctx, tx, apt.ID, expense, shares[i], billedBy, &charges); err != nil {
				return err
			}
		}
		return tx.MarkExpenseBilled(ctx, expenseID)
	})
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  billedBy,
			Action:   "expense.bill",
			Entity:   "expense",
			EntityID: fmt.Sprintf("%d", expenseID),
			Meta:     map[string]any{"charges": len(charges)},
			At:       s.now(),
		})
	}
	return charges, nil
}

func (s *Service) chargeApartment(ctx context.Context, tx TxRepository, apartmentID int64, expense Expense, amount decimal.Decimal, billedBy int64, out *[]Charge) error {
	if !amount.IsPositive() {
		return nil
	}
	if err := tx.LockApartment(ctx, apartmentID); err != nil {
		return err
	}
	charge, err := tx.InsertCharge(ctx, ChargeInput{
		ApartmentID: apartmentID,
		ExpenseID:   expense.ID,
		Amount:      amount,
	})
	if err != nil {
		return err
	}
	refType := ledger.RefExpense
	if expense.Kind == KindSubscription {
		refType = ledger.RefSubscription
	}
	if _, err := tx.InsertLedgerEntry(ctx, ledger.EntryInput{
		ApartmentID:   apartmentID,
		EntryType:     ledger.EntryDebit,
		Amount:        amount,
		ReferenceType: refType,
		ReferenceID:   expense.ID,
		Description:   expense.Description,
		CreatedBy:     billedBy,
	}); err != nil {
		return err
	}
	if err := tx.RefreshCachedBalance(ctx, apartmentID); err != nil {
		return err
	}
	*out = append(*out, charge)
	return nil
}

// BillSubscriptions charges every apartment carrying a subscription amount
// for the given month. Idempotent per (building, month): a building whose
// subscription expense for the month already exists is skipped.
func (s *Service) BillSubscriptions(ctx context.Context, month string, billedBy int64) (int, error) {
	monthStart, err := shared.ParseMonth(month)
	if err != nil {
		return 0, fmt.Errorf("billing: month %q: %w", month, shared.ErrValidation)
	}
	var billed int
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		buildingIDs, err := tx.ListBuildingIDs(ctx)
		if err != nil {
			return err
		}
		for _, buildingID := range buildingIDs {
			exists, err := tx.SubscriptionExpenseExists(ctx, buildingID, month)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			apartments, err := tx.ListActiveApartments(ctx, buildingID)
			if err != nil {
				return err
			}
			total := decimal.Zero
			var subscribers []ApartmentRef
			for _, apt := range apartments {
				if apt.SubscriptionAmount != nil && apt.SubscriptionAmount.IsPositive() {
					subscribers = append(subscribers, apt)
					total = total.Add(*apt.SubscriptionAmount)
				}
			}
			if len(subscribers) == 0 {
				continue
			}
			expense, err := tx.InsertExpense(ctx, Expense{
				BuildingID:  buildingID,
				Kind:        KindSubscription,
				Description: fmt.Sprintf("subscription %s", month),
				Amount:      total,
				ExpenseDate: monthStart,
				Month:       month,
				CreatedBy:   billedBy,
			})
			if err != nil {
				return err
			}
			var charges []Charge
			for _, apt := range subscribers {
				if err := s.chargeApartment(ctx, tx, apt.ID, expense, *apt.SubscriptionAmount, billedBy, &charges); err != nil {
					return err
				}
			}
			if err := tx.MarkExpenseBilled(ctx, expense.ID); err != nil {
				return err
			}
			billed += len(charges)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return billed, nil
}

// CancelCharge marks the charge canceled and credits back the unpaid
// remainder so the ledger stays consistent. Paid portions stay settled.
func (s *Service) CancelCharge(ctx context.Context, chargeID int64, reason string, canceledBy int64) error {
	if reason == "" {
		return fmt.Errorf("billing: cancellation reason required: %w", shared.ErrValidation)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		charge, err := tx.GetChargeForUpdate(ctx, chargeID)
		if err != nil {
			return err
		}
		if charge.IsCanceled {
			return fmt.Errorf("billing: charge %d already canceled: %w", chargeID, shared.ErrValidation)
		}
		if err := tx.LockApartment(ctx, charge.ApartmentID); err != nil {
			return err
		}
		if err := tx.MarkChargeCanceled(ctx, chargeID); err != nil {
			return err
		}
		outstanding := charge.Outstanding()
		if outstanding.IsPositive() {
			if _, err := tx.InsertLedgerEntry(ctx, ledger.EntryInput{
				ApartmentID:   charge.ApartmentID,
				EntryType:     ledger.EntryCredit,
				Amount:        outstanding,
				ReferenceType: ledger.RefReversal,
				ReferenceID:   chargeID,
				Description:   fmt.Sprintf("charge canceled: %s", reason),
				CreatedBy:     canceledBy,
			}); err != nil {
				return err
			}
		}
		return tx.RefreshCachedBalance(ctx, charge.ApartmentID)
	})
}

// WaiveCharge forgives part or all of a charge's unpaid remainder: the
// waived portion is marked satisfied on the charge and credited on the
// ledger with a waiver reference.
func (s *Service) WaiveCharge(ctx context.Context, chargeID int64, amount decimal.Decimal, reason string, waivedBy int64) error {
	if !amount.IsPositive() {
		return fmt.Errorf("billing: waiver amount %s: %w", amount, shared.ErrInvalidAmount)
	}
	if reason == "" {
		return fmt.Errorf("billing: waiver reason required: %w", shared.ErrValidation)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		charge, err := tx.GetChargeForUpdate(ctx, chargeID)
		if err != nil {
			return err
		}
		if charge.IsCanceled {
			return fmt.Errorf("billing: charge %d is canceled: %w", chargeID, shared.ErrValidation)
		}
		if amount.GreaterThan(charge.Outstanding()) {
			return fmt.Errorf("billing: waiver %s exceeds outstanding %s: %w", amount, charge.Outstanding(), shared.ErrAllocationOverflow)
		}
		if err := tx.LockApartment(ctx, charge.ApartmentID); err != nil {
			return err
		}
		if err := tx.AddToAmountPaid(ctx, chargeID, amount); err != nil {
			return err
		}
		if _, err := tx.InsertLedgerEntry(ctx, ledger.EntryInput{
			ApartmentID:   charge.ApartmentID,
			EntryType:     ledger.EntryCredit,
			Amount:        amount,
			ReferenceType: ledger.RefWaiver,
			ReferenceID:   chargeID,
			Description:   fmt.Sprintf("waiver: %s", reason),
			CreatedBy:     waivedBy,
		}); err != nil {
			return err
		}
		return tx.RefreshCachedBalance(ctx, charge.ApartmentID)
	})
}

// GrantOccupancyCredit credits an apartment outside any charge, e.g. for a
// vacancy period agreed with the administration.
func (s *Service) GrantOccupancyCredit(ctx context.Context, apartmentID int64, amount decimal.Decimal, description string, grantedBy int64) error {
	if !amount.IsPositive() {
		return fmt.Errorf("billing: occupancy credit %s: %w", amount, shared.ErrInvalidAmount)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockApartment(ctx, apartmentID); err != nil {
			return err
		}
		if _, err := tx.InsertLedgerEntry(ctx, ledger.EntryInput{
			ApartmentID:   apartmentID,
			EntryType:     ledger.EntryCredit,
			Amount:        amount,
			ReferenceType: ledger.RefOccupancyCredit,
			ReferenceID:   apartmentID,
			Description:   description,
			CreatedBy:     grantedBy,
		}); err != nil {
			return err
		}
		return tx.RefreshCachedBalance(ctx, apartmentID)
	})
}

// GetExpense returns one expense.
func (s *Service) GetExpense(ctx context.Context, expenseID int64) (Expense, error) {
	return s.repo.GetExpense(ctx, expenseID)
}

// ListExpenses returns a building's expenses, newest first.
func (s *Service) ListExpenses(ctx context.Context, buildingID int64, limit, offset int) ([]Expense, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListExpenses(ctx, buildingID, limit, offset)
}

// ListCharges returns an apartment's charge lines.
func (s *Service) ListCharges(ctx context.Context, apartmentID int64) ([]Charge, error) {
	return s.repo.ListCharges(ctx, apartmentID)
}
