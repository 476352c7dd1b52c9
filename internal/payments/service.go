package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/strata-hq/strata/internal/ledger"
	"github.com/strata-hq/strata/internal/shared"
)

// TxRepository exposes the transactional operations the allocation engine
// needs. Ledger writes happen through the ledger store bound to the same
// transaction, so a payment row, its allocations, and its ledger entry are
// committed or rolled back as one unit.
type TxRepository interface {
	LockApartment(ctx context.Context, apartmentID int64) error
	InsertPayment(ctx context.Context, in RecordPaymentInput, reference uuid.UUID) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, paymentID int64) (Payment, error)
	ListOutstandingCharges(ctx context.Context, apartmentID int64) ([]OutstandingCharge, error)
	AddToAmountPaid(ctx context.Context, chargeID int64, delta decimal.Decimal) error
	InsertAllocation(ctx context.Context, in AllocationInput) (Allocation, error)
	ListAllocations(ctx context.Context, paymentID int64) ([]Allocation, error)
	InsertLedgerEntry(ctx context.Context, in ledger.EntryInput) (ledger.Entry, error)
	MarkPaymentCanceled(ctx context.Context, paymentID int64, at time.Time) error
	RefreshCachedBalance(ctx context.Context, apartmentID int64) error
	CloseDebtEpisodeIfSettled(ctx context.Context, apartmentID int64) error
}

// RepositoryPort abstracts payment persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPayment(ctx context.Context, paymentID int64) (Payment, error)
	ListPayments(ctx context.Context, apartmentID int64, limit, offset int) ([]Payment, error)
	ListAllocations(ctx context.Context, paymentID int64) ([]Allocation, error)
}

// AuditPort records payment events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the payment allocation engine. It records incoming money and
// distributes it across outstanding charges oldest-first.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the payments service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RecordPayment inserts the payment, writes one ledger credit for the full
// amount, and allocates it across outstanding charges oldest-expense-first.
// Overpayment stays as an allocation against the ledger credit entry.
// The sum of allocations always equals the payment amount.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (Payment, []Allocation, error) {
	if !in.Amount.IsPositive() {
		return Payment{}, nil, fmt.Errorf("payments: apartment %d amount %s: %w", in.ApartmentID, in.Amount, shared.ErrInvalidAmount)
	}
	if _, err := shared.ParseMonth(in.Month); err != nil {
		return Payment{}, nil, fmt.Errorf("payments: month %q: %w", in.Month, shared.ErrValidation)
	}

	var payment Payment
	var allocations []Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockApartment(ctx, in.ApartmentID); err != nil {
			return err
		}
		inserted, err := tx.InsertPayment(ctx, in, uuid.New())
		if err != nil {
			return err
		}
		// The ledger carries the fact of money received once, in full;
		// allocations are bookkeeping distributing that fact.
		entry, err := tx.InsertLedgerEntry(ctx, ledger.EntryInput{
			ApartmentID:   in.ApartmentID,
			EntryType:     ledger.EntryCredit,
			Amount:        in.Amount,
			ReferenceType: ledger.RefPayment,
			ReferenceID:   inserted.ID,
			Description:   fmt.Sprintf("payment %s for %s", inserted.Reference, in.Month),
			CreatedBy:     in.CreatedBy,
		})
		if err != nil {
			return err
		}
		allocs, err := s.allocate(ctx, tx, inserted, entry.ID)
		if err != nil {
			return err
		}
		if err := tx.RefreshCachedBalance(ctx, in.ApartmentID); err != nil {
			return err
		}
		// A payment that settles every charge ends the apartment's debt
		// episode right away instead of waiting for the next collections scan.
		if err := tx.CloseDebtEpisodeIfSettled(ctx, in.ApartmentID); err != nil {
			return err
		}
		payment = inserted
		allocations = allocs
		return nil
	})
	if err != nil {
		return Payment{}, nil, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.CreatedBy,
			Action:   "payment.record",
			Entity:   "payment",
			EntityID: fmt.Sprintf("%d", payment.ID),
			Meta: map[string]any{
				"apartment_id": in.ApartmentID,
				"amount":       in.Amount.StringFixed(2),
				"month":        in.Month,
				"allocations":  len(allocations),
			},
			At: s.now(),
		})
	}
	return payment, allocations, nil
}

// allocate walks outstanding charges oldest-first. Ordering comes from the
// repository: expense date ascending, charge id as the stable tie-break.
func (s *Service) allocate(ctx context.Context, tx TxRepository, payment Payment, creditEntryID int64) ([]Allocation, error) {
	charges, err := tx.ListOutstandingCharges(ctx, payment.ApartmentID)
	if err != nil {
		return nil, err
	}

	remaining := payment.Amount
	var allocations []Allocation
	for _, charge := range charges {
		if !remaining.IsPositive() {
			break
		}
		outstanding := charge.Outstanding()
		if !outstanding.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, outstanding)
		if take.GreaterThan(outstanding) {
			return nil, fmt.Errorf("payments: charge %d outstanding %s take %s: %w", charge.ID, outstanding, take, shared.ErrAllocationOverflow)
		}
		if err := tx.AddToAmountPaid(ctx, charge.ID, take); err != nil {
			return nil, err
		}
		chargeID := charge.ID
		alloc, err := tx.InsertAllocation(ctx, AllocationInput{
			PaymentID:          payment.ID,
			ApartmentExpenseID: &chargeID,
			AmountAllocated:    take,
		})
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, alloc)
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		// Overpayment: the remainder stays on the books as an unallocated
		// credit referencing the payment's ledger entry.
		entryID := creditEntryID
		alloc, err := tx.InsertAllocation(ctx, AllocationInput{
			PaymentID:       payment.ID,
			LedgerEntryID:   &entryID,
			AmountAllocated: remaining,
		})
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, alloc)
	}
	return allocations, nil
}

// CancelPayment marks the payment canceled, rolls its allocations back off
// the charges, and writes a reversing debit entry. The original payment row
// and ledger entry survive untouched.
func (s *Service) CancelPayment(ctx context.Context, paymentID int64, reason string, canceledBy int64) (Payment, error) {
	if reason == "" {
		return Payment{}, fmt.Errorf("payments: cancellation reason required: %w", shared.ErrValidation)
	}
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if current.IsCanceled {
			return fmt.Errorf("payments: payment %d already canceled: %w", paymentID, shared.ErrValidation)
		}
		if err := tx.LockApartment(ctx, current.ApartmentID); err != nil {
			return err
		}
		allocations, err := tx.ListAllocations(ctx, paymentID)
		if err != nil {
			return err
		}
		for _, alloc := range allocations {
			if alloc.ApartmentExpenseID == nil {
				continue
			}
			if err := tx.AddToAmountPaid(ctx, *alloc.ApartmentExpenseID, alloc.AmountAllocated.Neg()); err != nil {
				return err
			}
		}
		now := s.now()
		if err := tx.MarkPaymentCanceled(ctx, paymentID, now); err != nil {
			return err
		}
		if _, err := tx.InsertLedgerEntry(ctx, ledger.EntryInput{
			ApartmentID:   current.ApartmentID,
			EntryType:     ledger.EntryDebit,
			Amount:        current.Amount,
			ReferenceType: ledger.RefReversal,
			ReferenceID:   paymentID,
			Description:   fmt.Sprintf("payment canceled: %s", reason),
			CreatedBy:     canceledBy,
		}); err != nil {
			return err
		}
		if err := tx.RefreshCachedBalance(ctx, current.ApartmentID); err != nil {
			return err
		}
		current.IsCanceled = true
		current.CanceledAt = &now
		payment = current
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  canceledBy,
			Action:   "payment.cancel",
			Entity:   "payment",
			EntityID: fmt.Sprintf("%d", paymentID),
			Meta:     map[string]any{"reason": reason},
			At:       s.now(),
		})
	}
	return payment, nil
}

// GetPayment returns one payment.
func (s *Service) GetPayment(ctx context.Context, paymentID int64) (Payment, error) {
	return s.repo.GetPayment(ctx, paymentID)
}

// ListPayments returns an apartment's payments, newest first.
func (s *Service) ListPayments(ctx context.Context, apartmentID int64, limit, offset int) ([]Payment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListPayments(ctx, apartmentID, limit, offset)
}

// ListAllocations returns the allocations produced for a payment.
func (s *Service) ListAllocations(ctx context.Context, paymentID int64) ([]Allocation, error) {
	return s.repo.ListAllocations(ctx, paymentID)
}
