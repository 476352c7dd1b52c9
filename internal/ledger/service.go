package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/strata-hq/strata/internal/shared"
)

// TxRepository exposes transactional ledger operations. All mutations for a
// single apartment run behind its row lock so concurrent writers serialize.
type TxRepository interface {
	LockApartment(ctx context.Context, apartmentID int64) (decimal.Decimal, error)
	InsertEntry(ctx context.Context, in EntryInput) (Entry, error)
	SumBalance(ctx context.Context, apartmentID int64) (decimal.Decimal, error)
	UpdateCachedBalance(ctx context.Context, apartmentID int64, balance decimal.Decimal) error
}

// RepositoryPort abstracts ledger persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Balance(ctx context.Context, apartmentID int64) (decimal.Decimal, error)
	ListEntries(ctx context.Context, apartmentID int64, limit, offset int) ([]Entry, error)
	ListApartmentIDs(ctx context.Context) ([]int64, error)
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the append-only ledger store. It owns LedgerEntry creation and
// the cached balance refresh; the cache is never authoritative.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RecordEntry appends one immutable entry and refreshes the cached balance
// within the same transaction.
func (s *Service) RecordEntry(ctx context.Context, in EntryInput) (Entry, error) {
	if !in.Amount.IsPositive() {
		return Entry{}, fmt.Errorf("ledger: apartment %d amount %s: %w", in.ApartmentID, in.Amount, shared.ErrInvalidAmount)
	}
	if !in.EntryType.Valid() {
		return Entry{}, fmt.Errorf("ledger: entry type %q: %w", in.EntryType, shared.ErrValidation)
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockApartment(ctx, in.ApartmentID); err != nil {
			return err
		}
		inserted, err := tx.InsertEntry(ctx, in)
		if err != nil {
			return err
		}
		balance, err := tx.SumBalance(ctx, in.ApartmentID)
		if err != nil {
			return err
		}
		if err := tx.UpdateCachedBalance(ctx, in.ApartmentID, balance); err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.CreatedBy,
			Action:   "ledger.record",
			Entity:   "ledger_entry",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"apartment_id":   in.ApartmentID,
				"entry_type":     string(in.EntryType),
				"amount":         in.Amount.StringFixed(2),
				"reference_type": string(in.ReferenceType),
				"reference_id":   in.ReferenceID,
			},
			At: s.now(),
		})
	}
	return entry, nil
}

// RecordPayment appends a credit entry for money received.
func (s *Service) RecordPayment(ctx context.Context, apartmentID, paymentID int64, amount decimal.Decimal, createdBy int64) (Entry, error) {
	return s.RecordEntry(ctx, EntryInput{
		ApartmentID:   apartmentID,
		EntryType:     EntryCredit,
		Amount:        amount,
		ReferenceType: RefPayment,
		ReferenceID:   paymentID,
		Description:   "payment received",
		CreatedBy:     createdBy,
	})
}

// RecordExpenseCharge appends a debit entry for a billed expense.
func (s *Service) RecordExpenseCharge(ctx context.Context, apartmentID, expenseID int64, amount decimal.Decimal, description string, createdBy int64) (Entry, error) {
	return s.RecordEntry(ctx, EntryInput{
		ApartmentID:   apartmentID,
		EntryType:     EntryDebit,
		Amount:        amount,
		ReferenceType: RefExpense,
		ReferenceID:   expenseID,
		Description:   description,
		CreatedBy:     createdBy,
	})
}

// RecordReversal appends an entry of the opposite type to the original,
// an additive correction that never edits history.
func (s *Service) RecordReversal(ctx context.Context, apartmentID, referenceID int64, amount decimal.Decimal, originalType EntryType, description string, createdBy int64) (Entry, error) {
	if !originalType.Valid() {
		return Entry{}, fmt.Errorf("ledger: original entry type %q: %w", originalType, shared.ErrValidation)
	}
	return s.RecordEntry(ctx, EntryInput{
		ApartmentID:   apartmentID,
		EntryType:     originalType.Opposite(),
		Amount:        amount,
		ReferenceType: RefReversal,
		ReferenceID:   referenceID,
		Description:   description,
		CreatedBy:     createdBy,
	})
}

// GetBalance computes the authoritative balance from the full entry history.
func (s *Service) GetBalance(ctx context.Context, apartmentID int64) (decimal.Decimal, error) {
	return s.repo.Balance(ctx, apartmentID)
}

// ListEntries returns the apartment's statement, newest first.
func (s *Service) ListEntries(ctx context.Context, apartmentID int64, limit, offset int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListEntries(ctx, apartmentID, limit, offset)
}

// RefreshCachedBalance recomputes the balance from history and persists it
// onto the apartment row. Idempotent.
func (s *Service) RefreshCachedBalance(ctx context.Context, apartmentID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockApartment(ctx, apartmentID); err != nil {
			return err
		}
		computed, err := tx.SumBalance(ctx, apartmentID)
		if err != nil {
			return err
		}
		if err := tx.UpdateCachedBalance(ctx, apartmentID, computed); err != nil {
			return err
		}
		balance = computed
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// ReconcileAll sweeps every apartment, rewriting cached balances that have
// drifted from the entry history. Apartments are independent so the sweep
// fans out with bounded parallelism.
func (s *Service) ReconcileAll(ctx context.Context, concurrency int) (ReconcileReport, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	ids, err := s.repo.ListApartmentIDs(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{Apartments: len(ids)}
	var drifted, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		apartmentID := id
		g.Go(func() error {
			changed, err := s.reconcileOne(gctx, apartmentID)
			if err != nil {
				failed.Add(1)
				return nil
			}
			if changed {
				drifted.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	report.Drifted = int(drifted.Load())
	report.Errors = int(failed.Load())
	return report, nil
}

func (s *Service) reconcileOne(ctx context.Context, apartmentID int64) (bool, error) {
	var changed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cached, err := tx.LockApartment(ctx, apartmentID)
		if err != nil {
			return err
		}
		computed, err := tx.SumBalance(ctx, apartmentID)
		if err != nil {
			return err
		}
		if cached.Equal(computed) {
			return nil
		}
		changed = true
		return tx.UpdateCachedBalance(ctx, apartmentID, computed)
	})
	return changed, err
}
