package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/strata-hq/strata/internal/ledger"
	"github.com/strata-hq/strata/internal/platform/db"
	"github.com/strata-hq/strata/internal/shared"
)

// Repository persists payments and allocations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("payments repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, ledger: ledger.NewTxStore(tx)})
	})
}

// GetPayment retrieves one payment by id.
func (r *Repository) GetPayment(ctx context.Context, paymentID int64) (Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, paymentSelectSQL+` WHERE id = $1`, paymentID), paymentID)
}

// ListPayments returns an apartment's payments, newest first.
func (r *Repository) ListPayments(ctx context.Context, apartmentID int64, limit, offset int) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, paymentSelectSQL+` WHERE apartment_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`, apartmentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		var canceledAt *time.Time
		if err := rows.Scan(&p.ID, &p.ApartmentID, &p.Reference, &p.Amount, &p.Month, &p.Method, &p.Note, &p.IsCanceled, &canceledAt, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CanceledAt = canceledAt
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListAllocations returns the allocations for a payment.
func (r *Repository) ListAllocations(ctx context.Context, paymentID int64) ([]Allocation, error) {
	return listAllocations(ctx, r.pool, paymentID)
}

const paymentSelectSQL = `
	SELECT id, apartment_id, reference, amount, month, method, note, is_canceled, canceled_at, created_by, created_at
	FROM payments`

type queryRower interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listAllocations(ctx context.Context, q queryRower, paymentID int64) ([]Allocation, error) {
	rows, err := q.Query(ctx, `
		SELECT id, payment_id, apartment_expense_id, ledger_entry_id, amount_allocated, created_at
		FROM payment_allocations
		WHERE payment_id = $1
		ORDER BY id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var allocations []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.ApartmentExpenseID, &a.LedgerEntryID, &a.AmountAllocated, &a.CreatedAt); err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func scanPayment(row pgx.Row, paymentID int64) (Payment, error) {
	var p Payment
	var canceledAt *time.Time
	err := row.Scan(&p.ID, &p.ApartmentID, &p.Reference, &p.Amount, &p.Month, &p.Method, &p.Note, &p.IsCanceled, &canceledAt, &p.CreatedBy, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return Payment{}, fmt.Errorf("payments: payment %d: %w", paymentID, shared.ErrNotFound)
	}
	if err != nil {
		return Payment{}, err
	}
	p.CanceledAt = canceledAt
	return p, nil
}

type txRepository struct {
	tx     pgx.Tx
	ledger *ledger.TxStore
}

func (r *txRepository) LockApartment(ctx context.Context, apartmentID int64) error {
	_, err := r.ledger.LockApartment(ctx, apartmentID)
	return err
}

func (r *txRepository) InsertPayment(ctx context.Context, in RecordPaymentInput, reference uuid.UUID) (Payment, error) {
	row := r.tx.QueryRow(ctx, `
		INSERT INTO payments (apartment_id, reference, amount, month, method, note, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		in.ApartmentID, reference, in.Amount, in.Month, in.Method, in.Note, in.CreatedBy)
	p := Payment{
		ApartmentID: in.ApartmentID,
		Reference:   reference,
		Amount:      in.Amount,
		Month:       in.Month,
		Method:      in.Method,
		Note:        in.Note,
		CreatedBy:   in.CreatedBy,
	}
	if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (r *txRepository) GetPaymentForUpdate(ctx context.Context, paymentID int64) (Payment, error) {
	return scanPayment(r.tx.QueryRow(ctx, paymentSelectSQL+` WHERE id = $1 FOR UPDATE`, paymentID), paymentID)
}

// ListOutstandingCharges orders oldest expense first with the charge id as a
// stable tie-break, and locks the rows so concurrent allocators serialize.
func (r *txRepository) ListOutstandingCharges(ctx context.Context, apartmentID int64) ([]OutstandingCharge, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT ae.id, ae.expense_id, e.expense_date, e.description, ae.amount, ae.amount_paid
		FROM apartment_expenses ae
		JOIN expenses e ON e.id = ae.expense_id
		WHERE ae.apartment_id = $1
		  AND NOT ae.is_canceled
		  AND ae.amount_paid < ae.amount
		ORDER BY e.expense_date, ae.id
		FOR UPDATE OF ae`, apartmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var charges []OutstandingCharge
	for rows.Next() {
		var c OutstandingCharge
		if err := rows.Scan(&c.ID, &c.ExpenseID, &c.ExpenseDate, &c.Description, &c.Amount, &c.AmountPaid); err != nil {
			return nil, err
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

// AddToAmountPaid bumps amount_paid, refusing any update that would leave it
// negative or above the charge amount.
func (r *txRepository) AddToAmountPaid(ctx context.Context, chargeID int64, delta decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE apartment_expenses
		SET amount_paid = amount_paid + $2, updated_at = NOW()
		WHERE id = $1
		  AND amount_paid + $2 >= 0
		  AND amount_paid + $2 <= amount`, chargeID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payments: charge %d delta %s: %w", chargeID, delta, shared.ErrAllocationOverflow)
	}
	return nil
}

func (r *txRepository) InsertAllocation(ctx context.Context, in AllocationInput) (Allocation, error) {
	row := r.tx.QueryRow(ctx, `
		INSERT INTO payment_allocations (payment_id, apartment_expense_id, ledger_entry_id, amount_allocated)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		in.PaymentID, in.ApartmentExpenseID, in.LedgerEntryID, in.AmountAllocated)
	a := Allocation{
		PaymentID:          in.PaymentID,
		ApartmentExpenseID: in.ApartmentExpenseID,
		LedgerEntryID:      in.LedgerEntryID,
		AmountAllocated:    in.AmountAllocated,
	}
	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		return Allocation{}, err
	}
	return a, nil
}

func (r *txRepository) ListAllocations(ctx context.Context, paymentID int64) ([]Allocation, error) {
	return listAllocations(ctx, r.tx, paymentID)
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, in ledger.EntryInput) (ledger.Entry, error) {
	return r.ledger.InsertEntry(ctx, in)
}

func (r *txRepository) MarkPaymentCanceled(ctx context.Context, paymentID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE payments SET is_canceled = TRUE, canceled_at = $2 WHERE id = $1 AND NOT is_canceled`, paymentID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payments: payment %d: %w", paymentID, shared.ErrNotFound)
	}
	return nil
}

// CloseDebtEpisodeIfSettled stamps the apartment's open debt episode closed
// once no outstanding charge remains. A no-op when charges are still open or
// no episode exists.
func (r *txRepository) CloseDebtEpisodeIfSettled(ctx context.Context, apartmentID int64) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE debt_episodes
		SET closed_on = CURRENT_DATE
		WHERE apartment_id = $1
		  AND closed_on IS NULL
		  AND NOT EXISTS (
			SELECT 1
			FROM apartment_expenses ae
			WHERE ae.apartment_id = $1
			  AND NOT ae.is_canceled
			  AND ae.amount_paid < ae.amount)`, apartmentID)
	return err
}

func (r *txRepository) RefreshCachedBalance(ctx context.Context, apartmentID int64) error {
	balance, err := r.ledger.SumBalance(ctx, apartmentID)
	if err != nil {
		return err
	}
	return r.ledger.UpdateCachedBalance(ctx, apartmentID, balance)
}
