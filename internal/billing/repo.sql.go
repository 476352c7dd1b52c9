package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/strata-hq/strata/internal/ledger"
	"github.com/strata-hq/strata/internal/platform/db"
	"github.com/strata-hq/strata/internal/shared"
)

// Repository persists expenses and charges in PostgreSQL.
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
		return errors.New("billing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, ledger: ledger.NewTxStore(tx)})
	})
}

const expenseSelectSQL = `
	SELECT id, building_id, kind, description, amount, expense_date, COALESCE(month, ''), is_billed, is_canceled, created_by, created_at
	FROM expenses`

// GetExpense retrieves one expense by id.
func (r *Repository) GetExpense(ctx context.Context, expenseID int64) (Expense, error) {
	return scanExpense(r.pool.QueryRow(ctx, expenseSelectSQL+` WHERE id = $1`, expenseID), expenseID)
}

// ListExpenses returns a building's expenses, newest first.
func (r *Repository) ListExpenses(ctx context.Context, buildingID int64, limit, offset int) ([]Expense, error) {
	rows, err := r.pool.Query(ctx, expenseSelectSQL+` WHERE building_id = $1 ORDER BY expense_date DESC, id DESC LIMIT $2 OFFSET $3`, buildingID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var expenses []Expense
	for rows.Next() {
		var e Expense
		if err := rows.Scan(&e.ID, &e.BuildingID, &e.Kind, &e.Description, &e.Amount, &e.ExpenseDate, &e.Month, &e.IsBilled, &e.IsCanceled, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// ListCharges returns an apartment's charge lines.
func (r *Repository) ListCharges(ctx context.Context, apartmentID int64) ([]Charge, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, apartment_id, expense_id, amount, amount_paid, is_canceled, created_at, updated_at
		FROM apartment_expenses
		WHERE apartment_id = $1
		ORDER BY id`, apartmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var charges []Charge
	for rows.Next() {
		var c Charge
		if err := rows.Scan(&c.ID, &c.ApartmentID, &c.ExpenseID, &c.Amount, &c.AmountPaid, &c.IsCanceled, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

func scanExpense(row pgx.Row, expenseID int64) (Expense, error) {
	var e Expense
	err := row.Scan(&e.ID, &e.BuildingID, &e.Kind, &e.Description, &e.Amount, &e.ExpenseDate, &e.Month, &e.IsBilled, &e.IsCanceled, &e.CreatedBy, &e.CreatedAt)
	if err == pgx.ErrNoRows {
		return Expense{}, fmt.Errorf("billing: expense %d: %w", expenseID, shared.ErrNotFound)
	}
	if err != nil {
		return Expense{}, err
	}
	return e, nil
}

type txRepository struct {
	tx     pgx.Tx
	ledger *ledger.TxStore
}

func (r *txRepository) LockApartment(ctx context.Context, apartmentID int64) error {
	_, err := r.ledger.LockApartment(ctx, apartmentID)
	return err
}

func (r *txRepository) GetExpenseForUpdate(ctx context.Context, expenseID int64) (Expense, error) {
	return scanExpense(r.tx.QueryRow(ctx, expenseSelectSQL+` WHERE id = $1 FOR UPDATE`, expenseID), expenseID)
}

func (r *txRepository) InsertExpense(ctx context.Context, in Expense) (Expense, error) {
	var month any
	if in.Month != "" {
		month = in.Month
	}
	row := r.tx.QueryRow(ctx, `
		INSERT INTO expenses (building_id, kind, description, amount, expense_date, month, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		in.BuildingID, in.Kind, in.Description, in.Amount, in.ExpenseDate, month, in.CreatedBy)
	out := in
	if err := row.Scan(&out.ID, &out.CreatedAt); err != nil {
		return Expense{}, err
	}
	return out, nil
}

func (r *txRepository) MarkExpenseBilled(ctx context.Context, expenseID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE expenses SET is_billed = TRUE WHERE id = $1 AND NOT is_billed`, expenseID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("billing: expense %d: %w", expenseID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) ListActiveApartments(ctx context.Context, buildingID int64) ([]ApartmentRef, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, subscription_amount
		FROM apartments
		WHERE building_id = $1 AND status = 'ACTIVE'
		ORDER BY id`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var apartments []ApartmentRef
	for rows.Next() {
		var a ApartmentRef
		var sub *decimal.Decimal
		if err := rows.Scan(&a.ID, &sub); err != nil {
			return nil, err
		}
		a.SubscriptionAmount = sub
		apartments = append(apartments, a)
	}
	return apartments, rows.Err()
}

func (r *txRepository) InsertCharge(ctx context.Context, in ChargeInput) (Charge, error) {
	row := r.tx.QueryRow(ctx, `
		INSERT INTO apartment_expenses (apartment_id, expense_id, amount, amount_paid)
		VALUES ($1, $2, $3, 0)
		RETURNING id, amount_paid, is_canceled, created_at, updated_at`,
		in.ApartmentID, in.ExpenseID, in.Amount)
	c := Charge{ApartmentID: in.ApartmentID, ExpenseID: in.ExpenseID, Amount: in.Amount}
	if err := row.Scan(&c.ID, &c.AmountPaid, &c.IsCanceled, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Charge{}, err
	}
	return c, nil
}

func (r *txRepository) GetChargeForUpdate(ctx context.Context, chargeID int64) (Charge, error) {
	var c Charge
	err := r.tx.QueryRow(ctx, `
		SELECT id, apartment_id, expense_id, amount, amount_paid, is_canceled, created_at, updated_at
		FROM apartment_expenses
		WHERE id = $1
		FOR UPDATE`, chargeID).Scan(&c.ID, &c.ApartmentID, &c.ExpenseID, &c.Amount, &c.AmountPaid, &c.IsCanceled, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return Charge{}, fmt.Errorf("billing: charge %d: %w", chargeID, shared.ErrNotFound)
	}
	if err != nil {
		return Charge{}, err
	}
	return c, nil
}

func (r *txRepository) MarkChargeCanceled(ctx context.Context, chargeID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE apartment_expenses SET is_canceled = TRUE, updated_at = NOW() WHERE id = $1 AND NOT is_canceled`, chargeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("billing: charge %d: %w", chargeID, shared.ErrNotFound)
	}
	return nil
}

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
		return fmt.Errorf("billing: charge %d delta %s: %w", chargeID, delta, shared.ErrAllocationOverflow)
	}
	return nil
}

func (r *txRepository) SubscriptionExpenseExists(ctx context.Context, buildingID int64, month string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM expenses
			WHERE building_id = $1 AND kind = 'SUBSCRIPTION' AND month = $2 AND NOT is_canceled
		)`, buildingID, month).Scan(&exists)
	return exists, err
}

func (r *txRepository) ListBuildingIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT id FROM buildings ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, in ledger.EntryInput) (ledger.Entry, error) {
	return r.ledger.InsertEntry(ctx, in)
}

func (r *txRepository) RefreshCachedBalance(ctx context.Context, apartmentID int64) error {
	balance, err := r.ledger.SumBalance(ctx, apartmentID)
	if err != nil {
		return err
	}
	return r.ledger.UpdateCachedBalance(ctx, apartmentID, balance)
}
