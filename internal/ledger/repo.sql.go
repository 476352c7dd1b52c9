package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/strata-hq/strata/internal/platform/db"
	"github.com/strata-hq/strata/internal/shared"
)

// Repository persists ledger entries in PostgreSQL.
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
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// Balance computes the authoritative balance outside any caller transaction.
func (r *Repository) Balance(ctx context.Context, apartmentID int64) (decimal.Decimal, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM apartments WHERE id = $1)`, apartmentID).Scan(&exists); err != nil {
		return decimal.Zero, err
	}
	if !exists {
		return decimal.Zero, fmt.Errorf("ledger: apartment %d: %w", apartmentID, shared.ErrNotFound)
	}
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, sumBalanceSQL, apartmentID).Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// ListEntries returns entries for an apartment, newest first.
func (r *Repository) ListEntries(ctx context.Context, apartmentID int64, limit, offset int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, apartment_id, entry_type, amount, reference_type, reference_id, description, created_by, created_at
		FROM ledger_entries
		WHERE apartment_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`, apartmentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ApartmentID, &e.EntryType, &e.Amount, &e.ReferenceType, &e.ReferenceID, &e.Description, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListApartmentIDs returns every apartment id for the reconciliation sweep.
func (r *Repository) ListApartmentIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM apartments ORDER BY id`)
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

const sumBalanceSQL = `
	SELECT COALESCE(SUM(CASE WHEN entry_type = 'CREDIT' THEN amount ELSE -amount END), 0)
	FROM ledger_entries
	WHERE apartment_id = $1`

// TxStore is the ledger API bound to an open transaction. Other modules that
// must write ledger entries atomically with their own rows go through this;
// ledger_entries is never written anywhere else.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// LockApartment takes the apartment's row lock, serializing concurrent
// writers, and returns the currently cached balance.
func (s *TxStore) LockApartment(ctx context.Context, apartmentID int64) (decimal.Decimal, error) {
	var cached decimal.Decimal
	err := s.tx.QueryRow(ctx, `SELECT cached_balance FROM apartments WHERE id = $1 FOR UPDATE`, apartmentID).Scan(&cached)
	if err == pgx.ErrNoRows {
		return decimal.Zero, fmt.Errorf("ledger: apartment %d: %w", apartmentID, shared.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return cached, nil
}

// InsertEntry appends one immutable entry.
func (s *TxStore) InsertEntry(ctx context.Context, in EntryInput) (Entry, error) {
	row := s.tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (apartment_id, entry_type, amount, reference_type, reference_id, description, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		in.ApartmentID, in.EntryType, in.Amount, in.ReferenceType, in.ReferenceID, in.Description, in.CreatedBy)
	entry := Entry{
		ApartmentID:   in.ApartmentID,
		EntryType:     in.EntryType,
		Amount:        in.Amount,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		Description:   in.Description,
		CreatedBy:     in.CreatedBy,
	}
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// SumBalance recomputes the balance from the full entry history.
func (s *TxStore) SumBalance(ctx context.Context, apartmentID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := s.tx.QueryRow(ctx, sumBalanceSQL, apartmentID).Scan(&balance); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// UpdateCachedBalance overwrites the denormalized balance field.
func (s *TxStore) UpdateCachedBalance(ctx context.Context, apartmentID int64, balance decimal.Decimal) error {
	tag, err := s.tx.Exec(ctx, `UPDATE apartments SET cached_balance = $2, updated_at = NOW() WHERE id = $1`, apartmentID, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: apartment %d: %w", apartmentID, shared.ErrNotFound)
	}
	return nil
}
