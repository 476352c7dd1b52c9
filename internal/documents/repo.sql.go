package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strata-hq/strata/internal/platform/db"
	"github.com/strata-hq/strata/internal/sequence"
	"github.com/strata-hq/strata/internal/shared"
)

// Repository persists documents in PostgreSQL.
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
		return errors.New("documents repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, sequences: sequence.NewTxAllocator(tx)})
	})
}

const documentSelectSQL = `
	SELECT id, public_id, doc_type, number, apartment_id, payment_id, month, items, total, issued_at, created_by
	FROM documents`

// GetByPublicID retrieves one document.
func (r *Repository) GetByPublicID(ctx context.Context, publicID uuid.UUID) (Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, documentSelectSQL+` WHERE public_id = $1`, publicID))
	if err == pgx.ErrNoRows {
		return Document{}, fmt.Errorf("documents: %s: %w", publicID, shared.ErrNotFound)
	}
	return doc, err
}

// ListByApartment returns an apartment's documents, newest first.
func (r *Repository) ListByApartment(ctx context.Context, apartmentID int64, limit, offset int) ([]Document, error) {
	rows, err := r.pool.Query(ctx, documentSelectSQL+` WHERE apartment_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`, apartmentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	var itemsJSON []byte
	err := row.Scan(&doc.ID, &doc.PublicID, &doc.Type, &doc.Number, &doc.ApartmentID, &doc.PaymentID, &doc.Month, &itemsJSON, &doc.Total, &doc.IssuedAt, &doc.CreatedBy)
	if err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal(itemsJSON, &doc.Items); err != nil {
		return Document{}, fmt.Errorf("documents: decode items: %w", err)
	}
	return doc, nil
}

type txRepository struct {
	tx        pgx.Tx
	sequences *sequence.Allocator
}

func (r *txRepository) GetPaymentSnapshot(ctx context.Context, paymentID int64) (PaymentSnapshot, error) {
	var p PaymentSnapshot
	err := r.tx.QueryRow(ctx, `
		SELECT id, apartment_id, amount, month, is_canceled
		FROM payments
		WHERE id = $1`, paymentID).Scan(&p.ID, &p.ApartmentID, &p.Amount, &p.Month, &p.IsCanceled)
	if err == pgx.ErrNoRows {
		return PaymentSnapshot{}, fmt.Errorf("documents: payment %d: %w", paymentID, shared.ErrNotFound)
	}
	if err != nil {
		return PaymentSnapshot{}, err
	}
	return p, nil
}

func (r *txRepository) ApartmentExists(ctx context.Context, apartmentID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM apartments WHERE id = $1)`, apartmentID).Scan(&exists)
	return exists, err
}

func (r *txRepository) FindReceiptByPayment(ctx context.Context, paymentID int64) (*Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, documentSelectSQL+` WHERE doc_type = 'RECEIPT' AND payment_id = $1`, paymentID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *txRepository) FindInvoice(ctx context.Context, apartmentID int64, month string) (*Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, documentSelectSQL+` WHERE doc_type = 'INVOICE' AND apartment_id = $1 AND month = $2`, apartmentID, month))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListReceiptLines snapshots the payment's allocation breakdown.
func (r *txRepository) ListReceiptLines(ctx context.Context, paymentID int64) ([]LineItem, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT COALESCE(e.description, 'credit on account'), pa.amount_allocated
		FROM payment_allocations pa
		LEFT JOIN apartment_expenses ae ON ae.id = pa.apartment_expense_id
		LEFT JOIN expenses e ON e.id = ae.expense_id
		WHERE pa.payment_id = $1
		ORDER BY pa.id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLines(rows)
}

// ListInvoiceLines snapshots the apartment's charge lines for the month.
func (r *txRepository) ListInvoiceLines(ctx context.Context, apartmentID int64, month string) ([]LineItem, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT e.description, ae.amount
		FROM apartment_expenses ae
		JOIN expenses e ON e.id = ae.expense_id
		WHERE ae.apartment_id = $1
		  AND NOT ae.is_canceled
		  AND to_char(e.expense_date, 'YYYY-MM') = $2
		ORDER BY e.expense_date, ae.id`, apartmentID, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLines(rows)
}

func collectLines(rows pgx.Rows) ([]LineItem, error) {
	var items []LineItem
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(&item.Description, &item.Amount); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepository) NextNumber(ctx context.Context, prefix string, year int) (int64, error) {
	return r.sequences.Next(ctx, prefix, year)
}

func (r *txRepository) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	itemsJSON, err := json.Marshal(doc.Items)
	if err != nil {
		return Document{}, fmt.Errorf("documents: encode items: %w", err)
	}
	row := r.tx.QueryRow(ctx, `
		INSERT INTO documents (public_id, doc_type, number, apartment_id, payment_id, month, items, total, issued_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		doc.PublicID, doc.Type, doc.Number, doc.ApartmentID, doc.PaymentID, doc.Month, itemsJSON, doc.Total, doc.IssuedAt, doc.CreatedBy)
	out := doc
	if err := row.Scan(&out.ID); err != nil {
		if db.IsUniqueViolation(err, "") {
			return Document{}, fmt.Errorf("documents: %s %s: %w", doc.Type, doc.Month, shared.ErrDuplicateDocument)
		}
		return Document{}, err
	}
	return out, nil
}
