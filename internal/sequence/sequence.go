// Package sequence issues collision-free, monotonically increasing document
// numbers scoped by (prefix, year). The counter lives in a single row that is
// incremented atomically, so concurrent issuers can never observe the same
// number.
package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strata-hq/strata/internal/platform/db"
	"github.com/strata-hq/strata/internal/shared"
)

const incrementSQL = `
	INSERT INTO document_sequences (prefix, year, last_number)
	VALUES ($1, $2, 1)
	ON CONFLICT (prefix, year)
	DO UPDATE SET last_number = document_sequences.last_number + 1, updated_at = NOW()
	RETURNING last_number`

// Incrementer performs the atomic increment for a sequence key.
type Incrementer interface {
	Increment(ctx context.Context, prefix string, year int) (int64, error)
}

// TxIncrementer increments inside the caller's transaction, so the number is
// only consumed when the document creation it serves commits.
type TxIncrementer struct {
	tx pgx.Tx
}

// NewTxIncrementer binds an open transaction.
func NewTxIncrementer(tx pgx.Tx) *TxIncrementer {
	return &TxIncrementer{tx: tx}
}

// Increment performs a single upsert-increment on the counter row.
func (i *TxIncrementer) Increment(ctx context.Context, prefix string, year int) (int64, error) {
	var number int64
	if err := i.tx.QueryRow(ctx, incrementSQL, prefix, year).Scan(&number); err != nil {
		return 0, err
	}
	return number, nil
}

// PoolIncrementer increments in its own implicit transaction.
type PoolIncrementer struct {
	pool *pgxpool.Pool
}

// NewPoolIncrementer constructs a pool-backed incrementer.
func NewPoolIncrementer(pool *pgxpool.Pool) *PoolIncrementer {
	return &PoolIncrementer{pool: pool}
}

// Increment performs a single upsert-increment on the counter row.
func (i *PoolIncrementer) Increment(ctx context.Context, prefix string, year int) (int64, error) {
	var number int64
	if err := i.pool.QueryRow(ctx, incrementSQL, prefix, year).Scan(&number); err != nil {
		return 0, err
	}
	return number, nil
}

const defaultRetries = 3

// Allocator wraps an Incrementer with bounded retry on transient
// serialization conflicts.
type Allocator struct {
	inc     Incrementer
	retries int
}

// NewAllocator constructs an Allocator with the default retry budget.
func NewAllocator(inc Incrementer) *Allocator {
	return &Allocator{inc: inc, retries: defaultRetries}
}

// NewTxAllocator binds an open transaction with a zero retry budget. A
// serialization failure aborts the enclosing transaction, so retrying the
// increment on the same connection can only fail again; the caller has to
// rerun the whole transaction instead.
func NewTxAllocator(tx pgx.Tx) *Allocator {
	return &Allocator{inc: NewTxIncrementer(tx)}
}

// WithRetries overrides the retry budget.
func (a *Allocator) WithRetries(n int) *Allocator {
	if n > 0 {
		a.retries = n
	}
	return a
}

// Next returns the next number for the (prefix, year) key. Serialization
// failures are retried; when the budget runs out the caller gets
// ErrSequenceConflict.
func (a *Allocator) Next(ctx context.Context, prefix string, year int) (int64, error) {
	if prefix == "" {
		return 0, fmt.Errorf("sequence: empty prefix: %w", shared.ErrValidation)
	}
	var lastErr error
	for attempt := 0; attempt <= a.retries; attempt++ {
		number, err := a.inc.Increment(ctx, prefix, year)
		if err == nil {
			return number, nil
		}
		if !db.IsSerializationFailure(err) {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("sequence: %s/%d after %d attempts: %w: %w", prefix, year, a.retries+1, shared.ErrSequenceConflict, lastErr)
}

// Format renders a document number the way issued documents carry it,
// e.g. REC-2026-000123.
func Format(prefix string, year int, number int64) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, year, number)
}
