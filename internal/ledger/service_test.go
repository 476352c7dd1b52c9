package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/strata-hq/strata/internal/shared"
)

type memoryLedgerRepo struct {
	mu      sync.Mutex
	cached  map[int64]decimal.Decimal
	entries []Entry
	nextID  int64
	writes  map[int64]int
}

func newMemoryLedgerRepo(apartmentIDs ...int64) *memoryLedgerRepo {
	r := &memoryLedgerRepo{cached: make(map[int64]decimal.Decimal), writes: make(map[int64]int)}
	for _, id := range apartmentIDs {
		r.cached[id] = decimal.Zero
	}
	return r
}

// WithTx serialises transactions the way the apartment row lock does in SQL.
func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, r)
}

func (r *memoryLedgerRepo) LockApartment(ctx context.Context, apartmentID int64) (decimal.Decimal, error) {
	cached, ok := r.cached[apartmentID]
	if !ok {
		return decimal.Zero, fmt.Errorf("ledger: apartment %d: %w", apartmentID, shared.ErrNotFound)
	}
	return cached, nil
}

func (r *memoryLedgerRepo) InsertEntry(ctx context.Context, in EntryInput) (Entry, error) {
	r.nextID++
	e := Entry{
		ID:            r.nextID,
		ApartmentID:   in.ApartmentID,
		EntryType:     in.EntryType,
		Amount:        in.Amount,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		Description:   in.Description,
		CreatedBy:     in.CreatedBy,
	}
	r.entries = append(r.entries, e)
	return e, nil
}

func (r *memoryLedgerRepo) SumBalance(ctx context.Context, apartmentID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range r.entries {
		if e.ApartmentID != apartmentID {
			continue
		}
		if e.EntryType == EntryCredit {
			total = total.Add(e.Amount)
		} else {
			total = total.Sub(e.Amount)
		}
	}
	return total, nil
}

func (r *memoryLedgerRepo) UpdateCachedBalance(ctx context.Context, apartmentID int64, balance decimal.Decimal) error {
	if _, ok := r.cached[apartmentID]; !ok {
		return fmt.Errorf("ledger: apartment %d: %w", apartmentID, shared.ErrNotFound)
	}
	r.cached[apartmentID] = balance
	r.writes[apartmentID]++
	return nil
}

func (r *memoryLedgerRepo) Balance(ctx context.Context, apartmentID int64) (decimal.Decimal, error) {
	if _, ok := r.cached[apartmentID]; !ok {
		return decimal.Zero, fmt.Errorf("ledger: apartment %d: %w", apartmentID, shared.ErrNotFound)
	}
	return r.SumBalance(ctx, apartmentID)
}

func (r *memoryLedgerRepo) ListEntries(ctx context.Context, apartmentID int64, limit, offset int) ([]Entry, error) {
	var out []Entry
	for _, e := range r.entries {
		if e.ApartmentID == apartmentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryLedgerRepo) ListApartmentIDs(ctx context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(r.cached))
	for id := range r.cached {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBalanceFollowsEntryHistory(t *testing.T) {
	repo := newMemoryLedgerRepo(1)
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, 1, 10, d("100"), 7)
	require.NoError(t, err)
	balance, err := svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(d("100")), "got %s", balance)

	_, err = svc.RecordExpenseCharge(ctx, 1, 20, d("40"), "water bill", 7)
	require.NoError(t, err)
	balance, err = svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(d("60")), "got %s", balance)

	_, err = svc.RecordReversal(ctx, 1, 10, d("10"), EntryCredit, "correction", 7)
	require.NoError(t, err)
	balance, err = svc.GetBalance(ctx, 1)
	require.NoError(t, err)
	require.True(t, balance.Equal(d("50")), "got %s", balance)
}

func TestReversalWritesOppositeEntryType(t *testing.T) {
	repo := newMemoryLedgerRepo(1)
	svc := NewService(repo, nil)
	ctx := context.Background()

	entry, err := svc.RecordReversal(ctx, 1, 99, d("10"), EntryCredit, "undo credit", 1)
	require.NoError(t, err)
	require.Equal(t, EntryDebit, entry.EntryType)
	require.Equal(t, RefReversal, entry.ReferenceType)

	entry, err = svc.RecordReversal(ctx, 1, 99, d("10"), EntryDebit, "undo debit", 1)
	require.NoError(t, err)
	require.Equal(t, EntryCredit, entry.EntryType)
}

func TestRecordEntryRejectsNonPositiveAmount(t *testing.T) {
	repo := newMemoryLedgerRepo(1)
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, 1, 10, decimal.Zero, 1)
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = svc.RecordPayment(ctx, 1, 10, d("-5"), 1)
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
	require.Empty(t, repo.entries)
}

func TestRecordEntryUnknownApartment(t *testing.T) {
	repo := newMemoryLedgerRepo(1)
	svc := NewService(repo, nil)

	_, err := svc.RecordPayment(context.Background(), 42, 10, d("100"), 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.entries)
}

func TestRefreshCachedBalanceIdempotent(t *testing.T) {
	repo := newMemoryLedgerRepo(1)
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, 1, 10, d("100"), 1)
	require.NoError(t, err)
	_, err = svc.RecordExpenseCharge(ctx, 1, 20, d("40"), "charge", 1)
	require.NoError(t, err)
	_, err = svc.RecordReversal(ctx, 1, 10, d("10"), EntryCredit, "correction", 1)
	require.NoError(t, err)

	first, err := svc.RefreshCachedBalance(ctx, 1)
	require.NoError(t, err)
	require.True(t, first.Equal(d("50")), "got %s", first)
	require.True(t, repo.cached[1].Equal(d("50")))

	second, err := svc.RefreshCachedBalance(ctx, 1)
	require.NoError(t, err)
	require.True(t, second.Equal(first))
	require.True(t, repo.cached[1].Equal(d("50")))
}

func TestReconcileAllRewritesDriftedCaches(t *testing.T) {
	repo := newMemoryLedgerRepo(1, 2, 3)
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, 1, 10, d("100"), 1)
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, 2, 11, d("30"), 1)
	require.NoError(t, err)

	// Simulate ad hoc drift on the denormalized field.
	repo.cached[1] = d("999")
	repo.cached[3] = d("-1")

	report, err := svc.ReconcileAll(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 3, report.Apartments)
	require.Equal(t, 2, report.Drifted)
	require.Equal(t, 0, report.Errors)
	require.True(t, repo.cached[1].Equal(d("100")))
	require.True(t, repo.cached[2].Equal(d("30")))
	require.True(t, repo.cached[3].Equal(decimal.Zero))
}
