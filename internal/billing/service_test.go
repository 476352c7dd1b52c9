package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/strata-hq/strata/internal/ledger"
	"github.com/strata-hq/strata/internal/shared"
)

type memoryApartment struct {
	id           int64
	buildingID   int64
	active       bool
	subscription *decimal.Decimal
	cached       decimal.Decimal
}

type memoryBillingRepo struct {
	apartments  map[int64]*memoryApartment
	buildingIDs []int64
	expenses    map[int64]*Expense
	charges     map[int64]*Charge
	entries     []ledger.Entry
	nextExpense int64
	nextCharge  int64
	nextEntry   int64
}

func newMemoryBillingRepo() *memoryBillingRepo {
	return &memoryBillingRepo{
		apartments: make(map[int64]*memoryApartment),
		expenses:   make(map[int64]*Expense),
		charges:    make(map[int64]*Charge),
	}
}

func (r *memoryBillingRepo) addBuilding(id int64) {
	r.buildingIDs = append(r.buildingIDs, id)
}

func (r *memoryBillingRepo) addApartment(id, buildingID int64, subscription *decimal.Decimal) *memoryApartment {
	a := &memoryApartment{id: id, buildingID: buildingID, active: true, subscription: subscription}
	r.apartments[id] = a
	return a
}

func (r *memoryBillingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryBillingRepo) LockApartment(ctx context.Context, apartmentID int64) error {
	if _, ok := r.apartments[apartmentID]; !ok {
		return fmt.Errorf("billing: apartment %d: %w", apartmentID, shared.ErrNotFound)
	}
	return nil
}

func (r *memoryBillingRepo) GetExpenseForUpdate(ctx context.Context, expenseID int64) (Expense, error) {
	e, ok := r.expenses[expenseID]
	if !ok {
		return Expense{}, fmt.Errorf("billing: expense %d: %w", expenseID, shared.ErrNotFound)
	}
	return *e, nil
}

func (r *memoryBillingRepo) InsertExpense(ctx context.Context, in Expense) (Expense, error) {
	r.nextExpense++
	out := in
	out.ID = r.nextExpense
	r.expenses[out.ID] = &out
	return out, nil
}

func (r *memoryBillingRepo) MarkExpenseBilled(ctx context.Context, expenseID int64) error {
	e, ok := r.expenses[expenseID]
	if !ok {
		return fmt.Errorf("billing: expense %d: %w", expenseID, shared.ErrNotFound)
	}
	e.IsBilled = true
	return nil
}

func (r *memoryBillingRepo) ListActiveApartments(ctx context.Context, buildingID int64) ([]ApartmentRef, error) {
	var out []ApartmentRef
	for _, a := range r.apartments {
		if a.buildingID == buildingID && a.active {
			out = append(out, ApartmentRef{ID: a.id, SubscriptionAmount: a.subscription})
		}
	}
	// Deterministic order, mirrors ORDER BY id.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ID < out[i].ID {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (r *memoryBillingRepo) InsertCharge(ctx context.Context, in ChargeInput) (Charge, error) {
	r.nextCharge++
	c := Charge{
		ID:          r.nextCharge,
		ApartmentID: in.ApartmentID,
		ExpenseID:   in.ExpenseID,
		Amount:      in.Amount,
		AmountPaid:  decimal.Zero,
	}
	r.charges[c.ID] = &c
	return c, nil
}

func (r *memoryBillingRepo) GetChargeForUpdate(ctx context.Context, chargeID int64) (Charge, error) {
	c, ok := r.charges[chargeID]
	if !ok {
		return Charge{}, fmt.Errorf("billing: charge %d: %w", chargeID, shared.ErrNotFound)
	}
	return *c, nil
}

func (r *memoryBillingRepo) MarkChargeCanceled(ctx context.Context, chargeID int64) error {
	c, ok := r.charges[chargeID]
	if !ok {
		return fmt.Errorf("billing: charge %d: %w", chargeID, shared.ErrNotFound)
	}
	c.IsCanceled = true
	return nil
}

func (r *memoryBillingRepo) AddToAmountPaid(ctx context.Context, chargeID int64, delta decimal.Decimal) error {
	c, ok := r.charges[chargeID]
	if !ok {
		return fmt.Errorf("billing: charge %d: %w", chargeID, shared.ErrNotFound)
	}
	next := c.AmountPaid.Add(delta)
	if next.IsNegative() || next.GreaterThan(c.Amount) {
		return fmt.Errorf("billing: charge %d delta %s: %w", chargeID, delta, shared.ErrAllocationOverflow)
	}
	c.AmountPaid = next
	return nil
}

func (r *memoryBillingRepo) SubscriptionExpenseExists(ctx context.Context, buildingID int64, month string) (bool, error) {
	for _, e := range r.expenses {
		if e.BuildingID == buildingID && e.Kind == KindSubscription && e.Month == month && !e.IsCanceled {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryBillingRepo) ListBuildingIDs(ctx context.Context) ([]int64, error) {
	return r.buildingIDs, nil
}

func (r *memoryBillingRepo) InsertLedgerEntry(ctx context.Context, in ledger.EntryInput) (ledger.Entry, error) {
	r.nextEntry++
	e := ledger.Entry{
		ID:            r.nextEntry,
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

func (r *memoryBillingRepo) RefreshCachedBalance(ctx context.Context, apartmentID int64) error {
	total := decimal.Zero
	for _, e := range r.entries {
		if e.ApartmentID != apartmentID {
			continue
		}
		if e.EntryType == ledger.EntryCredit {
			total = total.Add(e.Amount)
		} else {
			total = total.Sub(e.Amount)
		}
	}
	r.apartments[apartmentID].cached = total
	return nil
}

func (r *memoryBillingRepo) GetExpense(ctx context.Context, expenseID int64) (Expense, error) {
	return r.GetExpenseForUpdate(ctx, expenseID)
}

func (r *memoryBillingRepo) ListExpenses(ctx context.Context, buildingID int64, limit, offset int) ([]Expense, error) {
	var out []Expense
	for _, e := range r.expenses {
		if e.BuildingID == buildingID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *memoryBillingRepo) ListCharges(ctx context.Context, apartmentID int64) ([]Charge, error) {
	var out []Charge
	for _, c := range r.charges {
		if c.ApartmentID == apartmentID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSplitEvenlyConservesAmount(t *testing.T) {
	cases := []struct {
		amount string
		n      int
	}{
		{"100.00", 3},
		{"0.01", 2},
		{"99.99", 7},
		{"10.00", 1},
		{"33.34", 5},
	}
	for _, tc := range cases {
		parts := SplitEvenly(d(tc.amount), tc.n)
		require.Len(t, parts, tc.n)
		total := decimal.Zero
		for _, p := range parts {
			total = total.Add(p)
			require.False(t, p.IsNegative())
		}
		require.True(t, total.Equal(d(tc.amount)), "%s / %d: parts sum to %s", tc.amount, tc.n, total)
	}
}

func TestSplitEvenlyRoundsSubCentAmounts(t *testing.T) {
	cases := []struct {
		amount string
		n      int
		want   string
	}{
		{"100.005", 3, "100.01"},
		{"100.004", 3, "100.00"},
		{"0.001", 2, "0.00"},
		{"33.3333", 4, "33.33"},
	}
	for _, tc := range cases {
		parts := SplitEvenly(d(tc.amount), tc.n)
		require.Len(t, parts, tc.n)
		total := decimal.Zero
		for _, p := range parts {
			total = total.Add(p)
			require.False(t, p.IsNegative())
			require.True(t, p.Equal(p.Truncate(2)), "%s / %d: part %s carries sub-cent precision", tc.amount, tc.n, p)
		}
		require.True(t, total.Equal(d(tc.want)), "%s / %d: parts sum to %s, want %s", tc.amount, tc.n, total, tc.want)
	}
}

func TestBillExpenseChargesEveryActiveApartment(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addBuilding(1)
	repo.addApartment(1, 1, nil)
	repo.addApartment(2, 1, nil)
	repo.addApartment(3, 1, nil)
	inactive := repo.addApartment(4, 1, nil)
	inactive.active = false
	svc := NewService(repo, nil)
	ctx := context.Background()

	expense, err := svc.CreateExpense(ctx, CreateExpenseInput{
		BuildingID: 1, Description: "roof repair", Amount: d("100"), ExpenseDate: time.Now(), CreatedBy: 1,
	})
	require.NoError(t, err)

	charges, err := svc.BillExpense(ctx, expense.ID, 1)
	require.NoError(t, err)
	require.Len(t, charges, 3)

	total := decimal.Zero
	for _, c := range charges {
		total = total.Add(c.Amount)
	}
	require.True(t, total.Equal(d("100")))
	require.True(t, repo.expenses[expense.ID].IsBilled)

	// Each charge carries a mirroring debit entry and the cache reflects it.
	require.Len(t, repo.entries, 3)
	for _, e := range repo.entries {
		require.Equal(t, ledger.EntryDebit, e.EntryType)
		require.Equal(t, ledger.RefExpense, e.ReferenceType)
	}
	require.True(t, repo.apartments[1].cached.IsNegative())
}

func TestBillExpenseIsNotRepeatable(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addBuilding(1)
	repo.addApartment(1, 1, nil)
	svc := NewService(repo, nil)
	ctx := context.Background()

	expense, err := svc.CreateExpense(ctx, CreateExpenseInput{
		BuildingID: 1, Description: "gardening", Amount: d("50"), CreatedBy: 1,
	})
	require.NoError(t, err)

	_, err = svc.BillExpense(ctx, expense.ID, 1)
	require.NoError(t, err)

	_, err = svc.BillExpense(ctx, expense.ID, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, repo.charges, 1)
}

func TestBillSubscriptionsIdempotentPerMonth(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addBuilding(1)
	sub := d("25")
	repo.addApartment(1, 1, &sub)
	repo.addApartment(2, 1, &sub)
	repo.addApartment(3, 1, nil)
	svc := NewService(repo, nil)
	ctx := context.Background()

	billed, err := svc.BillSubscriptions(ctx, "2026-08", 1)
	require.NoError(t, err)
	require.Equal(t, 2, billed)

	// A second run for the same month bills nothing.
	billed, err = svc.BillSubscriptions(ctx, "2026-08", 1)
	require.NoError(t, err)
	require.Equal(t, 0, billed)

	// The next month bills again.
	billed, err = svc.BillSubscriptions(ctx, "2026-09", 1)
	require.NoError(t, err)
	require.Equal(t, 2, billed)

	for _, e := range repo.entries {
		require.Equal(t, ledger.RefSubscription, e.ReferenceType)
	}
}

func TestCancelChargeCreditsUnpaidRemainder(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addBuilding(1)
	repo.addApartment(1, 1, nil)
	svc := NewService(repo, nil)
	ctx := context.Background()

	expense, err := svc.CreateExpense(ctx, CreateExpenseInput{
		BuildingID: 1, Description: "painting", Amount: d("80"), CreatedBy: 1,
	})
	require.NoError(t, err)
	charges, err := svc.BillExpense(ctx, expense.ID, 1)
	require.NoError(t, err)
	chargeID := charges[0].ID

	// Simulate a partial payment allocation.
	require.NoError(t, repo.AddToAmountPaid(ctx, chargeID, d("30")))

	require.NoError(t, svc.CancelCharge(ctx, chargeID, "billed in error", 2))
	require.True(t, repo.charges[chargeID].IsCanceled)

	last := repo.entries[len(repo.entries)-1]
	require.Equal(t, ledger.EntryCredit, last.EntryType)
	require.Equal(t, ledger.RefReversal, last.ReferenceType)
	require.True(t, last.Amount.Equal(d("50")), "only the unpaid remainder is credited back")

	err = svc.CancelCharge(ctx, chargeID, "twice", 2)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestWaiveChargeBoundedByOutstanding(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addBuilding(1)
	repo.addApartment(1, 1, nil)
	svc := NewService(repo, nil)
	ctx := context.Background()

	expense, err := svc.CreateExpense(ctx, CreateExpenseInput{
		BuildingID: 1, Description: "elevator maintenance", Amount: d("60"), CreatedBy: 1,
	})
	require.NoError(t, err)
	charges, err := svc.BillExpense(ctx, expense.ID, 1)
	require.NoError(t, err)
	chargeID := charges[0].ID

	err = svc.WaiveCharge(ctx, chargeID, d("100"), "hardship", 2)
	require.ErrorIs(t, err, shared.ErrAllocationOverflow)

	require.NoError(t, svc.WaiveCharge(ctx, chargeID, d("60"), "hardship", 2))
	require.True(t, repo.charges[chargeID].AmountPaid.Equal(d("60")))
	last := repo.entries[len(repo.entries)-1]
	require.Equal(t, ledger.RefWaiver, last.ReferenceType)
	require.True(t, repo.apartments[1].cached.Equal(decimal.Zero))
}

func TestGrantOccupancyCredit(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.addBuilding(1)
	repo.addApartment(1, 1, nil)
	svc := NewService(repo, nil)

	require.NoError(t, svc.GrantOccupancyCredit(context.Background(), 1, d("15"), "vacant july", 2))
	require.Len(t, repo.entries, 1)
	require.Equal(t, ledger.RefOccupancyCredit, repo.entries[0].ReferenceType)
	require.True(t, repo.apartments[1].cached.Equal(d("15")))
}

func TestCreateExpenseValidation(t *testing.T) {
	repo := newMemoryBillingRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.CreateExpense(ctx, CreateExpenseInput{BuildingID: 1, Description: "x", Amount: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = svc.CreateExpense(ctx, CreateExpenseInput{BuildingID: 1, Amount: d("5")})
	require.ErrorIs(t, err, shared.ErrValidation)
}
