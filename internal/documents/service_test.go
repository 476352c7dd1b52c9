package documents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/strata-hq/strata/internal/shared"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type memoryDocumentsRepo struct {
	mu         sync.Mutex
	payments   map[int64]PaymentSnapshot
	apartments map[int64]bool
	lines      map[int64][]LineItem
	invoices   map[string][]LineItem
	documents  []Document
	counters   map[string]int64
	nextID     int64
}

func newMemoryDocumentsRepo() *memoryDocumentsRepo {
	return &memoryDocumentsRepo{
		payments:   make(map[int64]PaymentSnapshot),
		apartments: make(map[int64]bool),
		lines:      make(map[int64][]LineItem),
		invoices:   make(map[string][]LineItem),
		counters:   make(map[string]int64),
	}
}

func (m *memoryDocumentsRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, m)
}

func (m *memoryDocumentsRepo) GetByPublicID(_ context.Context, publicID uuid.UUID) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.documents {
		if doc.PublicID == publicID {
			return doc, nil
		}
	}
	return Document{}, fmt.Errorf("documents: %s: %w", publicID, shared.ErrNotFound)
}

func (m *memoryDocumentsRepo) ListByApartment(_ context.Context, apartmentID int64, limit, offset int) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Document
	for i := len(m.documents) - 1; i >= 0; i-- {
		if m.documents[i].ApartmentID == apartmentID {
			out = append(out, m.documents[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryDocumentsRepo) GetPaymentSnapshot(_ context.Context, paymentID int64) (PaymentSnapshot, error) {
	p, ok := m.payments[paymentID]
	if !ok {
		return PaymentSnapshot{}, fmt.Errorf("documents: payment %d: %w", paymentID, shared.ErrNotFound)
	}
	return p, nil
}

func (m *memoryDocumentsRepo) ApartmentExists(_ context.Context, apartmentID int64) (bool, error) {
	return m.apartments[apartmentID], nil
}

func (m *memoryDocumentsRepo) FindReceiptByPayment(_ context.Context, paymentID int64) (*Document, error) {
	for i := range m.documents {
		doc := m.documents[i]
		if doc.Type == TypeReceipt && doc.PaymentID != nil && *doc.PaymentID == paymentID {
			return &doc, nil
		}
	}
	return nil, nil
}

func (m *memoryDocumentsRepo) FindInvoice(_ context.Context, apartmentID int64, month string) (*Document, error) {
	for i := range m.documents {
		doc := m.documents[i]
		if doc.Type == TypeInvoice && doc.ApartmentID == apartmentID && doc.Month == month {
			return &doc, nil
		}
	}
	return nil, nil
}

func (m *memoryDocumentsRepo) ListReceiptLines(_ context.Context, paymentID int64) ([]LineItem, error) {
	return m.lines[paymentID], nil
}

func (m *memoryDocumentsRepo) ListInvoiceLines(_ context.Context, apartmentID int64, month string) ([]LineItem, error) {
	return m.invoices[fmt.Sprintf("%d/%s", apartmentID, month)], nil
}

func (m *memoryDocumentsRepo) NextNumber(_ context.Context, prefix string, year int) (int64, error) {
	key := fmt.Sprintf("%s/%d", prefix, year)
	m.counters[key]++
	return m.counters[key], nil
}

func (m *memoryDocumentsRepo) InsertDocument(_ context.Context, doc Document) (Document, error) {
	m.nextID++
	doc.ID = m.nextID
	m.documents = append(m.documents, doc)
	return doc, nil
}

type stubRenderer struct {
	lastHTML string
}

func (r *stubRenderer) RenderHTML(_ context.Context, html string) ([]byte, error) {
	r.lastHTML = html
	return []byte("%PDF-1.4 stub"), nil
}

func newTestService(repo *memoryDocumentsRepo) (*Service, *stubRenderer) {
	renderer := &stubRenderer{}
	svc := NewService(repo, renderer)
	svc.WithNow(func() time.Time {
		return time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	})
	return svc, renderer
}

func TestCreateReceiptIsIdempotentPerPayment(t *testing.T) {
	repo := newMemoryDocumentsRepo()
	repo.payments[7] = PaymentSnapshot{ID: 7, ApartmentID: 3, Amount: d("40.00"), Month: "2026-03"}
	repo.lines[7] = []LineItem{
		{Description: "elevator maintenance", Amount: d("30.00")},
		{Description: "cleaning", Amount: d("10.00")},
	}
	svc, _ := newTestService(repo)

	first, err := svc.CreateReceipt(context.Background(), 7, 1)
	require.NoError(t, err)
	require.Equal(t, "REC-2026-000001", first.Number)
	require.Equal(t, TypeReceipt, first.Type)
	require.Len(t, first.Items, 2)
	require.True(t, first.Total.Equal(d("40.00")))

	second, err := svc.CreateReceipt(context.Background(), 7, 2)
	require.NoError(t, err)
	require.Equal(t, first.PublicID, second.PublicID)
	require.Equal(t, first.Number, second.Number)
	require.Len(t, repo.documents, 1)
}

func TestCreateReceiptWithoutAllocationsFallsBackToSingleLine(t *testing.T) {
	repo := newMemoryDocumentsRepo()
	repo.payments[5] = PaymentSnapshot{ID: 5, ApartmentID: 2, Amount: d("15.00"), Month: "2026-03"}
	svc, _ := newTestService(repo)

	doc, err := svc.CreateReceipt(context.Background(), 5, 1)
	require.NoError(t, err)
	require.Len(t, doc.Items, 1)
	require.True(t, doc.Items[0].Amount.Equal(d("15.00")))
}

func TestCreateReceiptRejectsCanceledPayment(t *testing.T) {
	repo := newMemoryDocumentsRepo()
	repo.payments[9] = PaymentSnapshot{ID: 9, ApartmentID: 2, Amount: d("15.00"), Month: "2026-03", IsCanceled: true}
	svc, _ := newTestService(repo)

	_, err := svc.CreateReceipt(context.Background(), 9, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.documents)
}

func TestCreateReceiptUnknownPayment(t *testing.T) {
	svc, _ := newTestService(newMemoryDocumentsRepo())
	_, err := svc.CreateReceipt(context.Background(), 404, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateInvoiceSnapshotsChargeLines(t *testing.T) {
	repo := newMemoryDocumentsRepo()
	repo.apartments[3] = true
	repo.invoices["3/2026-03"] = []LineItem{
		{Description: "elevator maintenance", Amount: d("30.00")},
		{Description: "water", Amount: d("12.50")},
	}
	svc, _ := newTestService(repo)

	doc, err := svc.CreateInvoice(context.Background(), 3, "2026-03", 1)
	require.NoError(t, err)
	require.Equal(t, "INV-2026-000001", doc.Number)
	require.True(t, doc.Total.Equal(d("42.50")))

	// Later charge changes must not touch the issued document.
	repo.invoices["3/2026-03"] = append(repo.invoices["3/2026-03"], LineItem{Description: "late fee", Amount: d("5.00")})
	again, err := svc.CreateInvoice(context.Background(), 3, "2026-03", 1)
	require.NoError(t, err)
	require.Equal(t, doc.PublicID, again.PublicID)
	require.Len(t, again.Items, 2)
	require.True(t, again.Total.Equal(d("42.50")))
}

func TestCreateInvoiceRequiresCharges(t *testing.T) {
	repo := newMemoryDocumentsRepo()
	repo.apartments[3] = true
	svc, _ := newTestService(repo)

	_, err := svc.CreateInvoice(context.Background(), 3, "2026-03", 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateInvoiceValidation(t *testing.T) {
	repo := newMemoryDocumentsRepo()
	svc, _ := newTestService(repo)

	_, err := svc.CreateInvoice(context.Background(), 3, "March 2026", 1)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateInvoice(context.Background(), 3, "2026-03", 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDocumentNumbersSequencePerTypeAndYear(t *testing.T) {
	repo := newMemoryDocumentsRepo()
	repo.apartments[1] = true
	for i := 1; i <= 3; i++ {
		repo.payments[int64(i)] = PaymentSnapshot{ID: int64(i), ApartmentID: 1, Amount: d("10.00"), Month: "2026-03"}
	}
	repo.invoices["1/2026-03"] = []LineItem{{Description: "dues", Amount: d("10.00")}}
	svc, _ := newTestService(repo)

	for i := 1; i <= 3; i++ {
		doc, err := svc.CreateReceipt(context.Background(), int64(i), 1)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("REC-2026-%06d", i), doc.Number)
	}
	inv, err := svc.CreateInvoice(context.Background(), 1, "2026-03", 1)
	require.NoError(t, err)
	require.Equal(t, "INV-2026-000001", inv.Number)
}

// flakyTxRepo fails the first n transactions the way a serialization conflict
// surfaces from an aborted transaction, then delegates.
type flakyTxRepo struct {
	*memoryDocumentsRepo
	failures int
	calls    int
}

func (r *flakyTxRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.calls++
	if r.calls <= r.failures {
		return &pgconn.PgError{Code: "40001"}
	}
	return r.memoryDocumentsRepo.WithTx(ctx, fn)
}

func TestCreateReceiptRerunsTransactionOnSerializationFailure(t *testing.T) {
	inner := newMemoryDocumentsRepo()
	inner.payments[7] = PaymentSnapshot{ID: 7, ApartmentID: 3, Amount: d("40.00"), Month: "2026-03"}
	repo := &flakyTxRepo{memoryDocumentsRepo: inner, failures: 2}
	svc := NewService(repo, nil)
	svc.WithNow(func() time.Time {
		return time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	})

	doc, err := svc.CreateReceipt(context.Background(), 7, 1)
	require.NoError(t, err)
	require.Equal(t, "REC-2026-000001", doc.Number)
	require.Equal(t, 3, repo.calls)
}

func TestCreateReceiptGivesUpAfterRetryBudget(t *testing.T) {
	inner := newMemoryDocumentsRepo()
	inner.payments[7] = PaymentSnapshot{ID: 7, ApartmentID: 3, Amount: d("40.00"), Month: "2026-03"}
	repo := &flakyTxRepo{memoryDocumentsRepo: inner, failures: 10}
	svc := NewService(repo, nil)

	_, err := svc.CreateReceipt(context.Background(), 7, 1)
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "40001", pgErr.Code)
	require.Equal(t, issueAttempts, repo.calls)
}

// raceLosingRepo makes the first transaction behave like one whose existence
// check ran before a concurrent issuer committed: it sees no document and its
// insert hits the natural-key constraint. Later transactions see the winner.
type raceLosingRepo struct {
	*memoryDocumentsRepo
	raced bool
}

func (r *raceLosingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if !r.raced {
		r.raced = true
		return r.memoryDocumentsRepo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return fn(ctx, &blindInsertTx{TxRepository: tx})
		})
	}
	return r.memoryDocumentsRepo.WithTx(ctx, fn)
}

type blindInsertTx struct {
	TxRepository
}

func (t *blindInsertTx) FindReceiptByPayment(context.Context, int64) (*Document, error) {
	return nil, nil
}

func (t *blindInsertTx) InsertDocument(_ context.Context, doc Document) (Document, error) {
	return Document{}, fmt.Errorf("documents: %s %s: %w", doc.Type, doc.Month, shared.ErrDuplicateDocument)
}

func TestCreateReceiptLosingRaceReturnsExistingDocument(t *testing.T) {
	inner := newMemoryDocumentsRepo()
	inner.payments[7] = PaymentSnapshot{ID: 7, ApartmentID: 3, Amount: d("40.00"), Month: "2026-03"}
	paymentID := int64(7)
	winner := Document{
		ID:          1,
		PublicID:    uuid.New(),
		Type:        TypeReceipt,
		Number:      "REC-2026-000001",
		ApartmentID: 3,
		PaymentID:   &paymentID,
		Month:       "2026-03",
		Total:       d("40.00"),
	}
	inner.documents = append(inner.documents, winner)
	inner.nextID = 1
	repo := &raceLosingRepo{memoryDocumentsRepo: inner}
	svc := NewService(repo, nil)
	svc.WithNow(func() time.Time {
		return time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	})

	doc, err := svc.CreateReceipt(context.Background(), 7, 1)
	require.NoError(t, err)
	require.Equal(t, winner.PublicID, doc.PublicID)
	require.Equal(t, winner.Number, doc.Number)
	require.Len(t, inner.documents, 1)
}

func TestRenderPDFBuildsDocumentHTML(t *testing.T) {
	repo := newMemoryDocumentsRepo()
	repo.payments[7] = PaymentSnapshot{ID: 7, ApartmentID: 3, Amount: d("40.00"), Month: "2026-03"}
	repo.lines[7] = []LineItem{{Description: "elevator maintenance", Amount: d("40.00")}}
	svc, renderer := newTestService(repo)

	doc, err := svc.CreateReceipt(context.Background(), 7, 1)
	require.NoError(t, err)

	pdf, err := svc.RenderPDF(context.Background(), doc.PublicID)
	require.NoError(t, err)
	require.NotEmpty(t, pdf)
	require.True(t, strings.Contains(renderer.lastHTML, doc.Number))
	require.True(t, strings.Contains(renderer.lastHTML, "elevator maintenance"))
	require.True(t, strings.Contains(renderer.lastHTML, "40.00"))
}
