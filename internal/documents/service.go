package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/strata-hq/strata/internal/platform/db"
	"github.com/strata-hq/strata/internal/sequence"
	"github.com/strata-hq/strata/internal/shared"
)

// TxRepository exposes transactional document operations. The document
// number comes from the sequence counter inside the same transaction, so a
// number is only consumed when its document commits.
type TxRepository interface {
	GetPaymentSnapshot(ctx context.Context, paymentID int64) (PaymentSnapshot, error)
	ApartmentExists(ctx context.Context, apartmentID int64) (bool, error)
	FindReceiptByPayment(ctx context.Context, paymentID int64) (*Document, error)
	FindInvoice(ctx context.Context, apartmentID int64, month string) (*Document, error)
	ListReceiptLines(ctx context.Context, paymentID int64) ([]LineItem, error)
	ListInvoiceLines(ctx context.Context, apartmentID int64, month string) ([]LineItem, error)
	NextNumber(ctx context.Context, prefix string, year int) (int64, error)
	InsertDocument(ctx context.Context, doc Document) (Document, error)
}

// RepositoryPort abstracts document persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByPublicID(ctx context.Context, publicID uuid.UUID) (Document, error)
	ListByApartment(ctx context.Context, apartmentID int64, limit, offset int) ([]Document, error)
}

// Renderer converts HTML into a PDF document.
type Renderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Service issues numbered receipts and invoices with frozen line items.
// Issuance is idempotent per natural key: one receipt per payment, one
// invoice per (apartment, month).
type Service struct {
	repo     RepositoryPort
	renderer Renderer
	now      func() time.Time
}

// NewService constructs the document issuer.
func NewService(repo RepositoryPort, renderer Renderer) *Service {
	return &Service{repo: repo, renderer: renderer, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

const issueAttempts = 3

// withIssueRetry runs the issuance transaction, rerunning it when it lost a
// race. A serialization failure or a duplicate insert aborts the whole
// transaction; the rerun's existence check then picks up the winner's row.
func (s *Service) withIssueRetry(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 0; attempt < issueAttempts; attempt++ {
		if err = s.repo.WithTx(ctx, fn); err == nil {
			return nil
		}
		if !issueRetryable(err) {
			return err
		}
	}
	return err
}

func issueRetryable(err error) bool {
	return db.IsSerializationFailure(err) ||
		errors.Is(err, shared.ErrSequenceConflict) ||
		errors.Is(err, shared.ErrDuplicateDocument)
}

// CreateReceipt issues the receipt for a payment, or returns the already
// issued one.
func (s *Service) CreateReceipt(ctx context.Context, paymentID, createdBy int64) (Document, error) {
	var doc Document
	err := s.withIssueRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetPaymentSnapshot(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.IsCanceled {
			return fmt.Errorf("documents: payment %d is canceled: %w", paymentID, shared.ErrValidation)
		}
		existing, err := tx.FindReceiptByPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if existing != nil {
			doc = *existing
			return nil
		}
		items, err := tx.ListReceiptLines(ctx, paymentID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			items = []LineItem{{Description: fmt.Sprintf("payment for %s", payment.Month), Amount: payment.Amount}}
		}
		issued, err := s.issue(ctx, tx, Document{
			Type:        TypeReceipt,
			ApartmentID: payment.ApartmentID,
			PaymentID:   &payment.ID,
			Month:       payment.Month,
			Items:       items,
			Total:       payment.Amount,
			CreatedBy:   createdBy,
		})
		if err != nil {
			return err
		}
		doc = issued
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// CreateInvoice issues the invoice for an apartment's billing month, or
// returns the already issued one.
func (s *Service) CreateInvoice(ctx context.Context, apartmentID int64, month string, createdBy int64) (Document, error) {
	if _, err := shared.ParseMonth(month); err != nil {
		return Document{}, fmt.Errorf("documents: month %q: %w", month, shared.ErrValidation)
	}
	var doc Document
	err := s.withIssueRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.ApartmentExists(ctx, apartmentID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("documents: apartment %d: %w", apartmentID, shared.ErrNotFound)
		}
		existing, err := tx.FindInvoice(ctx, apartmentID, month)
		if err != nil {
			return err
		}
		if existing != nil {
			doc = *existing
			return nil
		}
		items, err := tx.ListInvoiceLines(ctx, apartmentID, month)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("documents: apartment %d has no charges for %s: %w", apartmentID, month, shared.ErrValidation)
		}
		total := decimal.Zero
		for _, item := range items {
			total = total.Add(item.Amount)
		}
		issued, err := s.issue(ctx, tx, Document{
			Type:        TypeInvoice,
			ApartmentID: apartmentID,
			Month:       month,
			Items:       items,
			Total:       total,
			CreatedBy:   createdBy,
		})
		if err != nil {
			return err
		}
		doc = issued
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// issue assigns the number and persists the document. A unique-violation on
// the natural key means a concurrent issuer won the race; the caller's
// retry path returns the existing document.
func (s *Service) issue(ctx context.Context, tx TxRepository, doc Document) (Document, error) {
	year := s.now().UTC().Year()
	number, err := tx.NextNumber(ctx, doc.Type.Prefix(), year)
	if err != nil {
		return Document{}, err
	}
	doc.PublicID = uuid.New()
	doc.Number = sequence.Format(doc.Type.Prefix(), year, number)
	doc.IssuedAt = s.now()
	return tx.InsertDocument(ctx, doc)
}

// Get returns a document by its public id.
func (s *Service) Get(ctx context.Context, publicID uuid.UUID) (Document, error) {
	return s.repo.GetByPublicID(ctx, publicID)
}

// ListByApartment returns an apartment's issued documents, newest first.
func (s *Service) ListByApartment(ctx context.Context, apartmentID int64, limit, offset int) ([]Document, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByApartment(ctx, apartmentID, limit, offset)
}

// RenderPDF renders the issued document through the PDF service.
func (s *Service) RenderPDF(ctx context.Context, publicID uuid.UUID) ([]byte, error) {
	if s.renderer == nil {
		return nil, errors.New("documents: renderer not configured")
	}
	doc, err := s.repo.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	return s.renderer.RenderHTML(ctx, renderHTML(doc))
}

func renderHTML(doc Document) string {
	title := "Receipt"
	if doc.Type == TypeInvoice {
		title = "Invoice"
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(title)
	b.WriteString(" ")
	b.WriteString(doc.Number)
	b.WriteString("</title></head><body>")
	fmt.Fprintf(&b, "<h1>%s %s</h1>", title, doc.Number)
	fmt.Fprintf(&b, "<p>Apartment %d &mdash; %s</p>", doc.ApartmentID, doc.Month)
	fmt.Fprintf(&b, "<p>Issued %s</p>", doc.IssuedAt.Format("2006-01-02"))
	b.WriteString("<table><thead><tr><th>Description</th><th>Amount</th></tr></thead><tbody>")
	for _, item := range doc.Items {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td></tr>", item.Description, item.Amount.StringFixed(2))
	}
	b.WriteString("</tbody></table>")
	fmt.Fprintf(&b, "<p><strong>Total: %s</strong></p>", doc.Total.StringFixed(2))
	b.WriteString("</body></html>")
	return b.String()
}
