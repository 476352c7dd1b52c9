package documents

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DocumentType distinguishes receipts from invoices.
type DocumentType string

const (
	TypeReceipt DocumentType = "RECEIPT"
	TypeInvoice DocumentType = "INVOICE"
)

// Prefix returns the sequence prefix for the document type.
func (t DocumentType) Prefix() string {
	if t == TypeReceipt {
		return "REC"
	}
	return "INV"
}

// LineItem is one frozen line on an issued document.
type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Document is an issued receipt or invoice. Line items are snapshotted at
// generation time; later ledger corrections never alter an issued document.
type Document struct {
	ID          int64
	PublicID    uuid.UUID
	Type        DocumentType
	Number      string
	ApartmentID int64
	PaymentID   *int64
	Month       string
	Items       []LineItem
	Total       decimal.Decimal
	IssuedAt    time.Time
	CreatedBy   int64
}

// PaymentSnapshot is the issuer's view of a payment.
type PaymentSnapshot struct {
	ID          int64
	ApartmentID int64
	Amount      decimal.Decimal
	Month       string
	IsCanceled  bool
}
