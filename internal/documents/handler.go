package documents

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/strata-hq/strata/internal/platform/httpx"
	"github.com/strata-hq/strata/internal/shared"
)

// Handler manages document endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments/{paymentID}/receipt", h.createReceipt)
	r.Post("/apartments/{apartmentID}/invoices", h.createInvoice)
	r.Get("/apartments/{apartmentID}/documents", h.listDocuments)
	r.Get("/documents/{publicID}", h.getDocument)
	r.Get("/documents/{publicID}/pdf", h.downloadPDF)
}

type createInvoiceRequest struct {
	Month string `json:"month" validate:"required,len=7"`
}

type lineItemResponse struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

type documentResponse struct {
	PublicID    string             `json:"public_id"`
	Type        string             `json:"type"`
	Number      string             `json:"number"`
	ApartmentID int64              `json:"apartment_id"`
	PaymentID   *int64             `json:"payment_id,omitempty"`
	Month       string             `json:"month"`
	Items       []lineItemResponse `json:"items"`
	Total       string             `json:"total"`
	IssuedAt    string             `json:"issued_at"`
}

func toDocumentResponse(d Document) documentResponse {
	items := make([]lineItemResponse, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, lineItemResponse{Description: item.Description, Amount: item.Amount.StringFixed(2)})
	}
	return documentResponse{
		PublicID:    d.PublicID.String(),
		Type:        string(d.Type),
		Number:      d.Number,
		ApartmentID: d.ApartmentID,
		PaymentID:   d.PaymentID,
		Month:       d.Month,
		Items:       items,
		Total:       d.Total.StringFixed(2),
		IssuedAt:    d.IssuedAt.Format(time.RFC3339),
	}
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathID(w, r, "paymentID", "payment")
	if !ok {
		return
	}
	doc, err := h.service.CreateReceipt(r.Context(), paymentID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("create receipt", slog.Int64("payment_id", paymentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := pathID(w, r, "apartmentID", "apartment")
	if !ok {
		return
	}
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	doc, err := h.service.CreateInvoice(r.Context(), apartmentID, req.Month, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("create invoice", slog.Int64("apartment_id", apartmentID), slog.String("month", req.Month), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := pathID(w, r, "apartmentID", "apartment")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	docs, err := h.service.ListByApartment(r.Context(), apartmentID, limit, offset)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	publicID, ok := pathUUID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Get(r.Context(), publicID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) downloadPDF(w http.ResponseWriter, r *http.Request) {
	publicID, ok := pathUUID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Get(r.Context(), publicID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pdf, err := h.service.RenderPDF(r.Context(), publicID)
	if err != nil {
		h.logger.Error("render pdf", slog.String("public_id", publicID.String()), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Render Failed", "the document could not be rendered")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Number+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func pathID(w http.ResponseWriter, r *http.Request, param, label string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Reference", label+" id must be a positive integer")
		return 0, false
	}
	return id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "publicID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Reference", "document id must be a valid uuid")
		return uuid.Nil, false
	}
	return id, true
}
