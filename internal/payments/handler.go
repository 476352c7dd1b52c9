package payments

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/strata-hq/strata/internal/platform/httpx"
	"github.com/strata-hq/strata/internal/shared"
)

// Handler manages payment endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/apartments/{apartmentID}/payments", h.recordPayment)
	r.Get("/apartments/{apartmentID}/payments", h.listPayments)
	r.Get("/payments/{paymentID}", h.getPayment)
	r.Get("/payments/{paymentID}/allocations", h.listAllocations)
	r.Post("/payments/{paymentID}/cancel", h.cancelPayment)
}

type recordPaymentRequest struct {
	Amount string `json:"amount" validate:"required"`
	Month  string `json:"month" validate:"required,len=7"`
	Method string `json:"method" validate:"omitempty,max=40"`
	Note   string `json:"note" validate:"omitempty,max=255"`
}

type cancelPaymentRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

type paymentResponse struct {
	ID          int64  `json:"id"`
	ApartmentID int64  `json:"apartment_id"`
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Month       string `json:"month"`
	Method      string `json:"method,omitempty"`
	Note        string `json:"note,omitempty"`
	IsCanceled  bool   `json:"is_canceled"`
}

type allocationResponse struct {
	ID                 int64  `json:"id"`
	ApartmentExpenseID *int64 `json:"apartment_expense_id,omitempty"`
	LedgerEntryID      *int64 `json:"ledger_entry_id,omitempty"`
	AmountAllocated    string `json:"amount_allocated"`
}

func toPaymentResponse(p Payment) paymentResponse {
	return paymentResponse{
		ID:          p.ID,
		ApartmentID: p.ApartmentID,
		Reference:   p.Reference.String(),
		Amount:      p.Amount.StringFixed(2),
		Month:       p.Month,
		Method:      p.Method,
		Note:        p.Note,
		IsCanceled:  p.IsCanceled,
	}
}

func toAllocationResponses(allocations []Allocation) []allocationResponse {
	out := make([]allocationResponse, 0, len(allocations))
	for _, a := range allocations {
		out = append(out, allocationResponse{
			ID:                 a.ID,
			ApartmentExpenseID: a.ApartmentExpenseID,
			LedgerEntryID:      a.LedgerEntryID,
			AmountAllocated:    a.AmountAllocated.StringFixed(2),
		})
	}
	return out
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	apartmentID, err := strconv.ParseInt(chi.URLParam(r, "apartmentID"), 10, 64)
	if err != nil || apartmentID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Apartment", "apartment id must be a positive integer")
		return
	}
	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.RespondError(w, shared.ErrInvalidAmount)
		return
	}
	payment, allocations, err := h.service.RecordPayment(r.Context(), RecordPaymentInput{
		ApartmentID: apartmentID,
		Amount:      amount,
		Month:       req.Month,
		Method:      req.Method,
		Note:        req.Note,
		CreatedBy:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("record payment", slog.Int64("apartment_id", apartmentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"payment":     toPaymentResponse(payment),
		"allocations": toAllocationResponses(allocations),
	})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	apartmentID, err := strconv.ParseInt(chi.URLParam(r, "apartmentID"), 10, 64)
	if err != nil || apartmentID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Apartment", "apartment id must be a positive integer")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	payments, err := h.service.ListPayments(r.Context(), apartmentID, limit, offset)
	if err != nil {
		h.logger.Error("list payments", slog.Int64("apartment_id", apartmentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": out})
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "paymentID"), 10, 64)
	if err != nil || paymentID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payment", "payment id must be a positive integer")
		return
	}
	payment, err := h.service.GetPayment(r.Context(), paymentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentResponse(payment))
}

func (h *Handler) listAllocations(w http.ResponseWriter, r *http.Request) {
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "paymentID"), 10, 64)
	if err != nil || paymentID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payment", "payment id must be a positive integer")
		return
	}
	allocations, err := h.service.ListAllocations(r.Context(), paymentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"allocations": toAllocationResponses(allocations)})
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "paymentID"), 10, 64)
	if err != nil || paymentID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payment", "payment id must be a positive integer")
		return
	}
	var req cancelPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	payment, err := h.service.CancelPayment(r.Context(), paymentID, req.Reason, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("cancel payment", slog.Int64("payment_id", paymentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentResponse(payment))
}
