package ledger

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

// Handler manages ledger endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes under an apartment scope.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/apartments/{apartmentID}/balance", h.getBalance)
	r.Post("/apartments/{apartmentID}/balance/refresh", h.refreshBalance)
	r.Get("/apartments/{apartmentID}/entries", h.listEntries)
	r.Post("/apartments/{apartmentID}/reversals", h.recordReversal)
}

type balanceResponse struct {
	ApartmentID int64  `json:"apartment_id"`
	Balance     string `json:"balance"`
}

type entryResponse struct {
	ID            int64  `json:"id"`
	EntryType     string `json:"entry_type"`
	Amount        string `json:"amount"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   int64  `json:"reference_id"`
	Description   string `json:"description"`
	CreatedAt     string `json:"created_at"`
}

type reversalRequest struct {
	ReferenceID  int64  `json:"reference_id" validate:"required"`
	Amount       string `json:"amount" validate:"required"`
	OriginalType string `json:"original_type" validate:"required,oneof=DEBIT CREDIT"`
	Description  string `json:"description" validate:"required,max=255"`
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := h.apartmentID(w, r)
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(r.Context(), apartmentID)
	if err != nil {
		h.logger.Error("get balance", slog.Int64("apartment_id", apartmentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{ApartmentID: apartmentID, Balance: balance.StringFixed(2)})
}

func (h *Handler) refreshBalance(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := h.apartmentID(w, r)
	if !ok {
		return
	}
	balance, err := h.service.RefreshCachedBalance(r.Context(), apartmentID)
	if err != nil {
		h.logger.Error("refresh balance", slog.Int64("apartment_id", apartmentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{ApartmentID: apartmentID, Balance: balance.StringFixed(2)})
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := h.apartmentID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	entries, err := h.service.ListEntries(r.Context(), apartmentID, limit, offset)
	if err != nil {
		h.logger.Error("list entries", slog.Int64("apartment_id", apartmentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:            e.ID,
			EntryType:     string(e.EntryType),
			Amount:        e.Amount.StringFixed(2),
			ReferenceType: string(e.ReferenceType),
			ReferenceID:   e.ReferenceID,
			Description:   e.Description,
			CreatedAt:     e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) recordReversal(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := h.apartmentID(w, r)
	if !ok {
		return
	}
	var req reversalRequest
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
	entry, err := h.service.RecordReversal(r.Context(), apartmentID, req.ReferenceID, amount, EntryType(req.OriginalType), req.Description, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("record reversal", slog.Int64("apartment_id", apartmentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entryResponse{
		ID:            entry.ID,
		EntryType:     string(entry.EntryType),
		Amount:        entry.Amount.StringFixed(2),
		ReferenceType: string(entry.ReferenceType),
		ReferenceID:   entry.ReferenceID,
		Description:   entry.Description,
		CreatedAt:     entry.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (h *Handler) apartmentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "apartmentID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Apartment", "apartment id must be a positive integer")
		return 0, false
	}
	return id, true
}
