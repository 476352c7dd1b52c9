package billing

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/strata-hq/strata/internal/platform/httpx"
	"github.com/strata-hq/strata/internal/shared"
)

// Handler manages billing endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/buildings/{buildingID}/expenses", h.createExpense)
	r.Get("/buildings/{buildingID}/expenses", h.listExpenses)
	r.Get("/expenses/{expenseID}", h.getExpense)
	r.Post("/expenses/{expenseID}/bill", h.billExpense)
	r.Get("/apartments/{apartmentID}/charges", h.listCharges)
	r.Post("/charges/{chargeID}/cancel", h.cancelCharge)
	r.Post("/charges/{chargeID}/waive", h.waiveCharge)
	r.Post("/apartments/{apartmentID}/occupancy-credits", h.grantOccupancyCredit)
	r.Post("/billing/subscriptions", h.billSubscriptions)
}

type createExpenseRequest struct {
	Description string `json:"description" validate:"required,max=255"`
	Amount      string `json:"amount" validate:"required"`
	ExpenseDate string `json:"expense_date" validate:"omitempty,datetime=2006-01-02"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

type waiveRequest struct {
	Amount string `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required,max=255"`
}

type occupancyCreditRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Description string `json:"description" validate:"required,max=255"`
}

type billSubscriptionsRequest struct {
	Month string `json:"month" validate:"required,len=7"`
}

type expenseResponse struct {
	ID          int64  `json:"id"`
	BuildingID  int64  `json:"building_id"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	ExpenseDate string `json:"expense_date"`
	IsBilled    bool   `json:"is_billed"`
	IsCanceled  bool   `json:"is_canceled"`
}

type chargeResponse struct {
	ID          int64  `json:"id"`
	ApartmentID int64  `json:"apartment_id"`
	ExpenseID   int64  `json:"expense_id"`
	Amount      string `json:"amount"`
	AmountPaid  string `json:"amount_paid"`
	Outstanding string `json:"outstanding"`
	IsCanceled  bool   `json:"is_canceled"`
}

func toExpenseResponse(e Expense) expenseResponse {
	return expenseResponse{
		ID:          e.ID,
		BuildingID:  e.BuildingID,
		Kind:        string(e.Kind),
		Description: e.Description,
		Amount:      e.Amount.StringFixed(2),
		ExpenseDate: e.ExpenseDate.Format("2006-01-02"),
		IsBilled:    e.IsBilled,
		IsCanceled:  e.IsCanceled,
	}
}

func toChargeResponse(c Charge) chargeResponse {
	return chargeResponse{
		ID:          c.ID,
		ApartmentID: c.ApartmentID,
		ExpenseID:   c.ExpenseID,
		Amount:      c.Amount.StringFixed(2),
		AmountPaid:  c.AmountPaid.StringFixed(2),
		Outstanding: c.Outstanding().StringFixed(2),
		IsCanceled:  c.IsCanceled,
	}
}

func (h *Handler) createExpense(w http.ResponseWriter, r *http.Request) {
	buildingID, ok := pathID(w, r, "buildingID", "building")
	if !ok {
		return
	}
	var req createExpenseRequest
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
	var expenseDate time.Time
	if req.ExpenseDate != "" {
		expenseDate, _ = time.Parse("2006-01-02", req.ExpenseDate)
	}
	expense, err := h.service.CreateExpense(r.Context(), CreateExpenseInput{
		BuildingID:  buildingID,
		Description: req.Description,
		Amount:      amount,
		ExpenseDate: expenseDate,
		CreatedBy:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("create expense", slog.Int64("building_id", buildingID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toExpenseResponse(expense))
}

func (h *Handler) listExpenses(w http.ResponseWriter, r *http.Request) {
	buildingID, ok := pathID(w, r, "buildingID", "building")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	expenses, err := h.service.ListExpenses(r.Context(), buildingID, limit, offset)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"expenses": out})
}

func (h *Handler) getExpense(w http.ResponseWriter, r *http.Request) {
	expenseID, ok := pathID(w, r, "expenseID", "expense")
	if !ok {
		return
	}
	expense, err := h.service.GetExpense(r.Context(), expenseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toExpenseResponse(expense))
}

func (h *Handler) billExpense(w http.ResponseWriter, r *http.Request) {
	expenseID, ok := pathID(w, r, "expenseID", "expense")
	if !ok {
		return
	}
	charges, err := h.service.BillExpense(r.Context(), expenseID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("bill expense", slog.Int64("expense_id", expenseID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]chargeResponse, 0, len(charges))
	for _, c := range charges {
		out = append(out, toChargeResponse(c))
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"charges": out})
}

func (h *Handler) listCharges(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := pathID(w, r, "apartmentID", "apartment")
	if !ok {
		return
	}
	charges, err := h.service.ListCharges(r.Context(), apartmentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]chargeResponse, 0, len(charges))
	for _, c := range charges {
		out = append(out, toChargeResponse(c))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"charges": out})
}

func (h *Handler) cancelCharge(w http.ResponseWriter, r *http.Request) {
	chargeID, ok := pathID(w, r, "chargeID", "charge")
	if !ok {
		return
	}
	var req reasonRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.CancelCharge(r.Context(), chargeID, req.Reason, shared.ActorFromContext(r.Context())); err != nil {
		h.logger.Error("cancel charge", slog.Int64("charge_id", chargeID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) waiveCharge(w http.ResponseWriter, r *http.Request) {
	chargeID, ok := pathID(w, r, "chargeID", "charge")
	if !ok {
		return
	}
	var req waiveRequest
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
	if err := h.service.WaiveCharge(r.Context(), chargeID, amount, req.Reason, shared.ActorFromContext(r.Context())); err != nil {
		h.logger.Error("waive charge", slog.Int64("charge_id", chargeID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) grantOccupancyCredit(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := pathID(w, r, "apartmentID", "apartment")
	if !ok {
		return
	}
	var req occupancyCreditRequest
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
	if err := h.service.GrantOccupancyCredit(r.Context(), apartmentID, amount, req.Description, shared.ActorFromContext(r.Context())); err != nil {
		h.logger.Error("grant occupancy credit", slog.Int64("apartment_id", apartmentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) billSubscriptions(w http.ResponseWriter, r *http.Request) {
	var req billSubscriptionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	billed, err := h.service.BillSubscriptions(r.Context(), req.Month, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("bill subscriptions", slog.String("month", req.Month), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"charges_created": billed})
}

func pathID(w http.ResponseWriter, r *http.Request, param, label string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Reference", label+" id must be a positive integer")
		return 0, false
	}
	return id, true
}
