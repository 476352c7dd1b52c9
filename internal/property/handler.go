package property

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

// Handler manages property registry endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers property routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/buildings", h.createBuilding)
	r.Get("/buildings", h.listBuildings)
	r.Get("/buildings/{buildingID}", h.getBuilding)
	r.Put("/buildings/{buildingID}", h.updateBuilding)
	r.Post("/buildings/{buildingID}/apartments", h.createApartment)
	r.Get("/buildings/{buildingID}/apartments", h.listApartments)
	r.Get("/apartments/{apartmentID}", h.getApartment)
	r.Put("/apartments/{apartmentID}", h.updateApartment)
	r.Post("/apartments/{apartmentID}/status", h.setApartmentStatus)
	r.Post("/apartments/{apartmentID}/residents", h.createResident)
	r.Get("/apartments/{apartmentID}/residents", h.listResidents)
	r.Put("/residents/{residentID}", h.updateResident)
	r.Delete("/residents/{residentID}", h.deleteResident)
}

type buildingRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	Address string `json:"address" validate:"max=255"`
}

type apartmentRequest struct {
	Number             string `json:"number" validate:"required,max=32"`
	Floor              int    `json:"floor"`
	SubscriptionAmount string `json:"subscription_amount" validate:"omitempty"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE INACTIVE"`
}

type residentRequest struct {
	Name      string `json:"name" validate:"required,max=255"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"max=32"`
	IsPrimary bool   `json:"is_primary"`
}

type buildingResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	CreatedAt string `json:"created_at"`
}

type apartmentResponse struct {
	ID                 int64   `json:"id"`
	BuildingID         int64   `json:"building_id"`
	Number             string  `json:"number"`
	Floor              int     `json:"floor"`
	Status             string  `json:"status"`
	SubscriptionAmount *string `json:"subscription_amount,omitempty"`
	CachedBalance      string  `json:"cached_balance"`
}

type residentResponse struct {
	ID          int64  `json:"id"`
	ApartmentID int64  `json:"apartment_id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	IsPrimary   bool   `json:"is_primary"`
}

func toBuildingResponse(b Building) buildingResponse {
	return buildingResponse{ID: b.ID, Name: b.Name, Address: b.Address, CreatedAt: b.CreatedAt.Format(time.RFC3339)}
}

func toApartmentResponse(a Apartment) apartmentResponse {
	out := apartmentResponse{
		ID:            a.ID,
		BuildingID:    a.BuildingID,
		Number:        a.Number,
		Floor:         a.Floor,
		Status:        string(a.Status),
		CachedBalance: a.CachedBalance.StringFixed(2),
	}
	if a.SubscriptionAmount != nil {
		v := a.SubscriptionAmount.StringFixed(2)
		out.SubscriptionAmount = &v
	}
	return out
}

func toResidentResponse(r Resident) residentResponse {
	return residentResponse{ID: r.ID, ApartmentID: r.ApartmentID, Name: r.Name, Email: r.Email, Phone: r.Phone, IsPrimary: r.IsPrimary}
}

func (h *Handler) createBuilding(w http.ResponseWriter, r *http.Request) {
	var req buildingRequest
	if !h.decode(w, r, &req) {
		return
	}
	building, err := h.service.CreateBuilding(r.Context(), BuildingInput{Name: req.Name, Address: req.Address})
	if err != nil {
		h.logger.Error("create building", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBuildingResponse(building))
}

func (h *Handler) listBuildings(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	buildings, err := h.service.ListBuildings(r.Context(), limit, offset)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]buildingResponse, 0, len(buildings))
	for _, b := range buildings {
		out = append(out, toBuildingResponse(b))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"buildings": out})
}

func (h *Handler) getBuilding(w http.ResponseWriter, r *http.Request) {
	buildingID, ok := pathID(w, r, "buildingID", "building")
	if !ok {
		return
	}
	building, err := h.service.GetBuilding(r.Context(), buildingID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBuildingResponse(building))
}

func (h *Handler) updateBuilding(w http.ResponseWriter, r *http.Request) {
	buildingID, ok := pathID(w, r, "buildingID", "building")
	if !ok {
		return
	}
	var req buildingRequest
	if !h.decode(w, r, &req) {
		return
	}
	building, err := h.service.UpdateBuilding(r.Context(), buildingID, BuildingInput{Name: req.Name, Address: req.Address})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBuildingResponse(building))
}

func (h *Handler) createApartment(w http.ResponseWriter, r *http.Request) {
	buildingID, ok := pathID(w, r, "buildingID", "building")
	if !ok {
		return
	}
	in, ok := h.decodeApartment(w, r, buildingID)
	if !ok {
		return
	}
	apartment, err := h.service.CreateApartment(r.Context(), in)
	if err != nil {
		h.logger.Error("create apartment", slog.Int64("building_id", buildingID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toApartmentResponse(apartment))
}

func (h *Handler) listApartments(w http.ResponseWriter, r *http.Request) {
	buildingID, ok := pathID(w, r, "buildingID", "building")
	if !ok {
		return
	}
	apartments, err := h.service.ListApartments(r.Context(), buildingID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]apartmentResponse, 0, len(apartments))
	for _, a := range apartments {
		out = append(out, toApartmentResponse(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"apartments": out})
}

func (h *Handler) getApartment(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := pathID(w, r, "apartmentID", "apartment")
	if !ok {
		return
	}
	apartment, err := h.service.GetApartment(r.Context(), apartmentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toApartmentResponse(apartment))
}

func (h *Handler) updateApartment(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := pathID(w, r, "apartmentID", "apartment")
	if !ok {
		return
	}
	existing, err := h.service.GetApartment(r.Context(), apartmentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, ok := h.decodeApartment(w, r, existing.BuildingID)
	if !ok {
		return
	}
	apartment, err := h.service.UpdateApartment(r.Context(), apartmentID, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toApartmentResponse(apartment))
}

func (h *Handler) decodeApartment(w http.ResponseWriter, r *http.Request, buildingID int64) (ApartmentInput, bool) {
	var req apartmentRequest
	if !h.decode(w, r, &req) {
		return ApartmentInput{}, false
	}
	in := ApartmentInput{BuildingID: buildingID, Number: req.Number, Floor: req.Floor}
	if req.SubscriptionAmount != "" {
		amount, err := decimal.NewFromString(req.SubscriptionAmount)
		if err != nil {
			httpx.RespondError(w, shared.ErrInvalidAmount)
			return ApartmentInput{}, false
		}
		in.SubscriptionAmount = &amount
	}
	return in, true
}

func (h *Handler) setApartmentStatus(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := pathID(w, r, "apartmentID", "apartment")
	if !ok {
		return
	}
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetApartmentStatus(r.Context(), apartmentID, ApartmentStatus(req.Status)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createResident(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := pathID(w, r, "apartmentID", "apartment")
	if !ok {
		return
	}
	var req residentRequest
	if !h.decode(w, r, &req) {
		return
	}
	resident, err := h.service.CreateResident(r.Context(), ResidentInput{
		ApartmentID: apartmentID,
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		IsPrimary:   req.IsPrimary,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResidentResponse(resident))
}

func (h *Handler) listResidents(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := pathID(w, r, "apartmentID", "apartment")
	if !ok {
		return
	}
	residents, err := h.service.ListResidents(r.Context(), apartmentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]residentResponse, 0, len(residents))
	for _, res := range residents {
		out = append(out, toResidentResponse(res))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"residents": out})
}

func (h *Handler) updateResident(w http.ResponseWriter, r *http.Request) {
	residentID, ok := pathID(w, r, "residentID", "resident")
	if !ok {
		return
	}
	var req residentRequest
	if !h.decode(w, r, &req) {
		return
	}
	resident, err := h.service.UpdateResident(r.Context(), residentID, ResidentInput{
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		IsPrimary: req.IsPrimary,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResidentResponse(resident))
}

func (h *Handler) deleteResident(w http.ResponseWriter, r *http.Request) {
	residentID, ok := pathID(w, r, "residentID", "resident")
	if !ok {
		return
	}
	if err := h.service.DeleteResident(r.Context(), residentID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, param, label string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Reference", label+" id must be a positive integer")
		return 0, false
	}
	return id, true
}
