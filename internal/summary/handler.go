package summary

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/strata-hq/strata/internal/platform/httpx"
)

// Handler serves collection summaries.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers summary routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/buildings/{buildingID}/summary/{month}", h.monthly)
	r.Post("/buildings/{buildingID}/summary/{month}/refresh", h.refresh)
}

func (h *Handler) monthly(w http.ResponseWriter, r *http.Request) {
	buildingID, ok := pathID(w, r)
	if !ok {
		return
	}
	month := chi.URLParam(r, "month")
	totals, err := h.service.Monthly(r.Context(), buildingID, month)
	if err != nil {
		h.logger.Error("monthly summary", slog.Int64("building_id", buildingID), slog.String("month", month), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"building_id":     totals.BuildingID,
		"month":           totals.Month,
		"total_billed":    totals.TotalBilled.StringFixed(2),
		"total_collected": totals.TotalCollected.StringFixed(2),
		"outstanding":     totals.Outstanding.StringFixed(2),
		"payment_count":   totals.PaymentCount,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	buildingID, ok := pathID(w, r)
	if !ok {
		return
	}
	month := chi.URLParam(r, "month")
	if err := h.service.Refresh(r.Context(), buildingID, month); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "buildingID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Reference", "building id must be a positive integer")
		return 0, false
	}
	return id, true
}
