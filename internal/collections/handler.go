package collections

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/strata-hq/strata/internal/platform/httpx"
	"github.com/strata-hq/strata/internal/shared"
)

// Handler manages escalation endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers escalation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/collections/stages", h.listStages)
	r.Post("/collections/stages", h.createStage)
	r.Get("/collections/stages/{stageID}", h.getStage)
	r.Put("/collections/stages/{stageID}", h.updateStage)
	r.Post("/collections/evaluate", h.evaluate)
	r.Get("/apartments/{apartmentID}/collections", h.listLogs)
}

type stageRequest struct {
	StageNumber int    `json:"stage_number" validate:"required,min=1"`
	DaysOverdue int    `json:"days_overdue" validate:"min=0"`
	ActionType  string `json:"action_type" validate:"required,oneof=EMAIL LETTER LEGAL"`
	Template    string `json:"template" validate:"required,max=255"`
	IsActive    bool   `json:"is_active"`
}

type stageResponse struct {
	ID          int64  `json:"id"`
	StageNumber int    `json:"stage_number"`
	DaysOverdue int    `json:"days_overdue"`
	ActionType  string `json:"action_type"`
	Template    string `json:"template"`
	IsActive    bool   `json:"is_active"`
}

type logResponse struct {
	ID               int64  `json:"id"`
	StageNumber      int    `json:"stage_number"`
	EpisodeStartedOn string `json:"episode_started_on"`
	TriggeredAt      string `json:"triggered_at"`
}

func toStageResponse(s Stage) stageResponse {
	return stageResponse{
		ID:          s.ID,
		StageNumber: s.StageNumber,
		DaysOverdue: s.DaysOverdue,
		ActionType:  string(s.ActionType),
		Template:    s.Template,
		IsActive:    s.IsActive,
	}
}

func (h *Handler) listStages(w http.ResponseWriter, r *http.Request) {
	stages, err := h.service.ListStages(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]stageResponse, 0, len(stages))
	for _, s := range stages {
		out = append(out, toStageResponse(s))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stages": out})
}

func (h *Handler) createStage(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeStage(w, r)
	if !ok {
		return
	}
	stage, err := h.service.CreateStage(r.Context(), in, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("create stage", slog.Int("stage_number", in.StageNumber), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toStageResponse(stage))
}

func (h *Handler) getStage(w http.ResponseWriter, r *http.Request) {
	stageID, ok := pathID(w, r, "stageID", "stage")
	if !ok {
		return
	}
	stage, err := h.service.GetStage(r.Context(), stageID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toStageResponse(stage))
}

func (h *Handler) updateStage(w http.ResponseWriter, r *http.Request) {
	stageID, ok := pathID(w, r, "stageID", "stage")
	if !ok {
		return
	}
	in, ok := h.decodeStage(w, r)
	if !ok {
		return
	}
	stage, err := h.service.UpdateStage(r.Context(), stageID, in, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("update stage", slog.Int64("stage_id", stageID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toStageResponse(stage))
}

func (h *Handler) decodeStage(w http.ResponseWriter, r *http.Request) (StageInput, bool) {
	var req stageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return StageInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return StageInput{}, false
	}
	return StageInput{
		StageNumber: req.StageNumber,
		DaysOverdue: req.DaysOverdue,
		ActionType:  ActionType(req.ActionType),
		Template:    req.Template,
		IsActive:    req.IsActive,
	}, true
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Evaluate(r.Context())
	if err != nil {
		h.logger.Error("manual escalation pass", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"debtors":   report.Debtors,
		"triggered": report.Triggered,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	})
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	apartmentID, ok := pathID(w, r, "apartmentID", "apartment")
	if !ok {
		return
	}
	logs, err := h.service.ListLogs(r.Context(), apartmentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]logResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, logResponse{
			ID:               l.ID,
			StageNumber:      l.StageNumber,
			EpisodeStartedOn: l.EpisodeStartedOn.Format("2006-01-02"),
			TriggeredAt:      l.TriggeredAt.Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"logs": out})
}

func pathID(w http.ResponseWriter, r *http.Request, param, label string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Reference", label+" id must be a positive integer")
		return 0, false
	}
	return id, true
}
