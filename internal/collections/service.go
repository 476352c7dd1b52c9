package collections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/strata-hq/strata/internal/shared"
)

// ErrAlreadyTriggered marks a stage that a concurrent evaluator logged
// first. It is an idempotency signal, not a failure.
var ErrAlreadyTriggered = errors.New("collections: stage already triggered for episode")

// RepositoryPort abstracts escalation persistence.
type RepositoryPort interface {
	ListActiveStages(ctx context.Context) ([]Stage, error)
	ListStages(ctx context.Context) ([]Stage, error)
	GetStage(ctx context.Context, id int64) (Stage, error)
	CreateStage(ctx context.Context, in StageInput) (Stage, error)
	UpdateStage(ctx context.Context, id int64, in StageInput) (Stage, error)
	ListDebtors(ctx context.Context) ([]Debtor, error)
	CloseSettledEpisodes(ctx context.Context) (int64, error)
	OpenEpisode(ctx context.Context, apartmentID int64, startedOn time.Time) (time.Time, error)
	HasLog(ctx context.Context, apartmentID int64, stageNumber int, episodeStartedOn time.Time) (bool, error)
	InsertLog(ctx context.Context, log Log) error
	ListLogs(ctx context.Context, apartmentID int64) ([]Log, error)
}

// Notifier dispatches an escalation action. Dispatch must complete before
// the log row is written; a failed dispatch leaves no log row so the next
// pass retries it.
type Notifier interface {
	Dispatch(ctx context.Context, n Notification) error
}

// AuditPort records stage configuration changes for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service walks debtors through the configured escalation ladder.
type Service struct {
	repo     RepositoryPort
	notifier Notifier
	audit    AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the escalation service.
func NewService(repo RepositoryPort, notifier Notifier, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Evaluate runs one escalation pass over every apartment with outstanding
// debt. Settled episodes are closed first, so the next debt opens a fresh
// episode and the ladder starts over. An apartment's failure never blocks
// the rest of the pass.
func (s *Service) Evaluate(ctx context.Context) (Report, error) {
	stages, err := s.repo.ListActiveStages(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("collections: load stages: %w", err)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].DaysOverdue < stages[j].DaysOverdue })

	if _, err := s.repo.CloseSettledEpisodes(ctx); err != nil {
		return Report{}, fmt.Errorf("collections: close settled episodes: %w", err)
	}

	debtors, err := s.repo.ListDebtors(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("collections: load debtors: %w", err)
	}

	report := Report{Debtors: len(debtors)}
	asOf := s.now().UTC()
	for _, debtor := range debtors {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		episodeStart, err := s.repo.OpenEpisode(ctx, debtor.ApartmentID, debtor.OldestChargeOn)
		if err != nil {
			report.Failed++
			s.logger.Error("escalation episode",
				slog.Int64("apartment_id", debtor.ApartmentID),
				slog.Any("error", err))
			continue
		}
		s.evaluateDebtor(ctx, debtor, episodeStart, stages, asOf, &report)
	}
	return report, nil
}

func (s *Service) evaluateDebtor(ctx context.Context, debtor Debtor, episodeStart time.Time, stages []Stage, asOf time.Time, report *Report) {
	daysOverdue := daysBetween(episodeStart, asOf)
	for _, stage := range stages {
		if daysOverdue < stage.DaysOverdue {
			break
		}
		triggered, err := s.repo.HasLog(ctx, debtor.ApartmentID, stage.StageNumber, episodeStart)
		if err != nil {
			report.Failed++
			s.logger.Error("escalation lookup",
				slog.Int64("apartment_id", debtor.ApartmentID),
				slog.Int("stage", stage.StageNumber),
				slog.Any("error", err))
			continue
		}
		if triggered {
			report.Skipped++
			continue
		}
		if err := s.notifier.Dispatch(ctx, Notification{
			ApartmentID: debtor.ApartmentID,
			BuildingID:  debtor.BuildingID,
			StageNumber: stage.StageNumber,
			ActionType:  stage.ActionType,
			Template:    stage.Template,
			Debt:        debtor.Debt,
			DaysOverdue: daysOverdue,
		}); err != nil {
			report.Failed++
			s.logger.Error("escalation dispatch",
				slog.Int64("apartment_id", debtor.ApartmentID),
				slog.Int("stage", stage.StageNumber),
				slog.Any("error", err))
			continue
		}
		err = s.repo.InsertLog(ctx, Log{
			ApartmentID:      debtor.ApartmentID,
			StageNumber:      stage.StageNumber,
			EpisodeStartedOn: episodeStart,
			TriggeredAt:      asOf,
		})
		switch {
		case errors.Is(err, ErrAlreadyTriggered):
			report.Skipped++
		case err != nil:
			report.Failed++
			s.logger.Error("escalation log",
				slog.Int64("apartment_id", debtor.ApartmentID),
				slog.Int("stage", stage.StageNumber),
				slog.Any("error", err))
		default:
			report.Triggered++
		}
	}
}

func daysBetween(from, to time.Time) int {
	from = from.UTC().Truncate(24 * time.Hour)
	to = to.UTC().Truncate(24 * time.Hour)
	return int(to.Sub(from).Hours() / 24)
}

// CreateStage adds a rung to the escalation ladder.
func (s *Service) CreateStage(ctx context.Context, in StageInput, actorID int64) (Stage, error) {
	if err := validateStageInput(in); err != nil {
		return Stage{}, err
	}
	stage, err := s.repo.CreateStage(ctx, in)
	if err != nil {
		return Stage{}, err
	}
	s.recordAudit(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "collections.stage.create",
		Entity:   "debt_collection_stage",
		EntityID: fmt.Sprintf("%d", stage.ID),
		Meta:     map[string]any{"stage_number": stage.StageNumber, "days_overdue": stage.DaysOverdue},
		At:       s.now(),
	})
	return stage, nil
}

// UpdateStage replaces a stage's fields.
func (s *Service) UpdateStage(ctx context.Context, id int64, in StageInput, actorID int64) (Stage, error) {
	if err := validateStageInput(in); err != nil {
		return Stage{}, err
	}
	stage, err := s.repo.UpdateStage(ctx, id, in)
	if err != nil {
		return Stage{}, err
	}
	s.recordAudit(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "collections.stage.update",
		Entity:   "debt_collection_stage",
		EntityID: fmt.Sprintf("%d", stage.ID),
		Meta:     map[string]any{"stage_number": stage.StageNumber, "days_overdue": stage.DaysOverdue},
		At:       s.now(),
	})
	return stage, nil
}

func (s *Service) recordAudit(ctx context.Context, log shared.AuditLog) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, log)
	}
}

func validateStageInput(in StageInput) error {
	if in.StageNumber <= 0 {
		return fmt.Errorf("collections: stage number must be positive: %w", shared.ErrValidation)
	}
	if in.DaysOverdue < 0 {
		return fmt.Errorf("collections: days overdue must not be negative: %w", shared.ErrValidation)
	}
	if !in.ActionType.Valid() {
		return fmt.Errorf("collections: unknown action type %q: %w", in.ActionType, shared.ErrValidation)
	}
	if in.Template == "" {
		return fmt.Errorf("collections: template is required: %w", shared.ErrValidation)
	}
	return nil
}

// ListStages returns every stage, active and paused.
func (s *Service) ListStages(ctx context.Context) ([]Stage, error) {
	return s.repo.ListStages(ctx)
}

// GetStage returns one stage.
func (s *Service) GetStage(ctx context.Context, id int64) (Stage, error) {
	return s.repo.GetStage(ctx, id)
}

// ListLogs returns an apartment's escalation history.
func (s *Service) ListLogs(ctx context.Context, apartmentID int64) ([]Log, error) {
	return s.repo.ListLogs(ctx, apartmentID)
}
