package collections

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strata-hq/strata/internal/platform/db"
	"github.com/strata-hq/strata/internal/shared"
)

// Repository persists escalation stages and logs in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const stageSelectSQL = `
	SELECT id, stage_number, days_overdue, action_type, template, is_active, created_at
	FROM debt_collection_stages`

func (r *Repository) ListActiveStages(ctx context.Context) ([]Stage, error) {
	return r.queryStages(ctx, stageSelectSQL+` WHERE is_active ORDER BY days_overdue, stage_number`)
}

func (r *Repository) ListStages(ctx context.Context) ([]Stage, error) {
	return r.queryStages(ctx, stageSelectSQL+` ORDER BY days_overdue, stage_number`)
}

func (r *Repository) queryStages(ctx context.Context, sql string) ([]Stage, error) {
	rows, err := r.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stages []Stage
	for rows.Next() {
		var s Stage
		if err := rows.Scan(&s.ID, &s.StageNumber, &s.DaysOverdue, &s.ActionType, &s.Template, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func (r *Repository) GetStage(ctx context.Context, id int64) (Stage, error) {
	var s Stage
	err := r.pool.QueryRow(ctx, stageSelectSQL+` WHERE id = $1`, id).
		Scan(&s.ID, &s.StageNumber, &s.DaysOverdue, &s.ActionType, &s.Template, &s.IsActive, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return Stage{}, fmt.Errorf("collections: stage %d: %w", id, shared.ErrNotFound)
	}
	return s, err
}

func (r *Repository) CreateStage(ctx context.Context, in StageInput) (Stage, error) {
	var s Stage
	err := r.pool.QueryRow(ctx, `
		INSERT INTO debt_collection_stages (stage_number, days_overdue, action_type, template, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, stage_number, days_overdue, action_type, template, is_active, created_at`,
		in.StageNumber, in.DaysOverdue, in.ActionType, in.Template, in.IsActive).
		Scan(&s.ID, &s.StageNumber, &s.DaysOverdue, &s.ActionType, &s.Template, &s.IsActive, &s.CreatedAt)
	if db.IsUniqueViolation(err, "") {
		return Stage{}, fmt.Errorf("collections: stage number %d already configured: %w", in.StageNumber, shared.ErrValidation)
	}
	return s, err
}

func (r *Repository) UpdateStage(ctx context.Context, id int64, in StageInput) (Stage, error) {
	var s Stage
	err := r.pool.QueryRow(ctx, `
		UPDATE debt_collection_stages
		SET stage_number = $2, days_overdue = $3, action_type = $4, template = $5, is_active = $6
		WHERE id = $1
		RETURNING id, stage_number, days_overdue, action_type, template, is_active, created_at`,
		id, in.StageNumber, in.DaysOverdue, in.ActionType, in.Template, in.IsActive).
		Scan(&s.ID, &s.StageNumber, &s.DaysOverdue, &s.ActionType, &s.Template, &s.IsActive, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return Stage{}, fmt.Errorf("collections: stage %d: %w", id, shared.ErrNotFound)
	}
	if db.IsUniqueViolation(err, "") {
		return Stage{}, fmt.Errorf("collections: stage number %d already configured: %w", in.StageNumber, shared.ErrValidation)
	}
	return s, err
}

// ListDebtors finds every apartment with outstanding charges. The oldest
// outstanding charge's expense date only seeds a newly opened episode; an
// already open episode keeps its original start date.
func (r *Repository) ListDebtors(ctx context.Context) ([]Debtor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.building_id, SUM(ae.amount - ae.amount_paid), MIN(e.expense_date)
		FROM apartments a
		JOIN apartment_expenses ae ON ae.apartment_id = a.id AND NOT ae.is_canceled AND ae.amount_paid < ae.amount
		JOIN expenses e ON e.id = ae.expense_id
		GROUP BY a.id, a.building_id
		ORDER BY a.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var debtors []Debtor
	for rows.Next() {
		var d Debtor
		if err := rows.Scan(&d.ApartmentID, &d.BuildingID, &d.Debt, &d.OldestChargeOn); err != nil {
			return nil, err
		}
		debtors = append(debtors, d)
	}
	return debtors, rows.Err()
}

// CloseSettledEpisodes closes every open episode whose apartment no longer
// carries an outstanding charge. The next time that apartment falls into
// debt a fresh episode opens and the ladder starts over.
func (r *Repository) CloseSettledEpisodes(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE debt_episodes de
		SET closed_on = CURRENT_DATE
		WHERE de.closed_on IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM apartment_expenses ae
			WHERE ae.apartment_id = de.apartment_id
			  AND NOT ae.is_canceled
			  AND ae.amount_paid < ae.amount
		  )`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// OpenEpisode returns the apartment's open episode start date, opening one
// with startedOn when none exists. The partial unique index makes the upsert
// race-safe: a concurrent opener's row wins and both callers see its date.
func (r *Repository) OpenEpisode(ctx context.Context, apartmentID int64, startedOn time.Time) (time.Time, error) {
	var episodeStart time.Time
	err := r.pool.QueryRow(ctx, `
		INSERT INTO debt_episodes (apartment_id, started_on)
		VALUES ($1, $2)
		ON CONFLICT (apartment_id) WHERE closed_on IS NULL
		DO UPDATE SET apartment_id = EXCLUDED.apartment_id
		RETURNING started_on`, apartmentID, startedOn).Scan(&episodeStart)
	if err != nil {
		return time.Time{}, err
	}
	return episodeStart, nil
}

func (r *Repository) HasLog(ctx context.Context, apartmentID int64, stageNumber int, episodeStartedOn time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM debt_collection_logs
			WHERE apartment_id = $1 AND stage_number = $2 AND episode_started_on = $3
		)`, apartmentID, stageNumber, episodeStartedOn).Scan(&exists)
	return exists, err
}

func (r *Repository) InsertLog(ctx context.Context, log Log) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO debt_collection_logs (apartment_id, stage_number, episode_started_on, triggered_at)
		VALUES ($1, $2, $3, $4)`,
		log.ApartmentID, log.StageNumber, log.EpisodeStartedOn, log.TriggeredAt)
	if db.IsUniqueViolation(err, "") {
		return fmt.Errorf("collections: apartment %d stage %d: %w", log.ApartmentID, log.StageNumber, ErrAlreadyTriggered)
	}
	return err
}

func (r *Repository) ListLogs(ctx context.Context, apartmentID int64) ([]Log, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, apartment_id, stage_number, episode_started_on, triggered_at
		FROM debt_collection_logs
		WHERE apartment_id = $1
		ORDER BY triggered_at DESC, id DESC`, apartmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.ApartmentID, &l.StageNumber, &l.EpisodeStartedOn, &l.TriggeredAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
