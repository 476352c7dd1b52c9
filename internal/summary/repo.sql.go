package summary

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLRepository computes totals straight from the billing tables.
type SQLRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs SQLRepository.
func NewRepository(pool *pgxpool.Pool) *SQLRepository {
	return &SQLRepository{pool: pool}
}

// MonthlyTotals aggregates billed, collected and outstanding figures for
// one building and month.
func (r *SQLRepository) MonthlyTotals(ctx context.Context, buildingID int64, month string) (MonthlyTotals, error) {
	totals := MonthlyTotals{BuildingID: buildingID, Month: month}

	err := r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(ae.amount), 0),
			COALESCE(SUM(ae.amount - ae.amount_paid), 0)
		FROM apartment_expenses ae
		JOIN expenses e ON e.id = ae.expense_id
		WHERE e.building_id = $1
		  AND NOT ae.is_canceled
		  AND to_char(e.expense_date, 'YYYY-MM') = $2`,
		buildingID, month).Scan(&totals.TotalBilled, &totals.Outstanding)
	if err != nil {
		return MonthlyTotals{}, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(p.amount), 0), COUNT(p.id)
		FROM payments p
		JOIN apartments a ON a.id = p.apartment_id
		WHERE a.building_id = $1
		  AND p.month = $2
		  AND NOT p.is_canceled`,
		buildingID, month).Scan(&totals.TotalCollected, &totals.PaymentCount)
	if err != nil {
		return MonthlyTotals{}, err
	}

	return totals, nil
}
