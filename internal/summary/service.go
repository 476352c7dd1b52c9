package summary

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/strata-hq/strata/internal/shared"
)

// MonthlyTotals is the building-level dashboard figure for one month.
type MonthlyTotals struct {
	BuildingID     int64           `json:"building_id"`
	Month          string          `json:"month"`
	TotalBilled    decimal.Decimal `json:"total_billed"`
	TotalCollected decimal.Decimal `json:"total_collected"`
	Outstanding    decimal.Decimal `json:"outstanding"`
	PaymentCount   int64           `json:"payment_count"`
}

// Repository computes collection totals from the ledger tables.
type Repository interface {
	MonthlyTotals(ctx context.Context, buildingID int64, month string) (MonthlyTotals, error)
}

// Service serves cached collection summaries.
type Service struct {
	repo  Repository
	cache *Cache
}

// NewService constructs the summary service.
func NewService(repo Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Monthly returns a building's collection totals for the month, from cache
// when fresh.
func (s *Service) Monthly(ctx context.Context, buildingID int64, month string) (MonthlyTotals, error) {
	if _, err := shared.ParseMonth(month); err != nil {
		return MonthlyTotals{}, fmt.Errorf("summary: month %q: %w", month, shared.ErrValidation)
	}
	key := monthlyKey(buildingID, month)
	var totals MonthlyTotals
	err := s.cache.FetchJSON(ctx, key, &totals, func(ctx context.Context) (interface{}, error) {
		return s.repo.MonthlyTotals(ctx, buildingID, month)
	})
	if err != nil {
		return MonthlyTotals{}, err
	}
	return totals, nil
}

// Refresh drops the cached entry so the next read recomputes.
func (s *Service) Refresh(ctx context.Context, buildingID int64, month string) error {
	if _, err := shared.ParseMonth(month); err != nil {
		return fmt.Errorf("summary: month %q: %w", month, shared.ErrValidation)
	}
	return s.cache.Invalidate(ctx, monthlyKey(buildingID, month))
}

func monthlyKey(buildingID int64, month string) string {
	return buildKey("monthly", strconv.FormatInt(buildingID, 10), month)
}
