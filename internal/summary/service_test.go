package summary

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/strata-hq/strata/internal/shared"
)

type mockSummaryRepo struct {
	totals MonthlyTotals
	calls  int
}

func (m *mockSummaryRepo) MonthlyTotals(context.Context, int64, string) (MonthlyTotals, error) {
	m.calls++
	return m.totals, nil
}

func newCachedService(t *testing.T, repo Repository, ttl time.Duration) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(repo, NewCache(client, ttl)), mr
}

func TestMonthlyServedFromCacheUntilTTL(t *testing.T) {
	repo := &mockSummaryRepo{totals: MonthlyTotals{
		BuildingID:     1,
		Month:          "2026-03",
		TotalBilled:    decimal.RequireFromString("300.00"),
		TotalCollected: decimal.RequireFromString("180.00"),
		Outstanding:    decimal.RequireFromString("120.00"),
		PaymentCount:   6,
	}}
	svc, mr := newCachedService(t, repo, time.Minute)

	first, err := svc.Monthly(context.Background(), 1, "2026-03")
	require.NoError(t, err)
	require.True(t, first.TotalBilled.Equal(decimal.RequireFromString("300.00")))
	require.Equal(t, 1, repo.calls)

	second, err := svc.Monthly(context.Background(), 1, "2026-03")
	require.NoError(t, err)
	require.True(t, second.TotalCollected.Equal(first.TotalCollected))
	require.Equal(t, 1, repo.calls)

	mr.FastForward(2 * time.Minute)

	_, err = svc.Monthly(context.Background(), 1, "2026-03")
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)
}

func TestRefreshDropsCachedEntry(t *testing.T) {
	repo := &mockSummaryRepo{totals: MonthlyTotals{BuildingID: 1, Month: "2026-03"}}
	svc, _ := newCachedService(t, repo, time.Hour)

	_, err := svc.Monthly(context.Background(), 1, "2026-03")
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)

	require.NoError(t, svc.Refresh(context.Background(), 1, "2026-03"))

	_, err = svc.Monthly(context.Background(), 1, "2026-03")
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)
}

func TestMonthlyRejectsBadMonth(t *testing.T) {
	svc, _ := newCachedService(t, &mockSummaryRepo{}, time.Minute)
	_, err := svc.Monthly(context.Background(), 1, "March")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMonthlyWorksWithoutRedis(t *testing.T) {
	repo := &mockSummaryRepo{totals: MonthlyTotals{BuildingID: 2, Month: "2026-04", PaymentCount: 3}}
	svc := NewService(repo, NewCache(nil, time.Minute))

	totals, err := svc.Monthly(context.Background(), 2, "2026-04")
	require.NoError(t, err)
	require.Equal(t, int64(3), totals.PaymentCount)
	require.Equal(t, 1, repo.calls)

	_, err = svc.Monthly(context.Background(), 2, "2026-04")
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)
}
