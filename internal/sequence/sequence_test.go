package sequence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/strata-hq/strata/internal/shared"
)

type memoryIncrementer struct {
	mu       sync.Mutex
	counters map[string]int64
	failures int
}

func (m *memoryIncrementer) Increment(ctx context.Context, prefix string, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return 0, &pgconn.PgError{Code: "40001"}
	}
	if m.counters == nil {
		m.counters = make(map[string]int64)
	}
	key := fmt.Sprintf("%s/%d", prefix, year)
	m.counters[key]++
	return m.counters[key], nil
}

func TestNextStartsAtOneAndIncreases(t *testing.T) {
	alloc := NewAllocator(&memoryIncrementer{})
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		got, err := alloc.Next(ctx, "REC", 2026)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	// A different key keeps its own counter.
	got, err := alloc.Next(ctx, "INV", 2026)
	require.NoError(t, err)
	require.Equal(t, int64(1), got)

	got, err = alloc.Next(ctx, "REC", 2025)
	require.NoError(t, err)
	require.Equal(t, int64(1), got)
}

func TestNextUniqueUnderConcurrency(t *testing.T) {
	alloc := NewAllocator(&memoryIncrementer{})
	ctx := context.Background()

	const n = 50
	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := alloc.Next(ctx, "REC", 2026)
			require.NoError(t, err)
			results <- got
		}()
	}
	wg.Wait()
	close(results)

	seen := make([]int64, 0, n)
	for v := range results {
		seen = append(seen, v)
	}
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	require.Len(t, seen, n)
	for i, v := range seen {
		require.Equal(t, int64(i+1), v, "numbers must be distinct with no gaps")
	}
}

func TestNextRetriesSerializationFailures(t *testing.T) {
	alloc := NewAllocator(&memoryIncrementer{failures: 2})

	got, err := alloc.Next(context.Background(), "REC", 2026)
	require.NoError(t, err)
	require.Equal(t, int64(1), got)
}

func TestNextSurfacesConflictAfterRetryBudget(t *testing.T) {
	alloc := NewAllocator(&memoryIncrementer{failures: 10}).WithRetries(2)

	_, err := alloc.Next(context.Background(), "REC", 2026)
	require.ErrorIs(t, err, shared.ErrSequenceConflict)

	// The driver error stays reachable so callers can tell a transient
	// conflict from a permanent one.
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "40001", pgErr.Code)
}

func TestZeroRetryAllocatorFailsOnFirstConflict(t *testing.T) {
	inc := &memoryIncrementer{failures: 1}
	alloc := &Allocator{inc: inc}

	_, err := alloc.Next(context.Background(), "REC", 2026)
	require.ErrorIs(t, err, shared.ErrSequenceConflict)
	require.Zero(t, inc.failures, "exactly one attempt consumed")

	got, err := alloc.Next(context.Background(), "REC", 2026)
	require.NoError(t, err)
	require.Equal(t, int64(1), got)
}

func TestNextRejectsEmptyPrefix(t *testing.T) {
	alloc := NewAllocator(&memoryIncrementer{})

	_, err := alloc.Next(context.Background(), "", 2026)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFormat(t *testing.T) {
	require.Equal(t, "REC-2026-000123", Format("REC", 2026, 123))
	require.Equal(t, "INV-2025-000001", Format("INV", 2025, 1))
}
