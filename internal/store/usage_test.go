package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeUsage(tenantID uuid.UUID, now time.Time) *models.Usage {
	return &models.Usage{
		TenantID:         tenantID,
		Tier:             models.TierFree,
		GenerationsLimit: 10,
		PeriodStart:      now,
		PeriodEnd:        now.AddDate(0, 1, 0),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestUsage_GetOrCreateIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	tenantID := uuid.New()

	u, err := s.GetOrCreateUsage(ctx, freeUsage(tenantID, now))
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, u.Tier)
	assert.Equal(t, 10, u.GenerationsLimit)

	_, err = s.ReserveCredits(ctx, tenantID, 3, now)
	require.NoError(t, err)

	again, err := s.GetOrCreateUsage(ctx, freeUsage(tenantID, now))
	require.NoError(t, err)
	assert.Equal(t, 3, again.GenerationsReserved, "existing record must not be overwritten")
}

func TestUsage_ReserveRespectsCeiling(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	tenantID := uuid.New()

	_, err := s.GetOrCreateUsage(ctx, freeUsage(tenantID, now))
	require.NoError(t, err)

	u, err := s.ReserveCredits(ctx, tenantID, 8, now)
	require.NoError(t, err)
	assert.Equal(t, 8, u.GenerationsReserved)

	_, err = s.ReserveCredits(ctx, tenantID, 3, now)
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	u, err = s.ReserveCredits(ctx, tenantID, 2, now)
	require.NoError(t, err)
	assert.Equal(t, 10, u.GenerationsReserved)

	_, err = s.ReserveCredits(ctx, uuid.New(), 1, now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsage_ConcurrentReservationsNeverOvershoot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	tenantID := uuid.New()

	_, err := s.GetOrCreateUsage(ctx, freeUsage(tenantID, now))
	require.NoError(t, err)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ReserveCredits(ctx, tenantID, 1, now)
			if err == nil {
				granted.Add(1)
				return
			}
			assert.True(t, errors.Is(err, store.ErrConditionFailed), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), granted.Load())
	u, err := s.GetOrCreateUsage(ctx, freeUsage(tenantID, now))
	require.NoError(t, err)
	assert.Equal(t, 10, u.GenerationsReserved)
}

func TestUsage_UnlimitedNeverDenied(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	tenantID := uuid.New()

	initial := freeUsage(tenantID, now)
	initial.Tier = models.TierEnterprise
	initial.GenerationsLimit = models.UnlimitedGenerations
	_, err := s.GetOrCreateUsage(ctx, initial)
	require.NoError(t, err)

	u, err := s.ReserveCredits(ctx, tenantID, 10000, now)
	require.NoError(t, err)
	assert.Equal(t, 10000, u.GenerationsReserved)
}

func TestUsage_ReleaseFloorsAtZero(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	tenantID := uuid.New()

	_, err := s.GetOrCreateUsage(ctx, freeUsage(tenantID, now))
	require.NoError(t, err)
	_, err = s.ReserveCredits(ctx, tenantID, 4, now)
	require.NoError(t, err)

	u, err := s.ReleaseCredits(ctx, tenantID, 6, now)
	require.NoError(t, err)
	assert.Equal(t, 0, u.GenerationsReserved)

	_, err = s.ReleaseCredits(ctx, uuid.New(), 1, now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsage_ConsumeConvertsReservation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	tenantID := uuid.New()

	_, err := s.GetOrCreateUsage(ctx, freeUsage(tenantID, now))
	require.NoError(t, err)
	_, err = s.ReserveCredits(ctx, tenantID, 5, now)
	require.NoError(t, err)

	jobID := uuid.New()
	u, err := s.ConsumeCredits(ctx, &models.GenerationEntry{
		ID: uuid.New(), TenantID: tenantID, JobID: &jobID,
		Type: models.JobTypeGenerateDraft, Count: 3, CreatedAt: now.Add(time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, u.GenerationsThisMonth)
	assert.Equal(t, 2, u.GenerationsReserved)

	total, err := s.SumGenerations(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, err = s.ConsumeCredits(ctx, &models.GenerationEntry{
		ID: uuid.New(), TenantID: uuid.New(), Type: models.JobTypeGenerateDraft, Count: 1, CreatedAt: now,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsage_SumGenerationsByType(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	tenantID := uuid.New()

	_, err := s.GetOrCreateUsage(ctx, freeUsage(tenantID, now))
	require.NoError(t, err)

	entries := []struct {
		typ models.JobType
		n   int
		at  time.Time
	}{
		{models.JobTypeGenerateQuestions, 2, now.Add(time.Minute)},
		{models.JobTypeGenerateQuestions, 1, now.Add(2 * time.Minute)},
		{models.JobTypeFactCheck, 1, now.Add(3 * time.Minute)},
		{models.JobTypeFactCheck, 4, now.Add(-48 * time.Hour)},
	}
	for _, e := range entries {
		_, err := s.ConsumeCredits(ctx, &models.GenerationEntry{
			ID: uuid.New(), TenantID: tenantID, Type: e.typ, Count: e.n, CreatedAt: e.at,
		})
		require.NoError(t, err)
	}

	sums, err := s.SumGenerationsByType(ctx, tenantID, now, now.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, sums[models.JobTypeGenerateQuestions])
	assert.Equal(t, 1, sums[models.JobTypeFactCheck])

	total, err := s.SumGenerations(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 8, total)
}

func TestUsage_ResetGuardsOnObservedPeriod(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tenantID := uuid.New()

	initial := freeUsage(tenantID, start)
	initial.GenerationsThisMonth = 8
	_, err := s.GetOrCreateUsage(ctx, initial)
	require.NoError(t, err)

	newStart := start.AddDate(0, 1, 0)
	newEnd := newStart.AddDate(0, 1, 0)
	u, err := s.ResetUsage(ctx, tenantID, start, newStart, newEnd, newStart)
	require.NoError(t, err)
	assert.Equal(t, 0, u.GenerationsThisMonth)
	assert.True(t, u.PeriodStart.Equal(newStart))
	assert.True(t, u.PeriodEnd.Equal(newEnd))

	_, err = s.ResetUsage(ctx, tenantID, start, newStart, newEnd, newStart)
	assert.ErrorIs(t, err, store.ErrConditionFailed, "stale observed period must not reset twice")

	_, err = s.ResetUsage(ctx, uuid.New(), start, newStart, newEnd, newStart)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsage_SetTier(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	tenantID := uuid.New()

	_, err := s.GetOrCreateUsage(ctx, freeUsage(tenantID, now))
	require.NoError(t, err)

	u, err := s.SetTier(ctx, tenantID, models.TierPro, 100, now)
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, u.Tier)
	assert.Equal(t, 100, u.GenerationsLimit)

	_, err = s.SetTier(ctx, uuid.New(), models.TierPro, 100, now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
