package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicehub/orchestrator/pkg/model"
	"github.com/servicehub/orchestrator/pkg/store"
	"github.com/servicehub/orchestrator/pkg/store/storetest"
)

func newEvent(eventType string, now time.Time) *model.Event {
	return &model.Event{
		EventType:     eventType,
		EventName:     "test event",
		SourceModule:  "api",
		TargetModules: model.StringList{"jobs", "payments"},
		Payload:       model.JSONB{"quote_id": 42},
		Metadata:      model.JSONB{},
		Status:        model.EventPending,
		MaxRetries:    3,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestEventRepositoryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := storetest.New(t).Events()
	now := time.Now().UTC()

	first := newEvent("quote.approved", now)
	second := newEvent("quote.approved", now)
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))
	assert.Greater(t, second.ID, first.ID)

	loaded, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "quote.approved", loaded.EventType)
	assert.Equal(t, model.StringList{"jobs", "payments"}, loaded.TargetModules)
	assert.Equal(t, float64(42), loaded.Payload["quote_id"])
	assert.Equal(t, model.EventPending, loaded.Status)

	_, err = repo.GetByID(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEventRepositoryClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := storetest.New(t).Events()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newEvent("job.created", now)))
	}

	claimed, err := repo.Claim(ctx, "worker-a", 2, now)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, event := range claimed {
		assert.Equal(t, model.EventProcessing, event.Status)
		assert.Equal(t, "worker-a", event.ClaimedBy)
		assert.NotEmpty(t, event.ClaimToken)
		require.NotNil(t, event.ClaimedAt)
	}

	rest, err := repo.Claim(ctx, "worker-b", 10, now)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.NotContains(t, []uint64{claimed[0].ID, claimed[1].ID}, rest[0].ID)

	none, err := repo.Claim(ctx, "worker-c", 10, now)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEventRepositoryClaimHonoursBackoff(t *testing.T) {
	ctx := context.Background()
	repo := storetest.New(t).Events()
	now := time.Now().UTC()

	later := newEvent("job.created", now)
	later.NextAttemptAt = now.Add(time.Minute)
	require.NoError(t, repo.Create(ctx, later))

	claimed, err := repo.Claim(ctx, "worker-a", 10, now)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = repo.Claim(ctx, "worker-a", 10, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestEventRepositoryCompleteRequiresClaim(t *testing.T) {
	ctx := context.Background()
	repo := storetest.New(t).Events()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, newEvent("job.created", now)))
	claimed, err := repo.Claim(ctx, "worker-a", 1, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	event := claimed[0]

	err = repo.Complete(ctx, event.ID, "stale-token", nil, now)
	assert.ErrorIs(t, err, store.ErrClaimLost)

	require.NoError(t, repo.Complete(ctx, event.ID, event.ClaimToken, model.JSONB{"job_id": 7}, now))

	loaded, err := repo.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventCompleted, loaded.Status)
	assert.NotNil(t, loaded.ProcessedAt)
	assert.Equal(t, float64(7), loaded.Result["job_id"])

	err = repo.Complete(ctx, event.ID, event.ClaimToken, nil, now)
	assert.ErrorIs(t, err, store.ErrClaimLost)
}

func TestEventRepositoryRetryThenFail(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	repo := s.Events()
	now := time.Now().UTC()

	event := newEvent("test.always_fail", now)
	event.MaxRetries = 1
	require.NoError(t, repo.Create(ctx, event))

	claimed, err := repo.Claim(ctx, "worker-a", 1, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, repo.ScheduleRetry(ctx, event.ID, claimed[0].ClaimToken, "boom", now, now))

	loaded, err := repo.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventRetry, loaded.Status)
	assert.Equal(t, 1, loaded.RetryCount)
	assert.Equal(t, "boom", loaded.LastError)

	claimed, err = repo.Claim(ctx, "worker-a", 1, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// The retry budget is spent; a further retry is refused.
	err = repo.ScheduleRetry(ctx, event.ID, claimed[0].ClaimToken, "boom", now, now)
	assert.ErrorIs(t, err, store.ErrClaimLost)

	record, err := repo.Fail(ctx, &claimed[0], claimed[0].ClaimToken, "boom again", "trace", now)
	require.NoError(t, err)
	assert.Equal(t, event.ID, record.EventID)
	assert.Equal(t, 1, record.RetryCount)

	loaded, err = repo.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventFailed, loaded.Status)

	count, err := s.DeadLetters().CountByEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEventRepositoryStuckEvents(t *testing.T) {
	ctx := context.Background()
	repo := storetest.New(t).Events()
	start := time.Now().UTC().Add(-10 * time.Minute)

	require.NoError(t, repo.Create(ctx, newEvent("job.created", start)))
	_, err := repo.Claim(ctx, "worker-a", 1, start)
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(-5 * time.Minute)
	stuck, err := repo.ListStuck(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Len(t, stuck, 1)

	count, err := repo.CountStuck(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = repo.CountStuck(ctx, start.Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEventRepositoryResetFailedEventDropsDeadLetter(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	repo := s.Events()
	now := time.Now().UTC()

	event := newEvent("test.always_fail", now)
	event.MaxRetries = 0
	require.NoError(t, repo.Create(ctx, event))
	claimed, err := repo.Claim(ctx, "worker-a", 1, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	_, err = repo.Fail(ctx, &claimed[0], claimed[0].ClaimToken, "boom", "", now)
	require.NoError(t, err)

	reset, err := repo.Reset(ctx, event.ID, now)
	require.NoError(t, err)
	assert.Equal(t, model.EventPending, reset.Status)
	assert.Zero(t, reset.RetryCount)
	assert.Nil(t, reset.ProcessedAt)

	count, err := s.DeadLetters().CountByEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = repo.Reset(ctx, 4242, now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEventRepositoryResetRejectsProcessing(t *testing.T) {
	ctx := context.Background()
	repo := storetest.New(t).Events()
	now := time.Now().UTC()

	event := newEvent("job.created", now)
	require.NoError(t, repo.Create(ctx, event))
	_, err := repo.Claim(ctx, "worker-a", 1, now)
	require.NoError(t, err)

	_, err = repo.Reset(ctx, event.ID, now)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestEventRepositoryCounts(t *testing.T) {
	ctx := context.Background()
	repo := storetest.New(t).Events()
	now := time.Now().UTC()

	old := newEvent("job.created", now.Add(-48*time.Hour))
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, newEvent("job.created", now)))
	retrying := newEvent("job.created", now)
	retrying.Status = model.EventRetry
	require.NoError(t, repo.Create(ctx, retrying))

	pending, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pending)

	since := now.Add(-24 * time.Hour)
	counts, err := repo.CountByStatus(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.EventPending])
	assert.Equal(t, int64(1), counts[model.EventRetry])
	assert.Equal(t, int64(0), counts[model.EventFailed])

	all, err := repo.CountByStatus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all[model.EventPending])
}
