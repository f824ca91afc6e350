package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/artpar/apppublish/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

var baseTime = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func testRun(id string, startedAt time.Time) *domain.PublishRun {
	return &domain.PublishRun{
		ID:         id,
		Target:     "BC",
		TargetKind: domain.TargetLocalServer,
		Transport:  domain.TransportHTTP,
		Packages:   2,
		Status:     domain.RunStatusRunning,
		StartedAt:  startedAt,
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestCreateRun_Success(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, testRun("run-1", baseTime)))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "BC", got.Target)
	assert.Equal(t, domain.TargetLocalServer, got.TargetKind)
	assert.Equal(t, domain.TransportHTTP, got.Transport)
	assert.Equal(t, 2, got.Packages)
	assert.Equal(t, domain.RunStatusRunning, got.Status)
	assert.True(t, baseTime.Equal(got.StartedAt))
	assert.Nil(t, got.FinishedAt)
}

func TestCreateRun_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, testRun("run-1", baseTime)))
	err := store.CreateRun(ctx, testRun("run-1", baseTime))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestGetRun_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	var serr *StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "GetRun", serr.Op)
	assert.Equal(t, "missing", serr.ID)
}

func TestFinishRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, testRun("run-1", baseTime)))

	finished := baseTime.Add(42 * time.Second)
	require.NoError(t, store.FinishRun(ctx, "run-1", domain.RunStatusFailed, "sync failed", finished))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Equal(t, "sync failed", got.Error)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))
}

func TestFinishRun_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.FinishRun(context.Background(), "missing", domain.RunStatusSucceeded, "", baseTime)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateRun(ctx, testRun(fmt.Sprintf("run-%d", i), baseTime.Add(time.Duration(i)*time.Millisecond))))
	}

	runs, err := store.ListRuns(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, runs, 5)
	assert.Equal(t, "run-4", runs[0].ID)
	assert.Equal(t, "run-0", runs[4].ID)

	page, err := store.ListRuns(ctx, ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "run-3", page[0].ID)
	assert.Equal(t, "run-2", page[1].ID)
}

func TestListOptions_Normalize(t *testing.T) {
	assert.Equal(t, ListOptions{Limit: 100}, ListOptions{}.Normalize())
	assert.Equal(t, ListOptions{Limit: 1000}, ListOptions{Limit: 5000}.Normalize())
	assert.Equal(t, ListOptions{Limit: 10}, ListOptions{Limit: 10, Offset: -3}.Normalize())
}

// =============================================================================
// Stage Tests
// =============================================================================

func TestRecordStage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, testRun("run-1", baseTime)))

	first := &domain.StageRecord{RunID: "run-1", Package: "Contoso_Sales_1.0.0.0", Stage: domain.StagePublish, Status: domain.RunStatusSucceeded, RecordedAt: baseTime}
	second := &domain.StageRecord{RunID: "run-1", Package: "Contoso_Sales_1.0.0.0", Stage: domain.StageInstall, Status: domain.RunStatusFailed, Message: "boom", RecordedAt: baseTime.Add(time.Second)}
	require.NoError(t, store.RecordStage(ctx, first))
	require.NoError(t, store.RecordStage(ctx, second))
	assert.NotZero(t, first.ID)
	assert.Greater(t, second.ID, first.ID)

	stages, err := store.ListStages(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, domain.StagePublish, stages[0].Stage)
	assert.Equal(t, domain.StageInstall, stages[1].Stage)
	assert.Equal(t, domain.RunStatusFailed, stages[1].Status)
	assert.Equal(t, "boom", stages[1].Message)
}

func TestRecordStage_UnknownRun(t *testing.T) {
	store := setupTestStore(t)

	err := store.RecordStage(context.Background(), &domain.StageRecord{
		RunID: "missing", Stage: domain.StagePublish, Status: domain.RunStatusSucceeded, RecordedAt: baseTime,
	})
	assert.ErrorIs(t, err, ErrForeignKey)
}

func TestListStages_Empty(t *testing.T) {
	store := setupTestStore(t)

	stages, err := store.ListStages(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, stages)
}

// =============================================================================
// Transaction Tests
// =============================================================================

func TestWithTx_Commit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateRun(ctx, testRun("run-1", baseTime)); err != nil {
			return err
		}
		return tx.RecordStage(ctx, &domain.StageRecord{RunID: "run-1", Stage: domain.StageStage, Status: domain.RunStatusSucceeded, RecordedAt: baseTime})
	})
	require.NoError(t, err)

	stages, err := store.ListStages(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, stages, 1)
}

func TestWithTx_Rollback(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx Store) error {
		require.NoError(t, tx.CreateRun(ctx, testRun("run-1", baseTime)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// CompleteRun Tests
// =============================================================================

func TestCompleteRun_RecordsStagesAndOutcome(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", baseTime)
	require.NoError(t, store.CreateRun(ctx, run))

	run.Finish(errors.New("install failed"), baseTime.Add(time.Minute))
	err := store.CompleteRun(ctx, run, []*domain.StageRecord{{
		RunID:      "run-1",
		Package:    "Contoso_Base_1.0.0.0",
		Stage:      domain.StageInstall,
		Status:     domain.RunStatusFailed,
		Message:    "install failed",
		RecordedAt: baseTime.Add(time.Minute),
	}})
	require.NoError(t, err)

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Equal(t, "install failed", got.Error)

	stages, err := store.ListStages(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, domain.StageInstall, stages[0].Stage)
}

func TestCompleteRun_RollsBackOnStageFailure(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", baseTime)
	require.NoError(t, store.CreateRun(ctx, run))

	run.Finish(nil, baseTime.Add(time.Minute))
	err := store.CompleteRun(ctx, run, []*domain.StageRecord{
		{RunID: "run-1", Stage: domain.StagePublish, Status: domain.RunStatusSucceeded, RecordedAt: baseTime},
		{RunID: "missing", Stage: domain.StagePublish, Status: domain.RunStatusFailed, RecordedAt: baseTime},
	})
	assert.ErrorIs(t, err, ErrForeignKey)

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, got.Status)
	assert.Nil(t, got.FinishedAt)

	stages, err := store.ListStages(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, stages)
}

func TestCompleteRun_RequiresFinishedRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", baseTime)
	require.NoError(t, store.CreateRun(ctx, run))

	assert.Error(t, store.CompleteRun(ctx, run, nil))
}
