package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchops/leadsweep/internal/core"
	"github.com/matchops/leadsweep/internal/domain/model"
	"github.com/matchops/leadsweep/internal/testutil"
)

func TestRunRepo_FailStalePendingRuns(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		start := testutil.TestTime()
		old := NewRunRepo(db, RunRepoConfig{TimeProvider: NewFixedTimeProvider(start)})
		now := NewRunRepo(db, RunRepoConfig{TimeProvider: NewFixedTimeProvider(start.Add(48 * time.Hour))})

		stale := mustCreateRun(t, old, 10)
		fresh := mustCreateRun(t, now, 10)

		failed, err := now.FailStalePendingRuns(context.Background(), 24*time.Hour, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(1), failed)

		got, err := now.GetByID(context.Background(), stale.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "run timed out in pending status", *got.LastError)
		require.NotNil(t, got.CompletedAt)

		got, err = now.GetByID(context.Background(), fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusPending, got.Status)
	})
}

func TestRunRepo_FailStalePendingRunsValidation(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})

		_, err := repo.FailStalePendingRuns(context.Background(), 0, 100)
		require.EqualError(t, err, "max age must be greater than zero")

		_, err = repo.FailStalePendingRuns(context.Background(), time.Hour, 0)
		require.EqualError(t, err, "batch size must be greater than zero")
	})
}

func TestRunRepo_DeleteOldRuns(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		start := testutil.TestTime()
		old := NewRunRepo(db, RunRepoConfig{TimeProvider: NewFixedTimeProvider(start)})
		now := NewRunRepo(db, RunRepoConfig{TimeProvider: NewFixedTimeProvider(start.Add(60 * 24 * time.Hour))})

		// An old completed run with a recorded result, and a recent one.
		mustCreateRun(t, old, 10)
		oldRun := mustClaim(t, old, "tok")
		ok, _ := advanceItem(t, old, oldRun, "tok", model.OutcomeUpdated)
		require.True(t, ok)
		done, err := old.Transition(context.Background(), core.TransitionParams{
			RunID: oldRun.ID, From: model.RunStatusRunning, To: model.RunStatusCompleted,
		})
		require.NoError(t, err)
		require.True(t, done)

		recent := mustCreateRun(t, now, 10)
		claimed := mustClaim(t, now, "tok2")
		require.Equal(t, recent.ID, claimed.ID)
		done, err = now.Transition(context.Background(), core.TransitionParams{
			RunID: recent.ID, From: model.RunStatusRunning, To: model.RunStatusCompleted,
		})
		require.NoError(t, err)
		require.True(t, done)

		deleted, err := now.DeleteOldRuns(context.Background(), core.DeleteOldRunsParams{
			Status:    model.RunStatusCompleted,
			MaxAge:    30 * 24 * time.Hour,
			BatchSize: 100,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		_, err = now.GetByID(context.Background(), oldRun.ID)
		require.ErrorIs(t, err, ErrRunNotFound)

		// Cascaded results went with the run.
		var n int
		require.NoError(t, db.QueryRow(
			`SELECT count(*) FROM item_results WHERE run_id = $1`, oldRun.ID).Scan(&n))
		assert.Zero(t, n)

		// The recent run survived.
		_, err = now.GetByID(context.Background(), recent.ID)
		require.NoError(t, err)
	})
}

func TestRunRepo_DeleteOldRunsValidation(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})

		_, err := repo.DeleteOldRuns(context.Background(), core.DeleteOldRunsParams{
			Status: model.RunStatusRunning, MaxAge: time.Hour, BatchSize: 10,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-terminal")

		_, err = repo.DeleteOldRuns(context.Background(), core.DeleteOldRunsParams{
			Status: model.RunStatusCompleted, MaxAge: 0, BatchSize: 10,
		})
		require.EqualError(t, err, "max age must be greater than zero")
	})
}
