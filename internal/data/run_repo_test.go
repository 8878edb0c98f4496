package data

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchops/leadsweep/internal/core"
	"github.com/matchops/leadsweep/internal/domain/model"
	apperrors "github.com/matchops/leadsweep/internal/errors"
	"github.com/matchops/leadsweep/internal/testutil"
)

// stepClock advances one second per Now() call so rows written in sequence
// get strictly increasing timestamps.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: testutil.TestTime()}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newVerifyRunRequest() *model.CreateRunRequest {
	return &model.CreateRunRequest{
		Type:            model.RunTypeVerifyLinks,
		BatchSize:       25,
		ProcessingOrder: model.OrderOldestFirst,
	}
}

func mustCreateRun(t *testing.T, repo *RunRepo, total int) *model.Run {
	t.Helper()
	r, err := repo.Create(context.Background(), newVerifyRunRequest(), total)
	require.NoError(t, err)
	return r
}

func mustClaim(t *testing.T, repo *RunRepo, token string) *model.Run {
	t.Helper()
	r, err := repo.ClaimNext(context.Background(), core.ClaimRunParams{
		LeaseToken:   token,
		LeaseSeconds: 60,
	})
	require.NoError(t, err)
	return r
}

func advanceItem(t *testing.T, repo *RunRepo, r *model.Run, token string, outcome model.Outcome) (bool, model.Checkpoint) {
	t.Helper()
	cp := model.Checkpoint{ItemID: uuid.NewString(), CreatedAt: testutil.TestTime()}
	res := &model.ItemResult{
		RunID:   r.ID,
		ItemID:  cp.ItemID,
		Outcome: outcome,
	}
	if outcome == model.OutcomeFailed {
		res.Error = testutil.StringPtr("provider returned http 500")
	}
	ok, err := repo.AdvanceCheckpoint(context.Background(), core.AdvanceParams{
		RunID:      r.ID,
		LeaseToken: token,
		Result:     res,
		Checkpoint: cp,
	})
	require.NoError(t, err)
	return ok, cp
}

func TestRunRepo_CreateAndGet(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})

		created := mustCreateRun(t, repo, 42)
		assert.Equal(t, model.RunStatusPending, created.Status)
		assert.Equal(t, model.RunTypeVerifyLinks, created.Type)
		assert.Equal(t, 42, created.TotalItems)
		assert.Zero(t, created.ProcessedCount)
		assert.Nil(t, created.LeaseToken)
		assert.True(t, created.CheckpointPosition().IsZero())

		got, err := repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, model.RunStatusPending, got.Status)
	})
}

func TestRunRepo_CreateRejectsInvalidRequest(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})

		_, err := repo.Create(context.Background(), nil, 0)
		require.Error(t, err)

		_, err = repo.Create(context.Background(), &model.CreateRunRequest{
			Type: model.RunTypeVerifyLinks, BatchSize: 0, ProcessingOrder: model.OrderOldestFirst,
		}, 0)
		require.EqualError(t, err, "batch size must be positive")
	})
}

func TestRunRepo_GetByIDNotFound(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})
		_, err := repo.GetByID(context.Background(), uuid.NewString())
		require.ErrorIs(t, err, ErrRunNotFound)
	})
}

func TestRunRepo_ClaimNext(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})

		// Nothing claimable on an empty table.
		_, err := repo.ClaimNext(context.Background(), core.ClaimRunParams{
			LeaseToken: "tok", LeaseSeconds: 60,
		})
		require.ErrorIs(t, err, model.ErrNoRunsAvailable)

		first := mustCreateRun(t, repo, 10)
		second := mustCreateRun(t, repo, 10)

		// Oldest pending run is claimed first and stamped with the lease.
		claimed := mustClaim(t, repo, "tok-a")
		assert.Equal(t, first.ID, claimed.ID)
		assert.Equal(t, model.RunStatusRunning, claimed.Status)
		require.NotNil(t, claimed.LeaseToken)
		assert.Equal(t, "tok-a", *claimed.LeaseToken)
		require.NotNil(t, claimed.LeaseExpiresAt)
		require.NotNil(t, claimed.StartedAt)

		// A second worker gets the next pending run, not the leased one.
		claimed2 := mustClaim(t, repo, "tok-b")
		assert.Equal(t, second.ID, claimed2.ID)

		// Both runs leased; nothing left.
		_, err = repo.ClaimNext(context.Background(), core.ClaimRunParams{
			LeaseToken: "tok-c", LeaseSeconds: 60,
		})
		require.ErrorIs(t, err, model.ErrNoRunsAvailable)
	})
}

func TestRunRepo_ClaimNextValidation(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})

		_, err := repo.ClaimNext(context.Background(), core.ClaimRunParams{LeaseSeconds: 60})
		require.EqualError(t, err, "lease token is required")

		_, err = repo.ClaimNext(context.Background(), core.ClaimRunParams{LeaseToken: "tok"})
		require.EqualError(t, err, "lease seconds must be positive")
	})
}

func TestRunRepo_ClaimNextReclaimsExpiredLease(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		start := testutil.TestTime()
		early := NewRunRepo(db, RunRepoConfig{TimeProvider: NewFixedTimeProvider(start)})
		late := NewRunRepo(db, RunRepoConfig{TimeProvider: NewFixedTimeProvider(start.Add(5 * time.Minute))})

		created := mustCreateRun(t, early, 10)
		claimed := mustClaim(t, early, "crashed-worker")
		require.Equal(t, created.ID, claimed.ID)

		// While the lease lives the run is invisible to other claimers.
		_, err := early.ClaimNext(context.Background(), core.ClaimRunParams{
			LeaseToken: "other", LeaseSeconds: 60,
		})
		require.ErrorIs(t, err, model.ErrNoRunsAvailable)

		// Five minutes later the 60s lease is expired and the run is claimable
		// again, still in running status.
		reclaimed := mustClaim(t, late, "takeover")
		assert.Equal(t, created.ID, reclaimed.ID)
		require.NotNil(t, reclaimed.LeaseToken)
		assert.Equal(t, "takeover", *reclaimed.LeaseToken)
	})
}

func TestRunRepo_RefreshLease(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})
		mustCreateRun(t, repo, 10)
		claimed := mustClaim(t, repo, "tok")

		ok, err := repo.RefreshLease(context.Background(), claimed.ID, "tok", 120)
		require.NoError(t, err)
		assert.True(t, ok)

		// Wrong token is a silent no.
		ok, err = repo.RefreshLease(context.Background(), claimed.ID, "stolen", 120)
		require.NoError(t, err)
		assert.False(t, ok)

		// Non-positive lease is a caller bug.
		_, err = repo.RefreshLease(context.Background(), claimed.ID, "tok", 0)
		require.Error(t, err)

		// Once the run leaves running the refresh stops landing.
		transitioned, err := repo.Transition(context.Background(), core.TransitionParams{
			RunID: claimed.ID, From: model.RunStatusRunning, To: model.RunStatusPaused,
		})
		require.NoError(t, err)
		require.True(t, transitioned)

		ok, err = repo.RefreshLease(context.Background(), claimed.ID, "tok", 120)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRunRepo_ReleaseLease(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})
		mustCreateRun(t, repo, 10)
		claimed := mustClaim(t, repo, "tok")

		// Releasing with a stale token leaves the current holder alone.
		require.NoError(t, repo.ReleaseLease(context.Background(), claimed.ID, "stale"))
		got, err := repo.GetByID(context.Background(), claimed.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LeaseToken)

		require.NoError(t, repo.ReleaseLease(context.Background(), claimed.ID, "tok"))
		got, err = repo.GetByID(context.Background(), claimed.ID)
		require.NoError(t, err)
		assert.Nil(t, got.LeaseToken)
		assert.Nil(t, got.LeaseExpiresAt)
		// Still running: a released run is immediately reclaimable.
		assert.Equal(t, model.RunStatusRunning, got.Status)
	})
}

func TestRunRepo_AdvanceCheckpoint(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})
		mustCreateRun(t, repo, 10)
		claimed := mustClaim(t, repo, "tok")

		ok, cp := advanceItem(t, repo, claimed, "tok", model.OutcomeUpdated)
		require.True(t, ok)

		ok, _ = advanceItem(t, repo, claimed, "tok", model.OutcomeSkipped)
		require.True(t, ok)
		ok, _ = advanceItem(t, repo, claimed, "tok", model.OutcomeNoChange)
		require.True(t, ok)
		ok, last := advanceItem(t, repo, claimed, "tok", model.OutcomeFailed)
		require.True(t, ok)

		got, err := repo.GetByID(context.Background(), claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, got.ProcessedCount)
		assert.Equal(t, 1, got.UpdatedCount)
		// no_change shares the skipped counter.
		assert.Equal(t, 2, got.SkippedCount)
		assert.Equal(t, 1, got.FailedCount)

		// Checkpoint tracks the most recent item.
		pos := got.CheckpointPosition()
		require.False(t, pos.IsZero())
		assert.Equal(t, last.ItemID, pos.ItemID)
		assert.NotEqual(t, cp.ItemID, pos.ItemID)

		// The failed item surfaced in both last_error and the error list.
		require.NotNil(t, got.LastError)
		assert.Equal(t, "provider returned http 500", *got.LastError)

		errs, err := repo.ListErrors(context.Background(), claimed.ID, 10)
		require.NoError(t, err)
		require.Len(t, errs, 1)
		assert.Equal(t, last.ItemID, errs[0].ItemID)
	})
}

func TestRunRepo_AdvanceCheckpointGate(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})
		mustCreateRun(t, repo, 10)
		claimed := mustClaim(t, repo, "tok")

		// Wrong token: rejected, nothing recorded.
		ok, _ := advanceItem(t, repo, claimed, "stolen", model.OutcomeUpdated)
		assert.False(t, ok)

		got, err := repo.GetByID(context.Background(), claimed.ID)
		require.NoError(t, err)
		assert.Zero(t, got.ProcessedCount)

		var resultCount int
		require.NoError(t, db.QueryRow(
			`SELECT count(*) FROM item_results WHERE run_id = $1`, claimed.ID).Scan(&resultCount))
		assert.Zero(t, resultCount)

		// Paused run: rejected even with the right token.
		transitioned, err := repo.Transition(context.Background(), core.TransitionParams{
			RunID: claimed.ID, From: model.RunStatusRunning, To: model.RunStatusPaused,
		})
		require.NoError(t, err)
		require.True(t, transitioned)

		ok, _ = advanceItem(t, repo, claimed, "tok", model.OutcomeUpdated)
		assert.False(t, ok)
	})
}

func TestRunRepo_RunErrorListIsCapped(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{TimeProvider: newStepClock()})
		mustCreateRun(t, repo, 200)
		claimed := mustClaim(t, repo, "tok")

		extra := 5
		var lastItemID string
		for i := 0; i < model.MaxRunErrors+extra; i++ {
			_, cp := advanceItem(t, repo, claimed, "tok", model.OutcomeFailed)
			lastItemID = cp.ItemID
		}

		var count int
		require.NoError(t, db.QueryRow(
			`SELECT count(*) FROM run_errors WHERE run_id = $1`, claimed.ID).Scan(&count))
		assert.Equal(t, model.MaxRunErrors, count)

		// Newest entries survive eviction.
		errs, err := repo.ListErrors(context.Background(), claimed.ID, 1)
		require.NoError(t, err)
		require.Len(t, errs, 1)
		assert.Equal(t, lastItemID, errs[0].ItemID)

		// The counter still reflects every failure, not just the kept entries.
		got, err := repo.GetByID(context.Background(), claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, model.MaxRunErrors+extra, got.FailedCount)
	})
}

func TestRunRepo_TransitionClearsLease(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})
		mustCreateRun(t, repo, 10)
		claimed := mustClaim(t, repo, "tok")

		ok, err := repo.Transition(context.Background(), core.TransitionParams{
			RunID: claimed.ID, From: model.RunStatusRunning, To: model.RunStatusPaused,
		})
		require.NoError(t, err)
		require.True(t, ok)

		got, err := repo.GetByID(context.Background(), claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusPaused, got.Status)
		assert.Nil(t, got.LeaseToken)
		assert.Nil(t, got.LeaseExpiresAt)

		// Resume and verify the run becomes claimable without a lease holder.
		ok, err = repo.Transition(context.Background(), core.TransitionParams{
			RunID: claimed.ID, From: model.RunStatusPaused, To: model.RunStatusRunning,
		})
		require.NoError(t, err)
		require.True(t, ok)

		reclaimed := mustClaim(t, repo, "tok-2")
		assert.Equal(t, claimed.ID, reclaimed.ID)
	})
}

func TestRunRepo_TransitionGuard(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})
		created := mustCreateRun(t, repo, 10)

		// From does not match the stored status: rejected without error.
		ok, err := repo.Transition(context.Background(), core.TransitionParams{
			RunID: created.ID, From: model.RunStatusRunning, To: model.RunStatusPaused,
		})
		require.NoError(t, err)
		assert.False(t, ok)

		// Invalid status values never reach the database.
		_, err = repo.Transition(context.Background(), core.TransitionParams{
			RunID: created.ID, From: "bogus", To: model.RunStatusPaused,
		})
		require.Error(t, err)
	})
}

func TestRunRepo_TransitionStampsCompletion(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})
		mustCreateRun(t, repo, 10)
		claimed := mustClaim(t, repo, "tok")

		msg := "too many consecutive failures"
		ok, err := repo.Transition(context.Background(), core.TransitionParams{
			RunID: claimed.ID, From: model.RunStatusRunning, To: model.RunStatusFailed,
			LastError: &msg,
		})
		require.NoError(t, err)
		require.True(t, ok)

		got, err := repo.GetByID(context.Background(), claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		require.NotNil(t, got.CompletedAt)
		require.NotNil(t, got.LastError)
		assert.Equal(t, msg, *got.LastError)
	})
}

func TestRunRepo_Delete(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})

		pending := mustCreateRun(t, repo, 10)
		require.ErrorIs(t, repo.Delete(context.Background(), pending.ID), ErrRunNotDeletable)

		require.ErrorIs(t, repo.Delete(context.Background(), uuid.NewString()), ErrRunNotFound)

		// Complete the run with a recorded failure, then delete: results and
		// error entries cascade.
		claimed := mustClaim(t, repo, "tok")
		ok, _ := advanceItem(t, repo, claimed, "tok", model.OutcomeFailed)
		require.True(t, ok)
		done, err := repo.Transition(context.Background(), core.TransitionParams{
			RunID: claimed.ID, From: model.RunStatusRunning, To: model.RunStatusCompleted,
		})
		require.NoError(t, err)
		require.True(t, done)

		require.NoError(t, repo.Delete(context.Background(), claimed.ID))

		_, err = repo.GetByID(context.Background(), claimed.ID)
		require.ErrorIs(t, err, ErrRunNotFound)

		for _, table := range []string{"item_results", "run_errors"} {
			var n int
			require.NoError(t, db.QueryRow(
				fmt.Sprintf(`SELECT count(*) FROM %s WHERE run_id = $1`, table), claimed.ID).Scan(&n))
			assert.Zero(t, n, table)
		}
	})
}

func TestRunRepo_StatsAndListRecent(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{TimeProvider: newStepClock()})

		first := mustCreateRun(t, repo, 10)
		second := mustCreateRun(t, repo, 10)
		claimed := mustClaim(t, repo, "tok")
		require.Equal(t, first.ID, claimed.ID)

		stats, err := repo.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Pending)
		assert.Equal(t, 1, stats.Running)

		recent, err := repo.ListRecent(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		// Newest first.
		assert.Equal(t, second.ID, recent[0].ID)
		assert.Equal(t, first.ID, recent[1].ID)
	})
}

func TestRunRepo_AdvanceCheckpointMapsDatabaseErrors(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewRunRepo(db, RunRepoConfig{})
		mustCreateRun(t, repo, 1)
		run := mustClaim(t, repo, "tok")

		// A NUL byte in the adapter error text is rejected by the server;
		// the repo must hand back the AppError taxonomy, not a raw pg error.
		cp := model.Checkpoint{ItemID: uuid.NewString(), CreatedAt: testutil.TestTime()}
		_, err := repo.AdvanceCheckpoint(context.Background(), core.AdvanceParams{
			RunID:      run.ID,
			LeaseToken: "tok",
			Result: &model.ItemResult{
				RunID:   run.ID,
				ItemID:  cp.ItemID,
				Outcome: model.OutcomeFailed,
				Error:   testutil.StringPtr("provider body \x00 truncated"),
			},
			Checkpoint: cp,
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInternal, apperrors.GetCode(err))

		var pgErr *pgconn.PgError
		assert.ErrorAs(t, err, &pgErr)

		// The whole advance rolled back.
		got, err := repo.GetByID(context.Background(), run.ID)
		require.NoError(t, err)
		assert.Zero(t, got.ProcessedCount)
		assert.True(t, got.CheckpointPosition().IsZero())
	})
}
