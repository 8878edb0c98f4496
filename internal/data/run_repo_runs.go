package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/matchops/leadsweep/internal/core"
	"github.com/matchops/leadsweep/internal/data/pgxutil"
	"github.com/matchops/leadsweep/internal/domain/model"
	apperrors "github.com/matchops/leadsweep/internal/errors"
)

// SQL used by ClaimNext to atomically claim the next runnable run. A run is
// claimable when pending, or when running with a missing or expired lease
// (crashed sweeper, or a resume that cleared the lease).
const claimNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM runs
    WHERE status = 'pending'
       OR (status = 'running' AND (lease_expires_at IS NULL OR lease_expires_at < $1))
    ORDER BY created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE runs r
  SET
    status = 'running',
    lease_token = $2,
    lease_expires_at = $3,
    started_at = COALESCE(r.started_at, $4),
    last_activity_at = $4,
    updated_at = $4
  FROM cte
  WHERE r.id = cte.id
  RETURNING ` + runColumns

// Create inserts a run in pending status with a snapshot of the target
// collection size.
func (r *RunRepo) Create(ctx context.Context, req *model.CreateRunRequest, totalItems int) (*model.Run, error) {
	if req == nil {
		return nil, errors.New("create run request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now().UTC()
	var run *model.Run
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			INSERT INTO runs(id, type, status, batch_size, processing_order, total_items, actor_id, last_activity_at, created_at, updated_at)
			VALUES ($1, $2, 'pending', $3, $4, $5, $6, $7, $7, $7)
			RETURNING `+runColumns,
			uuid.NewString(), req.Type, req.BatchSize, req.ProcessingOrder, totalItems, req.ActorID, now,
		)
		if qerr != nil {
			return fmt.Errorf("insert run: %w", qerr)
		}
		defer rows.Close()
		var cerr error
		run, cerr = collectRunFromRows(rows)
		return cerr
	})
	if err != nil {
		// Constraint violations surface as AppError codes the HTTP layer
		// already knows how to translate.
		return nil, apperrors.MapDBError(err)
	}
	return run, nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*model.Run, error) {
	var run *model.Run
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		var cerr error
		run, cerr = collectRunFromRows(rows)
		return cerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRecent returns the most recently created runs, newest first.
func (r *RunRepo) ListRecent(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	var runs []model.Run
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+runColumns+`
			FROM runs
			ORDER BY created_at DESC, id DESC
			LIMIT $1`, limit)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			run, serr := scanRunFromRow(rows)
			if serr != nil {
				return serr
			}
			runs = append(runs, *run)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Stats returns run counts per lifecycle state.
func (r *RunRepo) Stats(ctx context.Context) (*model.RunStats, error) {
	var s model.RunStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')   AS pending,
    count(*) FILTER (WHERE status = 'running')   AS running,
    count(*) FILTER (WHERE status = 'paused')    AS paused,
    count(*) FILTER (WHERE status = 'completed') AS completed,
    count(*) FILTER (WHERE status = 'failed')    AS failed,
    count(*) FILTER (WHERE status = 'cancelled') AS cancelled
  FROM runs
  `).Scan(&s.Pending, &s.Running, &s.Paused, &s.Completed, &s.Failed, &s.Cancelled)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	return &s, nil
}

// ClaimNext claims the oldest runnable run and stamps the caller's lease on
// it. Returns model.ErrNoRunsAvailable when nothing is claimable.
func (r *RunRepo) ClaimNext(ctx context.Context, params core.ClaimRunParams) (*model.Run, error) {
	if strings.TrimSpace(params.LeaseToken) == "" {
		return nil, errors.New("lease token is required")
	}
	if params.LeaseSeconds <= 0 {
		return nil, errors.New("lease seconds must be positive")
	}

	var run *model.Run
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now().UTC()
			leaseExpiresAt := now.Add(time.Duration(params.LeaseSeconds) * time.Second)

			rows, qerr := tx.Query(ctx, claimNextUpdateSQL, now, params.LeaseToken, leaseExpiresAt, now)
			if qerr != nil {
				return fmt.Errorf("claim run: %w", qerr)
			}
			defer rows.Close()

			claimed, cerr := collectRunFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoRunsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("claim run: %w", cerr)
			}
			run = claimed
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoRunsAvailable) {
			return nil, model.ErrNoRunsAvailable
		}
		return nil, err
	}
	return run, nil
}

// RefreshLease extends the lease on a running run. Returns false without
// error when the run is no longer running or the token does not match.
func (r *RunRepo) RefreshLease(ctx context.Context, id, token string, seconds int) (bool, error) {
	if seconds <= 0 {
		return false, errors.New("lease seconds must be positive")
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE runs
		SET lease_expires_at = $3,
		    last_activity_at = $4,
		    updated_at = $4
		WHERE id = $1 AND lease_token = $2 AND status = 'running'
	`, id, token, now.Add(time.Duration(seconds)*time.Second), now)
	if err != nil {
		return false, fmt.Errorf("refresh lease: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("refresh lease rows affected: %w", err)
	}
	return ra > 0, nil
}

// ReleaseLease clears the lease if the token still matches. Releasing a lease
// another holder already took over is a no-op.
func (r *RunRepo) ReleaseLease(ctx context.Context, id, token string) error {
	now := r.timeProvider.Now().UTC()
	if _, err := r.DB.ExecContext(ctx, `
		UPDATE runs
		SET lease_token = NULL,
		    lease_expires_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND lease_token = $2
	`, id, token, now); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// outcomeCounterColumn maps each outcome to the counter bumped alongside
// processed_count. The fixed map keeps the column name out of caller control.
var outcomeCounterColumn = map[model.Outcome]string{
	model.OutcomeUpdated:  "updated_count",
	model.OutcomeSkipped:  "skipped_count",
	model.OutcomeNoChange: "skipped_count",
	model.OutcomeFailed:   "failed_count",
}

// AdvanceCheckpoint records one processed item in a single transaction:
// result insert, counter bumps, checkpoint move, and the capped error list
// append for failures. Gated on status='running' and a matching lease token;
// returns false without error when the gate rejects.
func (r *RunRepo) AdvanceCheckpoint(ctx context.Context, params core.AdvanceParams) (bool, error) {
	if params.Result == nil {
		return false, errors.New("item result is required")
	}
	if err := params.Result.Validate(); err != nil {
		return false, err
	}
	if params.Checkpoint.IsZero() {
		return false, errors.New("checkpoint is required")
	}
	counterCol, ok := outcomeCounterColumn[params.Result.Outcome]
	if !ok {
		return false, fmt.Errorf("invalid outcome: %s", params.Result.Outcome)
	}

	advanced := false
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now().UTC()

			updateSQL := `
				UPDATE runs
				SET processed_count = processed_count + 1,
				    ` + counterCol + ` = ` + counterCol + ` + 1,
				    last_processed_item_id = $3,
				    last_processed_created_at = $4,
				    current_batch = $5,
				    current_task = $6,
				    last_error = COALESCE($7, last_error),
				    last_activity_at = $8,
				    updated_at = $8
				WHERE id = $1 AND lease_token = $2 AND status = 'running'`

			var itemErr *string
			if params.Result.Outcome == model.OutcomeFailed {
				itemErr = params.Result.Error
			}

			tag, uerr := tx.Exec(ctx, updateSQL,
				params.RunID, params.LeaseToken,
				params.Checkpoint.ItemID, params.Checkpoint.CreatedAt.UTC(),
				params.CurrentBatch, params.CurrentTask,
				itemErr, now,
			)
			if uerr != nil {
				return fmt.Errorf("advance run: %w", uerr)
			}
			if tag.RowsAffected() == 0 {
				// Lease lost or status changed underneath us; nothing recorded.
				return nil
			}

			if ierr := insertItemResultInTx(ctx, tx, params.RunID, params.Result, now); ierr != nil {
				return ierr
			}

			if params.Result.Outcome == model.OutcomeFailed {
				if eerr := appendRunErrorInTx(ctx, tx, params.RunID, params.Result, now); eerr != nil {
					return eerr
				}
			}

			advanced = true
			return nil
		},
	})
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return advanced, nil
}

func insertItemResultInTx(ctx context.Context, tx pgx.Tx, runID string, res *model.ItemResult, now time.Time) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO item_results(
			id, run_id, item_id, input_value, outcome, new_value,
			before_assessment, after_assessment, rationale, duration_ms, error, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, uuid.NewString(), runID, res.ItemID, res.InputValue, res.Outcome, res.NewValue,
		res.BeforeAssessment, res.AfterAssessment, res.Rationale, res.DurationMs, res.Error, now,
	); err != nil {
		return fmt.Errorf("insert item result: %w", err)
	}
	return nil
}

// appendRunErrorInTx appends to the capped error list and evicts the oldest
// entries beyond model.MaxRunErrors.
func appendRunErrorInTx(ctx context.Context, tx pgx.Tx, runID string, res *model.ItemResult, now time.Time) error {
	msg := "item processing failed"
	if res.Error != nil {
		msg = *res.Error
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO run_errors(run_id, item_id, message, created_at)
		VALUES ($1, $2, $3, $4)
	`, runID, res.ItemID, msg, now); err != nil {
		return fmt.Errorf("append run error: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM run_errors
		WHERE run_id = $1
		  AND id NOT IN (
			SELECT id FROM run_errors
			WHERE run_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		  )
	`, runID, model.MaxRunErrors); err != nil {
		return fmt.Errorf("trim run errors: %w", err)
	}
	return nil
}

// Transition applies a conditional status change guarded by WHERE
// status = From. Returns false without error when the guard rejects.
// Leases are cleared on every transition so paused and resumed runs never
// carry a stale holder.
func (r *RunRepo) Transition(ctx context.Context, params core.TransitionParams) (bool, error) {
	if !params.From.Valid() || !params.To.Valid() {
		return false, fmt.Errorf("invalid status transition: %s -> %s", params.From, params.To)
	}

	now := r.timeProvider.Now().UTC()
	var completedAt *time.Time
	if params.To.Terminal() {
		completedAt = &now
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = $3,
		    last_error = COALESCE($4, last_error),
		    completed_at = COALESCE($5, completed_at),
		    lease_token = NULL,
		    lease_expires_at = NULL,
		    last_activity_at = $6,
		    updated_at = $6
		WHERE id = $1 AND status = $2
	`, params.RunID, params.From, params.To, params.LastError, completedAt, now)
	if err != nil {
		return false, fmt.Errorf("transition run: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	return ra > 0, nil
}

// ListErrors returns the newest entries in the run's capped error list.
func (r *RunRepo) ListErrors(ctx context.Context, runID string, limit int) ([]model.RunError, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, ErrRunIDRequired
	}
	if limit <= 0 || limit > model.MaxRunErrors {
		limit = model.MaxRunErrors
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT item_id, message, created_at
		FROM run_errors
		WHERE run_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list run errors: %w", err)
	}
	defer rows.Close()

	var out []model.RunError
	for rows.Next() {
		var re model.RunError
		if serr := rows.Scan(&re.ItemID, &re.Message, &re.Timestamp); serr != nil {
			return nil, fmt.Errorf("scan run error: %w", serr)
		}
		re.Timestamp = re.Timestamp.UTC()
		out = append(out, re)
	}
	if rerr := rows.Err(); rerr != nil {
		return nil, rerr
	}
	return out, nil
}

// Delete removes a terminal run. Results and error entries go with it through
// the cascade.
func (r *RunRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id = $1
		  AND status IN ('completed', 'failed', 'cancelled')
	`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if ra > 0 {
		return nil
	}

	if _, gerr := r.GetByID(ctx, id); gerr != nil {
		if errors.Is(gerr, ErrRunNotFound) {
			return ErrRunNotFound
		}
		return fmt.Errorf("re-check run after delete attempt: %w", gerr)
	}
	return ErrRunNotDeletable
}

// collectRunFromRows collects a single run from pgx rows.
func collectRunFromRows(rows pgx.Rows) (*model.Run, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	run, err := scanRunFromRow(rows)
	if err != nil {
		return nil, err
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return run, nil
}
