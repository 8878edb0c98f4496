package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matchops/leadsweep/internal/core"
	"github.com/matchops/leadsweep/internal/data/pgxutil"
)

// Advisory lock namespace for reaper operations. Two-arg
// pg_try_advisory_xact_lock(major, minor) keeps concurrent reaper instances
// from stepping on each other without blocking.
const (
	advisoryLockReaperMajor       = 2000
	advisoryLockReaperFailPending = 1
	advisoryLockReaperDelete      = 2
)

// FailStalePendingRuns marks pending runs older than maxAge as failed.
// Processes up to batchSize runs per call to keep lock windows short.
func (r *RunRepo) FailStalePendingRuns(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if maxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReaperMajor, advisoryLockReaperFailPending).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			now := r.timeProvider.Now().UTC()
			cutoff := now.Add(-maxAge)

			res, err := tx.ExecContext(ctx, `
				UPDATE runs
				SET status = 'failed',
					last_error = 'run timed out in pending status',
					completed_at = $1,
					updated_at = $1
				WHERE id IN (
					SELECT id FROM runs
					WHERE status = 'pending'
					  AND created_at < $2
					ORDER BY created_at
					LIMIT $3
				)
			`, now, cutoff, batchSize)
			if err != nil {
				return fmt.Errorf("fail stale pending runs: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOldRuns deletes terminal runs older than the cutoff, up to BatchSize
// per call. Item results and run errors cascade with the run row.
func (r *RunRepo) DeleteOldRuns(ctx context.Context, params core.DeleteOldRunsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("cannot reap non-terminal status: %s", params.Status)
	}
	if params.MaxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReaperMajor, advisoryLockReaperDelete).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			cutoff := r.timeProvider.Now().Add(-params.MaxAge).UTC()

			res, err := tx.ExecContext(ctx, `
				DELETE FROM runs
				WHERE id IN (
					SELECT id FROM runs
					WHERE status = $1
					  AND (completed_at < $2 OR (completed_at IS NULL AND updated_at < $2))
					ORDER BY COALESCE(completed_at, updated_at)
					LIMIT $3
				)
			`, params.Status, cutoff, params.BatchSize)
			if err != nil {
				return fmt.Errorf("delete old runs: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
