package data

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/matchops/leadsweep/internal/domain/model"
)

// RunRepoConfig holds configuration options for the run repository.
type RunRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// RunRepo provides database operations for run lifecycle management.
type RunRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewRunRepo creates a RunRepo with the given database connection and configuration.
func NewRunRepo(db *sql.DB, cfg RunRepoConfig) *RunRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &RunRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const runColumns = `
  id,
  type,
  status,
  batch_size,
  processing_order,
  total_items,
  processed_count,
  updated_count,
  skipped_count,
  failed_count,
  last_processed_item_id,
  last_processed_created_at,
  current_batch,
  current_task,
  last_error,
  actor_id,
  lease_token,
  lease_expires_at,
  started_at,
  last_activity_at,
  completed_at,
  created_at,
  updated_at
`

type runRowScanner interface {
	Scan(dest ...any) error
}

type runRowData struct {
	lastProcessedItemID       sql.NullString
	lastProcessedCreatedAt    sql.NullTime
	currentBatch, currentTask sql.NullString
	lastError                 sql.NullString
	actorID                   sql.NullString
	leaseToken                sql.NullString
	leaseExpiresAt            sql.NullTime
	startedAt, completedAt    sql.NullTime
}

func (d *runRowData) scanInto(scanner runRowScanner, run *model.Run) error {
	return scanner.Scan(
		&run.ID,
		&run.Type,
		&run.Status,
		&run.BatchSize,
		&run.ProcessingOrder,
		&run.TotalItems,
		&run.ProcessedCount,
		&run.UpdatedCount,
		&run.SkippedCount,
		&run.FailedCount,
		&d.lastProcessedItemID,
		&d.lastProcessedCreatedAt,
		&d.currentBatch,
		&d.currentTask,
		&d.lastError,
		&d.actorID,
		&d.leaseToken,
		&d.leaseExpiresAt,
		&d.startedAt,
		&run.LastActivityAt,
		&d.completedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
}

func (d *runRowData) apply(run *model.Run) {
	run.LastProcessedItemID = cloneNullableString(d.lastProcessedItemID)
	run.LastProcessedCreatedAt = cloneNullableTime(d.lastProcessedCreatedAt)
	run.CurrentBatch = d.currentBatch.String
	run.CurrentTask = d.currentTask.String
	run.LastError = cloneNullableString(d.lastError)
	run.ActorID = cloneNullableString(d.actorID)
	run.LeaseToken = cloneNullableString(d.leaseToken)
	run.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
	run.StartedAt = cloneNullableTime(d.startedAt)
	run.CompletedAt = cloneNullableTime(d.completedAt)
}

func scanRunFromRow(scanner runRowScanner) (*model.Run, error) {
	run := &model.Run{}
	var data runRowData
	if err := data.scanInto(scanner, run); err != nil {
		return nil, err
	}
	data.apply(run)
	return run, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
