package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/matchops/leadsweep/internal/data/pgxutil"
	"github.com/matchops/leadsweep/internal/domain/model"
)

// ItemResultRepo reads and bulk-deletes per-item result records. Inserts
// happen only inside RunRepo.AdvanceCheckpoint so a result can never exist
// without its checkpoint move.
type ItemResultRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewItemResultRepo creates an ItemResultRepo.
func NewItemResultRepo(db *sql.DB, logger *slog.Logger) *ItemResultRepo {
	return &ItemResultRepo{DB: db, logger: logger}
}

const itemResultColumns = `
  id,
  run_id,
  item_id,
  input_value,
  outcome,
  new_value,
  before_assessment,
  after_assessment,
  rationale,
  duration_ms,
  error,
  created_at
`

const defaultResultPageSize = 100

// List pages a run's results by keyset cursor. Results insert in processing
// order, so (created_at, item_id) pagination replays the run in the same
// order it executed.
func (r *ItemResultRepo) List(ctx context.Context, opts model.ItemResultListOptions) ([]model.ItemResult, error) {
	if opts.RunID == "" {
		return nil, ErrRunIDRequired
	}
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = defaultResultPageSize
	}

	query := `SELECT ` + itemResultColumns + ` FROM item_results WHERE run_id = $1`
	args := []any{opts.RunID}

	if !opts.Cursor.IsZero() {
		if opts.Order == model.OrderNewestFirst {
			query += ` AND (created_at, item_id) < ($2, $3)`
		} else {
			query += ` AND (created_at, item_id) > ($2, $3)`
		}
		args = append(args, opts.Cursor.CreatedAt.UTC(), opts.Cursor.ItemID)
	}

	if opts.Order == model.OrderNewestFirst {
		query += ` ORDER BY created_at DESC, item_id DESC`
	} else {
		query += ` ORDER BY created_at ASC, item_id ASC`
	}
	query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	var results []model.ItemResult
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, args...)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			res, serr := scanItemResult(rows)
			if serr != nil {
				return serr
			}
			results = append(results, *res)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list item results: %w", err)
	}
	return results, nil
}

// DeleteByRun removes all results for a run and returns the number deleted.
func (r *ItemResultRepo) DeleteByRun(ctx context.Context, runID string) (int, error) {
	if runID == "" {
		return 0, ErrRunIDRequired
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM item_results WHERE run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("delete item results: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete rows affected: %w", err)
	}
	return int(ra), nil
}

func scanItemResult(rows pgx.Rows) (*model.ItemResult, error) {
	var res model.ItemResult
	var newValue, rationale, errMsg sql.NullString
	if err := rows.Scan(
		&res.ID,
		&res.RunID,
		&res.ItemID,
		&res.InputValue,
		&res.Outcome,
		&newValue,
		&res.BeforeAssessment,
		&res.AfterAssessment,
		&rationale,
		&res.DurationMs,
		&errMsg,
		&res.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan item result: %w", err)
	}
	res.NewValue = cloneNullableString(newValue)
	res.Rationale = cloneNullableString(rationale)
	res.Error = cloneNullableString(errMsg)
	res.CreatedAt = res.CreatedAt.UTC()
	return &res, nil
}
