package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/matchops/leadsweep/internal/core"
	"github.com/matchops/leadsweep/internal/data/pgxutil"
	"github.com/matchops/leadsweep/internal/domain/model"
)

// LeadRepo implements core.LeadSource over the leads table. The sweep engine
// never writes lead fields beyond the verified URL patch.
type LeadRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewLeadRepo creates a LeadRepo.
func NewLeadRepo(db *sql.DB, tp TimeProvider) *LeadRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &LeadRepo{DB: db, timeProvider: tp}
}

const leadColumns = `
  id,
  title,
  agency,
  source_url,
  verified_at,
  created_at,
  updated_at
`

// NextPage returns one keyset page of leads in (created_at, id) order. Rows
// created after the run started slot naturally into the total order; a zero
// cursor returns the first page.
func (r *LeadRepo) NextPage(ctx context.Context, q core.PageQuery) ([]model.Lead, error) {
	query, args := buildKeysetQuery(`SELECT `+leadColumns+` FROM leads`, q)

	var leads []model.Lead
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, args...)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			var l model.Lead
			var verifiedAt sql.NullTime
			if serr := rows.Scan(&l.ID, &l.Title, &l.Agency, &l.SourceURL, &verifiedAt, &l.CreatedAt, &l.UpdatedAt); serr != nil {
				return serr
			}
			l.VerifiedAt = cloneNullableTime(verifiedAt)
			leads = append(leads, l)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("page leads: %w", err)
	}
	return leads, nil
}

// Count returns the lead collection size for the run's progress snapshot.
func (r *LeadRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM leads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return n, nil
}

// ApplyVerifiedURL patches a lead with an accepted replacement URL and stamps
// the verification time.
func (r *LeadRepo) ApplyVerifiedURL(ctx context.Context, params core.ApplyURLParams) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE leads
		SET source_url = $2,
		    verified_at = $3,
		    updated_at = $4
		WHERE id = $1
	`, params.LeadID, params.URL, params.VerifiedAt.UTC(), r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("apply verified url: %w", err)
	}
	return requireOneRow(res, ErrLeadNotFound)
}

// RefreshVerifiedAt stamps a lead as checked without changing its URL.
func (r *LeadRepo) RefreshVerifiedAt(ctx context.Context, leadID string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE leads
		SET verified_at = $2,
		    updated_at = $3
		WHERE id = $1
	`, leadID, at.UTC(), r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("refresh verified at: %w", err)
	}
	return requireOneRow(res, ErrLeadNotFound)
}

// buildKeysetQuery appends cursor predicate, ordering, and limit for a
// (created_at, id) keyset walk in the requested direction.
func buildKeysetQuery(base string, q core.PageQuery) (string, []any) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	query := base
	var args []any
	if !q.Cursor.IsZero() {
		if q.Order == model.OrderNewestFirst {
			query += ` WHERE (created_at, id) < ($1, $2)`
		} else {
			query += ` WHERE (created_at, id) > ($1, $2)`
		}
		args = append(args, q.Cursor.CreatedAt.UTC(), q.Cursor.ItemID)
	}
	if q.Order == model.OrderNewestFirst {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}
	query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
	args = append(args, limit)
	return query, args
}

func requireOneRow(res sql.Result, notFound error) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if ra == 0 {
		return notFound
	}
	return nil
}
