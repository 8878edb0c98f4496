package data

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchops/leadsweep/internal/core"
	"github.com/matchops/leadsweep/internal/domain/model"
	"github.com/matchops/leadsweep/internal/testutil"
)

// seedLead inserts a lead with a controlled created_at so keyset paging is
// deterministic.
func seedLead(t *testing.T, db *sql.DB, n int, createdAt time.Time) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO leads(id, title, agency, source_url, created_at, updated_at)
		VALUES ($1, $2, 'GSA', $3, $4, $4)
	`, id, fmt.Sprintf("Tender %d", n), fmt.Sprintf("https://example.gov/tenders/%d", n), createdAt)
	require.NoError(t, err)
	return id
}

func TestLeadRepo_NextPageKeysetWalk(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewLeadRepo(db, nil)
		base := testutil.TestTime()

		ids := make([]string, 5)
		for i := range ids {
			ids[i] = seedLead(t, db, i+1, base.Add(time.Duration(i)*time.Minute))
		}

		// First page, oldest first.
		page, err := repo.NextPage(context.Background(), core.PageQuery{
			Order: model.OrderOldestFirst, Limit: 2,
		})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[0], page[0].ID)
		assert.Equal(t, ids[1], page[1].ID)

		// Continue from the last item of the previous page.
		page, err = repo.NextPage(context.Background(), core.PageQuery{
			Cursor: model.Checkpoint{ItemID: page[1].ID, CreatedAt: page[1].CreatedAt},
			Order:  model.OrderOldestFirst,
			Limit:  2,
		})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[2], page[0].ID)
		assert.Equal(t, ids[3], page[1].ID)

		// Final short page signals the end of the collection.
		page, err = repo.NextPage(context.Background(), core.PageQuery{
			Cursor: model.Checkpoint{ItemID: page[1].ID, CreatedAt: page[1].CreatedAt},
			Order:  model.OrderOldestFirst,
			Limit:  2,
		})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ids[4], page[0].ID)
	})
}

func TestLeadRepo_NextPageNewestFirst(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewLeadRepo(db, nil)
		base := testutil.TestTime()

		ids := make([]string, 3)
		for i := range ids {
			ids[i] = seedLead(t, db, i+1, base.Add(time.Duration(i)*time.Minute))
		}

		page, err := repo.NextPage(context.Background(), core.PageQuery{
			Order: model.OrderNewestFirst, Limit: 2,
		})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[2], page[0].ID)
		assert.Equal(t, ids[1], page[1].ID)

		page, err = repo.NextPage(context.Background(), core.PageQuery{
			Cursor: model.Checkpoint{ItemID: page[1].ID, CreatedAt: page[1].CreatedAt},
			Order:  model.OrderNewestFirst,
			Limit:  2,
		})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ids[0], page[0].ID)
	})
}

func TestLeadRepo_NextPageTieBreaksOnID(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewLeadRepo(db, nil)
		at := testutil.TestTime()

		// Same created_at: the id column breaks the tie, so paging never skips
		// or repeats a row.
		a := seedLead(t, db, 1, at)
		b := seedLead(t, db, 2, at)
		lo, hi := a, b
		if b < a {
			lo, hi = b, a
		}

		page, err := repo.NextPage(context.Background(), core.PageQuery{
			Order: model.OrderOldestFirst, Limit: 1,
		})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, lo, page[0].ID)

		page, err = repo.NextPage(context.Background(), core.PageQuery{
			Cursor: model.Checkpoint{ItemID: page[0].ID, CreatedAt: page[0].CreatedAt},
			Order:  model.OrderOldestFirst,
			Limit:  1,
		})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, hi, page[0].ID)
	})
}

func TestLeadRepo_Count(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewLeadRepo(db, nil)

		n, err := repo.Count(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)

		seedLead(t, db, 1, testutil.TestTime())
		seedLead(t, db, 2, testutil.TestTime())

		n, err = repo.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestLeadRepo_ApplyVerifiedURL(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewLeadRepo(db, nil)
		id := seedLead(t, db, 1, testutil.TestTime())
		verifiedAt := testutil.TestTime().Add(time.Hour)

		require.NoError(t, repo.ApplyVerifiedURL(context.Background(), core.ApplyURLParams{
			LeadID:     id,
			URL:        "https://portal.example.gov/rfp/1",
			VerifiedAt: verifiedAt,
		}))

		page, err := repo.NextPage(context.Background(), core.PageQuery{
			Order: model.OrderOldestFirst, Limit: 10,
		})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "https://portal.example.gov/rfp/1", page[0].SourceURL)
		require.NotNil(t, page[0].VerifiedAt)
		assert.True(t, page[0].VerifiedAt.Equal(verifiedAt))

		err = repo.ApplyVerifiedURL(context.Background(), core.ApplyURLParams{
			LeadID: uuid.NewString(), URL: "https://x", VerifiedAt: verifiedAt,
		})
		require.ErrorIs(t, err, ErrLeadNotFound)
	})
}

func TestLeadRepo_RefreshVerifiedAt(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewLeadRepo(db, nil)
		id := seedLead(t, db, 1, testutil.TestTime())
		at := testutil.TestTime().Add(2 * time.Hour)

		require.NoError(t, repo.RefreshVerifiedAt(context.Background(), id, at))

		page, err := repo.NextPage(context.Background(), core.PageQuery{
			Order: model.OrderOldestFirst, Limit: 10,
		})
		require.NoError(t, err)
		require.Len(t, page, 1)
		// URL untouched, timestamp refreshed.
		assert.Equal(t, "https://example.gov/tenders/1", page[0].SourceURL)
		require.NotNil(t, page[0].VerifiedAt)
		assert.True(t, page[0].VerifiedAt.Equal(at))

		require.ErrorIs(t,
			repo.RefreshVerifiedAt(context.Background(), uuid.NewString(), at),
			ErrLeadNotFound)
	})
}
