package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/matchops/leadsweep/internal/core"
	"github.com/matchops/leadsweep/internal/data/pgxutil"
	"github.com/matchops/leadsweep/internal/domain/model"
)

// DocumentRepo implements core.DocumentSource over the documents table.
// Embeddings are stored as float4[] alongside the model tag and content hash
// that produced them.
type DocumentRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewDocumentRepo creates a DocumentRepo.
func NewDocumentRepo(db *sql.DB, tp TimeProvider) *DocumentRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &DocumentRepo{DB: db, timeProvider: tp}
}

const documentColumns = `
  id,
  kind,
  content,
  content_hash,
  embedding,
  embedding_model,
  embedding_hash,
  embedding_updated_at,
  created_at,
  updated_at
`

// NextPage returns one keyset page of documents in (created_at, id) order.
func (r *DocumentRepo) NextPage(ctx context.Context, q core.PageQuery) ([]model.Document, error) {
	query, args := buildKeysetQuery(`SELECT `+documentColumns+` FROM documents`, q)

	var docs []model.Document
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, args...)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			var d model.Document
			var embModel, embHash sql.NullString
			var embUpdatedAt sql.NullTime
			if serr := rows.Scan(
				&d.ID, &d.Kind, &d.Content, &d.ContentHash,
				&d.Embedding, &embModel, &embHash, &embUpdatedAt,
				&d.CreatedAt, &d.UpdatedAt,
			); serr != nil {
				return serr
			}
			d.EmbeddingModel = cloneNullableString(embModel)
			d.EmbeddingHash = cloneNullableString(embHash)
			d.EmbeddingUpdatedAt = cloneNullableTime(embUpdatedAt)
			docs = append(docs, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("page documents: %w", err)
	}
	return docs, nil
}

// Count returns the document collection size for the run's progress snapshot.
func (r *DocumentRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// AttachEmbedding stores a freshly computed embedding with its provenance.
func (r *DocumentRepo) AttachEmbedding(ctx context.Context, params core.AttachEmbeddingParams) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, execErr := conn.Exec(ctx, `
			UPDATE documents
			SET embedding = $2,
			    embedding_model = $3,
			    embedding_hash = $4,
			    embedding_updated_at = $5,
			    updated_at = $6
			WHERE id = $1
		`, params.DocumentID, params.Vector, params.ModelTag, params.ContentHash,
			params.UpdatedAt.UTC(), r.timeProvider.Now().UTC())
		if execErr != nil {
			return execErr
		}
		if tag.RowsAffected() == 0 {
			return ErrDocumentNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("attach embedding: %w", err)
	}
	return nil
}
