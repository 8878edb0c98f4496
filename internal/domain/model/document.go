package model

import "time"

// Document is a searchable record (job posting or resume text) owned by its
// domain module. The sweep engine attaches embeddings through AttachEmbedding
// and never writes other document fields.
type Document struct {
	ID      string `json:"id"      db:"id"`
	Kind    string `json:"kind"    db:"kind"`
	Content string `json:"content" db:"content"`

	// ContentHash fingerprints Content so stale embeddings can be detected
	// without re-reading the vector.
	ContentHash string `json:"content_hash" db:"content_hash"`

	Embedding          []float32  `json:"-"                              db:"embedding"`
	EmbeddingModel     *string    `json:"embedding_model,omitempty"      db:"embedding_model"`
	EmbeddingHash      *string    `json:"embedding_hash,omitempty"       db:"embedding_hash"`
	EmbeddingUpdatedAt *time.Time `json:"embedding_updated_at,omitempty" db:"embedding_updated_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NeedsEmbedding reports whether the document's embedding is missing or stale
// relative to its content hash and the given model tag.
func (d *Document) NeedsEmbedding(modelTag string) bool {
	if d.EmbeddingModel == nil || d.EmbeddingHash == nil {
		return true
	}
	return *d.EmbeddingModel != modelTag || *d.EmbeddingHash != d.ContentHash
}
