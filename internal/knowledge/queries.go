package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// DBTX is the subset of pgx used by Queries. Both *pgxpool.Pool and
// pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries runs the document SQL against a pgx connection. All
// statements are parameterized.
type Queries struct {
	db DBTX
}

// NewQueries wraps db.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// UpsertDocumentParams carries one document row for insert-or-update.
type UpsertDocumentParams struct {
	ID         string
	Title      string
	Source     string
	SourceType string
	Content    string
	Embedding  *pgvector.Vector
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
}

const upsertDocumentSQL = `
INSERT INTO documents (id, title, source, source_type, content, embedding, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title,
    source = EXCLUDED.source,
    source_type = EXCLUDED.source_type,
    content = EXCLUDED.content,
    embedding = EXCLUDED.embedding,
    metadata = EXCLUDED.metadata`

// UpsertDocument inserts or replaces one document.
func (q *Queries) UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error {
	var createdAt any
	if arg.CreatedAt.Valid {
		createdAt = arg.CreatedAt
	}
	_, err := q.db.Exec(ctx, upsertDocumentSQL,
		arg.ID, arg.Title, arg.Source, arg.SourceType, arg.Content,
		arg.Embedding, arg.Metadata, createdAt)
	return err
}

// SearchDocumentsParams configures one vector search.
type SearchDocumentsParams struct {
	QueryEmbedding *pgvector.Vector
	// SourceType filters results when non-empty.
	SourceType  string
	ResultLimit int32
}

// SearchDocumentsRow is one vector search hit.
type SearchDocumentsRow struct {
	ID         string
	Title      string
	Source     string
	SourceType string
	Content    string
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
	Similarity float64
}

const searchDocumentsSQL = `
SELECT id, title, source, source_type, content, metadata, created_at,
       1 - (embedding <=> $1) AS similarity
FROM documents
WHERE $2 = '' OR source_type = $2
ORDER BY embedding <=> $1
LIMIT $3`

// SearchDocuments returns the nearest documents by cosine distance.
func (q *Queries) SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error) {
	rows, err := q.db.Query(ctx, searchDocumentsSQL,
		arg.QueryEmbedding, arg.SourceType, arg.ResultLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchDocumentsRow
	for rows.Next() {
		var r SearchDocumentsRow
		if err := rows.Scan(&r.ID, &r.Title, &r.Source, &r.SourceType,
			&r.Content, &r.Metadata, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const countDocumentsSQL = `SELECT count(*) FROM documents`

// CountDocuments returns the total document count.
func (q *Queries) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countDocumentsSQL).Scan(&count)
	return count, err
}

const deleteDocumentSQL = `DELETE FROM documents WHERE id = $1`

// DeleteDocument removes one document by ID.
func (q *Queries) DeleteDocument(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, deleteDocumentSQL, id)
	return err
}

// ListDocumentsRow is one catalog row, without content or embedding.
type ListDocumentsRow struct {
	ID         string
	Title      string
	Source     string
	SourceType string
	CreatedAt  pgtype.Timestamptz
}

const listDocumentsSQL = `
SELECT id, title, source, source_type, created_at
FROM documents
ORDER BY created_at DESC
LIMIT $1`

// ListDocuments returns document summaries, newest first.
func (q *Queries) ListDocuments(ctx context.Context, limit int32) ([]ListDocumentsRow, error) {
	rows, err := q.db.Query(ctx, listDocumentsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ListDocumentsRow
	for rows.Next() {
		var r ListDocumentsRow
		if err := rows.Scan(&r.ID, &r.Title, &r.Source, &r.SourceType, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan list row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
