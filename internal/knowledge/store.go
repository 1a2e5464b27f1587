// Package knowledge is the library index: documents stored with vector
// embeddings in PostgreSQL (pgvector) and retrieved by semantic
// similarity. The store generates embeddings through a Genkit embedder;
// SQL access goes through the Querier interface so tests can substitute
// a fake.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/librarian-ai/librarian/internal/log"
)

// MaxContentSize caps stored document content. Larger documents must be
// chunked by the caller before ingestion.
const MaxContentSize = 64 * 1024

// MaxTopK caps search result counts.
const MaxTopK = 20

// Querier is the database surface the store depends on. *Queries is the
// production implementation.
type Querier interface {
	UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error
	SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error)
	CountDocuments(ctx context.Context) (int64, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, limit int32) ([]ListDocumentsRow, error)
}

// Store manages library documents with vector search. Safe for
// concurrent use.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   log.Logger
}

// NewStore creates a store over the given querier and embedder.
func NewStore(queries Querier, embedder ai.Embedder, logger log.Logger) (*Store, error) {
	if queries == nil {
		return nil, fmt.Errorf("querier is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{queries: queries, embedder: embedder, logger: logger}, nil
}

// Add embeds and stores a document. A missing ID gets a generated UUID;
// the stored ID is returned.
func (s *Store) Add(ctx context.Context, doc Document) (string, error) {
	if doc.Content == "" {
		return "", fmt.Errorf("document content is empty")
	}
	if len(doc.Content) > MaxContentSize {
		return "", fmt.Errorf("document content %d bytes exceeds limit %d", len(doc.Content), MaxContentSize)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.SourceType == "" {
		doc.SourceType = SourceTypeManual
	}

	vec, err := s.embed(ctx, doc.Content)
	if err != nil {
		return "", fmt.Errorf("embed document: %w", err)
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	err = s.queries.UpsertDocument(ctx, UpsertDocumentParams{
		ID:         doc.ID,
		Title:      doc.Title,
		Source:     doc.Source,
		SourceType: doc.SourceType,
		Content:    doc.Content,
		Embedding:  vec,
		Metadata:   metadataJSON,
		CreatedAt:  pgtype.Timestamptz{Time: doc.CreatedAt, Valid: !doc.CreatedAt.IsZero()},
	})
	if err != nil {
		return "", fmt.Errorf("upsert document %q: %w", doc.ID, err)
	}

	s.logger.Debug("document stored",
		"id", doc.ID,
		"source_type", doc.SourceType,
		"content_length", len(doc.Content))
	return doc.ID, nil
}

// Search returns the documents most similar to query, best first.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("query is empty")
	}
	cfg := buildSearchConfig(opts)
	if cfg.topK <= 0 {
		cfg.topK = 5
	}
	if cfg.topK > MaxTopK {
		cfg.topK = MaxTopK
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	vec, err := s.embed(ctx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query embedding timeout: %w", err)
		}
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.queries.SearchDocuments(ctx, SearchDocumentsParams{
		QueryEmbedding: vec,
		SourceType:     cfg.sourceType,
		ResultLimit:    int32(cfg.topK),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search timeout: %w", err)
		}
		return nil, fmt.Errorf("search documents: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			Document:   rowToDocument(row, s.logger),
			Similarity: float32(row.Similarity),
		})
	}
	return results, nil
}

// Catalog returns document summaries plus the total count.
func (s *Store) Catalog(ctx context.Context, limit int) ([]CatalogEntry, int, error) {
	const maxCatalogLimit = 500
	if limit <= 0 || limit > maxCatalogLimit {
		limit = maxCatalogLimit
	}

	count, err := s.queries.CountDocuments(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}
	if count > math.MaxInt {
		return nil, 0, fmt.Errorf("document count %d exceeds int capacity", count)
	}

	rows, err := s.queries.ListDocuments(ctx, int32(limit))
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}

	entries := make([]CatalogEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, CatalogEntry{
			ID:         row.ID,
			Title:      row.Title,
			Source:     row.Source,
			SourceType: row.SourceType,
			CreatedAt:  row.CreatedAt.Time,
		})
	}
	return entries, int(count), nil
}

// Delete removes a document by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.queries.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document %q: %w", id, err)
	}
	s.logger.Debug("document deleted", "id", id)
	return nil
}

// embed produces one vector for text through the configured embedder.
func (s *Store) embed(ctx context.Context, text string) (*pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedder returned no embedding")
	}
	vec := pgvector.NewVector(resp.Embeddings[0].Embedding)
	return &vec, nil
}

func rowToDocument(row SearchDocumentsRow, logger log.Logger) Document {
	var metadata map[string]string
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			logger.Warn("unparsable document metadata", "id", row.ID, "error", err)
			metadata = nil
		}
	}
	return Document{
		ID:         row.ID,
		Title:      row.Title,
		Source:     row.Source,
		SourceType: row.SourceType,
		Content:    row.Content,
		Metadata:   metadata,
		CreatedAt:  row.CreatedAt.Time,
	}
}
