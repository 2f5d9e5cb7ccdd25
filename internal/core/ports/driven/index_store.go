package driven

import (
	"context"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// VectorStore handles nearest-neighbour search over chunk embeddings (Weaviate).
// Failed calls return a *domain.StoreError; an error is never masked as an empty result.
type VectorStore interface {
	// Search returns hits ordered by similarity, filtered by q.ScoreThreshold
	Search(ctx context.Context, q domain.VectorQuery) ([]domain.SearchHit, error)

	// SearchByText embeds text internally and searches with it
	SearchByText(ctx context.Context, text string, q domain.VectorQuery) ([]domain.SearchHit, error)

	// Store upserts records and returns their store-local ids
	Store(ctx context.Context, collection string, records []domain.VectorRecord) ([]string, error)

	// EnsureCollection creates the collection if it does not exist
	EnsureCollection(ctx context.Context, collection string, dimensions int, metric domain.DistanceMetric) error

	// Delete removes records by canonical chunk id
	Delete(ctx context.Context, collection string, ids []string) error

	// Info returns the collection size and shape
	Info(ctx context.Context, collection string) (*domain.CollectionInfo, error)
}

// KeywordStore handles full-text BM25 search (Vespa).
// Failed calls return a *domain.StoreError; an error is never masked as an empty result.
type KeywordStore interface {
	// Search returns hits ordered by BM25 relevance
	Search(ctx context.Context, q domain.KeywordQuery) ([]domain.SearchHit, error)

	// IndexDocument upserts one document keyed by canonical chunk id
	IndexDocument(ctx context.Context, index, id string, doc map[string]any) error

	// BulkIndex upserts documents and reports per-document failures
	BulkIndex(ctx context.Context, index string, docs []domain.KeywordDocument) (*domain.BulkResult, error)

	// EnsureIndex verifies the index is reachable and usable
	EnsureIndex(ctx context.Context, index string, settings map[string]any) error

	// DeleteDocument removes a document by canonical chunk id
	DeleteDocument(ctx context.Context, index, id string) error

	// Count returns the approximate number of documents matching filter
	Count(ctx context.Context, index string, filter map[string]string) (int64, error)

	// HealthCheck verifies the keyword store is available
	HealthCheck(ctx context.Context) error
}
