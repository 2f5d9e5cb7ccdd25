package driven

import (
	"context"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// EmbeddingService turns text into vectors. Queries go through EmbedQuery;
// chunk content written to the vector index on the dual-write path goes
// through Embed.
type EmbeddingService interface {
	// Embed returns one vector per text, in input order
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a search query. Providers with asymmetric models use
	// their query task type here.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// Dimensions must match the vector collection
	Dimensions() int

	Model() string

	HealthCheck(ctx context.Context) error

	Close() error
}

// AIServiceFactory builds the embedding service for the configured provider.
// It returns nil, nil when no provider is configured; hybrid queries then
// degrade to keyword-only results.
type AIServiceFactory interface {
	CreateEmbeddingService(settings *domain.EmbeddingSettings) (EmbeddingService, error)
}
