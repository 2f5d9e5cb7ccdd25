package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

// Ensure GeminiEmbedding implements EmbeddingService
var _ driven.EmbeddingService = (*GeminiEmbedding)(nil)

var geminiModelDimensions = map[string]int{
	"gemini-embedding-001": 3072,
	"text-embedding-004":   768,
}

// GeminiEmbedding implements EmbeddingService with the Gemini API. Documents
// and queries are embedded with their matching retrieval task types.
type GeminiEmbedding struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiEmbedding creates a Gemini embedding service
func NewGeminiEmbedding(ctx context.Context, settings domain.EmbeddingSettings, opts ...option.ClientOption) (*GeminiEmbedding, error) {
	if settings.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required for gemini", domain.ErrInvalidInput)
	}
	model := settings.Model
	if model == "" {
		model = "gemini-embedding-001"
	}
	dimensions := settings.Dimensions
	if dimensions <= 0 {
		dimensions = geminiModelDimensions[model]
	}

	opts = append(opts, option.WithAPIKey(settings.APIKey))
	if settings.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(settings.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiEmbedding{client: client, model: model, dimensions: dimensions}, nil
}

// Embed generates document embeddings in one batch call
func (e *GeminiEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := e.client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalDocument
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	slog.DebugContext(ctx, "embedding batch", "model", e.model, "count", len(texts))
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini embedding failed: %w", domain.ErrServiceUnavailable, err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d inputs",
			domain.ErrServiceUnavailable, len(res.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, emb := range res.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// EmbedQuery generates a query embedding
func (e *GeminiEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalQuery

	res, err := em.EmbedContent(ctx, genai.Text(query))
	if err != nil {
		return nil, fmt.Errorf("%w: gemini embedding failed: %w", domain.ErrServiceUnavailable, err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding received", domain.ErrServiceUnavailable)
	}
	return res.Embedding.Values, nil
}

// Dimensions returns the embedding dimension size
func (e *GeminiEmbedding) Dimensions() int {
	return e.dimensions
}

// Model returns the model name being used
func (e *GeminiEmbedding) Model() string {
	return e.model
}

// HealthCheck embeds a short probe string
func (e *GeminiEmbedding) HealthCheck(ctx context.Context) error {
	_, err := e.EmbedQuery(ctx, "health check")
	return err
}

// Close closes the underlying client
func (e *GeminiEmbedding) Close() error {
	return e.client.Close()
}
