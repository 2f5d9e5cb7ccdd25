package ai

import (
	"context"
	"fmt"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

// Ensure Factory implements AIServiceFactory
var _ driven.AIServiceFactory = (*Factory)(nil)

// Factory creates embedding services from settings
type Factory struct {
	ctx context.Context
}

// NewFactory creates a new AI service factory. ctx scopes clients that hold
// background connections (Gemini).
func NewFactory(ctx context.Context) *Factory {
	return &Factory{ctx: ctx}
}

// CreateEmbeddingService returns nil, nil when settings are not configured
func (f *Factory) CreateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	var (
		svc driven.EmbeddingService
		err error
	)
	switch settings.Provider {
	case domain.AIProviderOpenAI:
		svc, err = asService(NewOpenAIEmbedding(*settings))
	case domain.AIProviderOllama:
		s := *settings
		if s.BaseURL == "" {
			s.BaseURL = "http://localhost:11434/v1"
		}
		if s.Model == "" {
			s.Model = "nomic-embed-text"
		}
		svc, err = asService(NewOpenAIEmbedding(s))
	case domain.AIProviderGemini:
		svc, err = asService(NewGeminiEmbedding(f.ctx, *settings))
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidProvider, settings.Provider)
	}
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// asService keeps a failed constructor from yielding a typed nil interface
func asService[T driven.EmbeddingService](svc T, err error) (driven.EmbeddingService, error) {
	if err != nil {
		return nil, err
	}
	return svc, nil
}
