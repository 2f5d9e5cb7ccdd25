package driving

import (
	"context"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// RetrievalService is the produced interface consumed by prompt construction
type RetrievalService interface {
	// Query returns the relevant chunks for text within scope. It never fails:
	// errors degrade to an empty Context with an "error" metadata key.
	Query(ctx context.Context, text string, scope domain.QueryScope) domain.Context

	// GetSuggestions returns starter questions for the scope
	GetSuggestions(ctx context.Context, scope domain.QueryScope) ([]string, error)

	// StoreConversation appends messages to a conversation thread
	StoreConversation(ctx context.Context, threadID string, messages []domain.Message, projectID string) error
}
