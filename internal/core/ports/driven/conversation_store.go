package driven

import (
	"context"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// ConversationStore persists conversation threads.
// Implementations: Redis (preferred) and PostgreSQL (fallback).
type ConversationStore interface {
	// Append adds messages to a thread, creating it if needed
	Append(ctx context.Context, threadID, projectID string, messages []domain.Message) error

	// Get returns the thread, or domain.ErrNotFound
	Get(ctx context.Context, threadID string) (*domain.Conversation, error)
}
