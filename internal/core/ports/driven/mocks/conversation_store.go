package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

var _ driven.ConversationStore = (*MockConversationStore)(nil)

// MockConversationStore is a mock implementation of ConversationStore for testing
type MockConversationStore struct {
	mu      sync.RWMutex
	threads map[string]*domain.Conversation

	AppendErr error
}

// NewMockConversationStore creates a new MockConversationStore
func NewMockConversationStore() *MockConversationStore {
	return &MockConversationStore{
		threads: make(map[string]*domain.Conversation),
	}
}

func (m *MockConversationStore) Append(ctx context.Context, threadID, projectID string, messages []domain.Message) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.threads[threadID]
	if !ok {
		conv = &domain.Conversation{ThreadID: threadID, ProjectID: projectID}
		m.threads[threadID] = conv
	}
	conv.Messages = append(conv.Messages, messages...)
	conv.UpdatedAt = time.Now()
	return nil
}

func (m *MockConversationStore) Get(ctx context.Context, threadID string) (*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.threads[threadID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *conv
	cp.Messages = append([]domain.Message(nil), conv.Messages...)
	return &cp, nil
}
