package mcp

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

type mockRetrievalService struct {
	result    domain.Context
	lastText  string
	lastScope domain.QueryScope
}

func (m *mockRetrievalService) Query(ctx context.Context, text string, scope domain.QueryScope) domain.Context {
	m.lastText, m.lastScope = text, scope
	return m.result
}

func (m *mockRetrievalService) GetSuggestions(ctx context.Context, scope domain.QueryScope) ([]string, error) {
	return nil, nil
}

func (m *mockRetrievalService) StoreConversation(ctx context.Context, threadID string, messages []domain.Message, projectID string) error {
	return nil
}

type mockSyncService struct {
	record *domain.DriftRecord
	err    error
}

func (m *mockSyncService) Reindex(ctx context.Context, req domain.ReindexRequest) (*domain.ReindexResult, error) {
	return nil, nil
}

func (m *mockSyncService) ReindexSince(ctx context.Context, since time.Time, projectID string) (*domain.ReindexResult, error) {
	return nil, nil
}

func (m *mockSyncService) DriftStatus(ctx context.Context, projectID string) (*domain.DriftRecord, error) {
	return m.record, m.err
}

func (m *mockSyncService) IndexChunks(ctx context.Context, chunkIDs []string) (*domain.BulkResult, error) {
	return nil, nil
}

func (m *mockSyncService) RemoveChunks(ctx context.Context, chunkIDs []string) error {
	return nil
}

func (m *mockSyncService) EnsureIndexes(ctx context.Context) error {
	return nil
}
