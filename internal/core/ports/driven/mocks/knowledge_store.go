package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

var _ driven.KnowledgeStore = (*MockKnowledgeStore)(nil)

// MockKnowledgeStore is a mock implementation of KnowledgeStore for testing
type MockKnowledgeStore struct {
	mu       sync.RWMutex
	chunks   map[string]*domain.ChunkRecord
	projects map[string]*domain.Project
	members  map[string]map[string]bool // project -> user set

	fetchCalls  int
	accessCalls int
	listCalls   int

	// Custom behavior hooks (optional)
	FetchErr  error
	ListErr   error
	CountErr  error
	AccessErr error
}

// NewMockKnowledgeStore creates a new MockKnowledgeStore
func NewMockKnowledgeStore() *MockKnowledgeStore {
	return &MockKnowledgeStore{
		chunks:   make(map[string]*domain.ChunkRecord),
		projects: make(map[string]*domain.Project),
		members:  make(map[string]map[string]bool),
	}
}

func (m *MockKnowledgeStore) FetchContentByIDs(ctx context.Context, ids []string) (map[string]domain.ChunkContent, error) {
	m.mu.Lock()
	m.fetchCalls++
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, domain.ClassifyStoreError("relational", "fetch_content", err)
	}
	if m.FetchErr != nil {
		return nil, domain.ClassifyStoreError("relational", "fetch_content", m.FetchErr)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.ChunkContent, len(ids))
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			out[id] = domain.ChunkContent{ChunkID: c.ChunkID, AssetID: c.AssetID, Content: c.Content}
		}
	}
	return out, nil
}

func (m *MockKnowledgeStore) GetChunks(ctx context.Context, ids []string) ([]*domain.ChunkRecord, error) {
	if m.FetchErr != nil {
		return nil, domain.ClassifyStoreError("relational", "get_chunks", m.FetchErr)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ChunkRecord
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockKnowledgeStore) ListChunks(ctx context.Context, page domain.ChunkPage) ([]*domain.ChunkRecord, error) {
	if m.ListErr != nil {
		return nil, domain.ClassifyStoreError("relational", "list_chunks", m.ListErr)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, c := range m.chunks {
		if id <= page.AfterID {
			continue
		}
		if page.ProjectID != "" && c.ProjectID != page.ProjectID {
			continue
		}
		if page.Since != nil && c.UpdatedAt.Before(*page.Since) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if page.Limit > 0 && len(ids) > page.Limit {
		ids = ids[:page.Limit]
	}
	out := make([]*domain.ChunkRecord, 0, len(ids))
	for _, id := range ids {
		cp := *m.chunks[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockKnowledgeStore) CountChunks(ctx context.Context, projectID string) (int64, error) {
	if m.CountErr != nil {
		return 0, domain.ClassifyStoreError("relational", "count_chunks", m.CountErr)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, c := range m.chunks {
		if projectID == "" || c.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

func (m *MockKnowledgeStore) HasProjectAccess(ctx context.Context, userID, projectID string) (bool, error) {
	m.mu.Lock()
	m.accessCalls++
	m.mu.Unlock()

	if m.AccessErr != nil {
		return false, domain.ClassifyStoreError("relational", "has_project_access", m.AccessErr)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members[projectID][userID], nil
}

func (m *MockKnowledgeStore) ListUserProjects(ctx context.Context, userID string) ([]string, error) {
	if m.AccessErr != nil {
		return nil, domain.ClassifyStoreError("relational", "list_user_projects", m.AccessErr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var out []string
	for projectID, users := range m.members {
		if users[userID] {
			out = append(out, projectID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MockKnowledgeStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockKnowledgeStore) ListRecentTopics(ctx context.Context, projectID string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var recs []*domain.ChunkRecord
	for _, c := range m.chunks {
		if c.Title == "" {
			continue
		}
		if projectID != "" && c.ProjectID != projectID {
			continue
		}
		recs = append(recs, c)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
		return recs[i].ChunkID < recs[j].ChunkID
	})

	seen := make(map[string]bool)
	var out []string
	for _, r := range recs {
		if seen[r.Title] {
			continue
		}
		seen[r.Title] = true
		out = append(out, r.Title)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockKnowledgeStore) Ping(ctx context.Context) error {
	return nil
}

// Helper methods for testing

func (m *MockKnowledgeStore) AddChunk(rec domain.ChunkRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[rec.ChunkID] = &rec
}

func (m *MockKnowledgeStore) RemoveChunk(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, id)
}

func (m *MockKnowledgeStore) AddProject(p domain.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = &p
}

func (m *MockKnowledgeStore) AddMember(projectID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[projectID] == nil {
		m.members[projectID] = make(map[string]bool)
	}
	m.members[projectID][userID] = true
}

func (m *MockKnowledgeStore) FetchCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetchCalls
}

func (m *MockKnowledgeStore) AccessCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessCalls
}

func (m *MockKnowledgeStore) ListCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCalls
}
