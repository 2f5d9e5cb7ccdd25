package mocks

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

var (
	_ driven.VectorStore  = (*MockVectorStore)(nil)
	_ driven.KeywordStore = (*MockKeywordStore)(nil)
)

// MockVectorStore is an in-memory VectorStore using cosine similarity.
// Store-local ids are prefixed with "vec-" so they differ from canonical ids.
type MockVectorStore struct {
	mu          sync.RWMutex
	embedder    driven.EmbeddingService
	collections map[string]map[string]domain.VectorRecord
	searchCalls int
	lastQuery   domain.VectorQuery

	// Custom behavior hooks (optional)
	SearchFn  func(q domain.VectorQuery) ([]domain.SearchHit, error)
	SearchErr error
	EnsureErr error
	Delay     time.Duration
}

// NewMockVectorStore creates a new MockVectorStore
func NewMockVectorStore(embedder driven.EmbeddingService) *MockVectorStore {
	return &MockVectorStore{
		embedder:    embedder,
		collections: make(map[string]map[string]domain.VectorRecord),
	}
}

func (m *MockVectorStore) Search(ctx context.Context, q domain.VectorQuery) ([]domain.SearchHit, error) {
	m.mu.Lock()
	m.searchCalls++
	m.lastQuery = q
	m.mu.Unlock()

	if err := wait(ctx, m.Delay); err != nil {
		return nil, domain.ClassifyStoreError("vector", "search", err)
	}
	if m.SearchErr != nil {
		return nil, domain.ClassifyStoreError("vector", "search", m.SearchErr)
	}
	if m.SearchFn != nil {
		return m.SearchFn(q)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []domain.SearchHit
	for id, rec := range m.collections[q.Collection] {
		if !matchesFilter(rec.Payload, q.Filter) {
			continue
		}
		score := cosine(q.Vector, rec.Vector)
		if q.ScoreThreshold > 0 && score < q.ScoreThreshold {
			continue
		}
		hits = append(hits, domain.SearchHit{ID: "vec-" + id, Score: score, Payload: maps.Clone(rec.Payload)})
	}
	return sortAndLimit(hits, q.Limit), nil
}

func (m *MockVectorStore) SearchByText(ctx context.Context, text string, q domain.VectorQuery) ([]domain.SearchHit, error) {
	vec, err := m.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, domain.ClassifyStoreError("vector", "embed", err)
	}
	q.Vector = vec
	return m.Search(ctx, q)
}

func (m *MockVectorStore) Store(ctx context.Context, collection string, records []domain.VectorRecord) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]domain.VectorRecord)
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		payload := maps.Clone(rec.Payload)
		if payload == nil {
			payload = make(map[string]any)
		}
		if _, ok := payload[domain.PayloadChunkID]; !ok {
			payload[domain.PayloadChunkID] = rec.ID
		}
		rec.Payload = payload
		m.collections[collection][rec.ID] = rec
		ids = append(ids, "vec-"+rec.ID)
	}
	return ids, nil
}

func (m *MockVectorStore) EnsureCollection(ctx context.Context, collection string, dimensions int, metric domain.DistanceMetric) error {
	if m.EnsureErr != nil {
		return domain.ClassifyStoreError("vector", "ensure_collection", m.EnsureErr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]domain.VectorRecord)
	}
	return nil
}

func (m *MockVectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.collections[collection], id)
	}
	return nil
}

func (m *MockVectorStore) Info(ctx context.Context, collection string) (*domain.CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs, ok := m.collections[collection]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.CollectionInfo{
		Name:       collection,
		Count:      int64(len(recs)),
		Dimensions: m.embedder.Dimensions(),
		Metric:     domain.DistanceCosine,
	}, nil
}

// Helper methods for testing

// Put embeds content with the configured embedder and stores it under id
func (m *MockVectorStore) Put(ctx context.Context, collection string, rec domain.ChunkRecord) error {
	vecs, err := m.embedder.Embed(ctx, []string{rec.Title + " " + rec.Content})
	if err != nil {
		return err
	}
	_, err = m.Store(ctx, collection, []domain.VectorRecord{{ID: rec.ChunkID, Vector: vecs[0], Payload: rec.IndexFields()}})
	return err
}

func (m *MockVectorStore) SearchCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.searchCalls
}

func (m *MockVectorStore) LastQuery() domain.VectorQuery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

// MockKeywordStore is an in-memory KeywordStore with term-frequency scoring
// and a heavy boost for exact phrase matches. Store-local ids are prefixed
// with "kw-" so they differ from canonical ids.
type MockKeywordStore struct {
	mu          sync.RWMutex
	indexes     map[string]map[string]map[string]any
	searchCalls int
	bulkCalls   int

	// Custom behavior hooks (optional)
	SearchErr error
	BulkErr   error
	CountErr  error
	EnsureErr error
	FailIDs   map[string]bool // Canonical ids that fail in BulkIndex
	Delay     time.Duration
}

// NewMockKeywordStore creates a new MockKeywordStore
func NewMockKeywordStore() *MockKeywordStore {
	return &MockKeywordStore{
		indexes: make(map[string]map[string]map[string]any),
		FailIDs: make(map[string]bool),
	}
}

func (m *MockKeywordStore) Search(ctx context.Context, q domain.KeywordQuery) ([]domain.SearchHit, error) {
	m.mu.Lock()
	m.searchCalls++
	m.mu.Unlock()

	if err := wait(ctx, m.Delay); err != nil {
		return nil, domain.ClassifyStoreError("keyword", "search", err)
	}
	if m.SearchErr != nil {
		return nil, domain.ClassifyStoreError("keyword", "search", m.SearchErr)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	phrase := strings.ToLower(strings.TrimSpace(q.Text))
	terms := tokenize(phrase)
	var hits []domain.SearchHit
	for id, doc := range m.indexes[q.Index] {
		if !matchesFilter(doc, q.Filter) {
			continue
		}
		text := strings.ToLower(fmt.Sprint(doc[domain.PayloadTitle]) + " " + fmt.Sprint(doc[domain.PayloadContent]))
		var score float64
		words := tokenize(text)
		for _, term := range terms {
			for _, w := range words {
				if w == term {
					score++
				}
			}
		}
		if phrase != "" && strings.Contains(text, phrase) {
			score += 10
		}
		if score == 0 {
			continue
		}
		hits = append(hits, domain.SearchHit{ID: "kw-" + id, Score: score, Payload: maps.Clone(doc)})
	}
	return sortAndLimit(hits, q.Limit), nil
}

func (m *MockKeywordStore) IndexDocument(ctx context.Context, index, id string, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(index, id, doc)
	return nil
}

func (m *MockKeywordStore) BulkIndex(ctx context.Context, index string, docs []domain.KeywordDocument) (*domain.BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkCalls++

	if m.BulkErr != nil {
		return nil, domain.ClassifyStoreError("keyword", "bulk_index", m.BulkErr)
	}

	result := &domain.BulkResult{Errors: make(map[string]string)}
	for _, d := range docs {
		if m.FailIDs[d.ID] {
			result.Failed++
			result.Errors[d.ID] = "rejected"
			continue
		}
		m.put(index, d.ID, d.Fields)
		result.Indexed++
	}
	return result, nil
}

func (m *MockKeywordStore) EnsureIndex(ctx context.Context, index string, settings map[string]any) error {
	if m.EnsureErr != nil {
		return domain.ClassifyStoreError("keyword", "ensure_index", m.EnsureErr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexes[index] == nil {
		m.indexes[index] = make(map[string]map[string]any)
	}
	return nil
}

func (m *MockKeywordStore) DeleteDocument(ctx context.Context, index, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes[index], id)
	return nil
}

func (m *MockKeywordStore) Count(ctx context.Context, index string, filter map[string]string) (int64, error) {
	if m.CountErr != nil {
		return 0, domain.ClassifyStoreError("keyword", "count", m.CountErr)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, doc := range m.indexes[index] {
		if matchesFilter(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (m *MockKeywordStore) HealthCheck(ctx context.Context) error {
	return m.SearchErr
}

func (m *MockKeywordStore) put(index, id string, doc map[string]any) {
	if m.indexes[index] == nil {
		m.indexes[index] = make(map[string]map[string]any)
	}
	m.indexes[index][id] = maps.Clone(doc)
}

// Helper methods for testing

func (m *MockKeywordStore) Size(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indexes[index])
}

func (m *MockKeywordStore) Has(index, id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.indexes[index][id]
	return ok
}

func (m *MockKeywordStore) SearchCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.searchCalls
}

func (m *MockKeywordStore) BulkCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bulkCalls
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func matchesFilter(payload map[string]any, filter map[string]string) bool {
	for k, v := range filter {
		if fmt.Sprint(payload[k]) != v {
			return false
		}
	}
	return true
}

func sortAndLimit(hits []domain.SearchHit, limit int) []domain.SearchHit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
