package weaviate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven/mocks"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) *weaviate.Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			_, _ = w.Write([]byte(`{"version": "1.25.0"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	client, err := NewClient(Config{Host: ts.Listener.Addr().String(), Scheme: "http"})
	require.NoError(t, err)
	return client
}

func graphqlQuery(t *testing.T, r *http.Request) string {
	t.Helper()
	var body struct {
		Query string `json:"query"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body.Query
}

func TestObjectID(t *testing.T) {
	assert.Equal(t, ObjectID("chunk-1"), ObjectID("chunk-1"))
	assert.NotEqual(t, ObjectID("chunk-1"), ObjectID("chunk-2"))
}

func TestVectorStore_Search(t *testing.T) {
	var query string
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		query = graphqlQuery(t, r)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"Get": map[string]any{
					"KnowledgeChunk": []any{
						map[string]any{
							"chunk_id":       "c1",
							"original_id":    "c1",
							"knowledge_type": "project",
							"project_id":     "P1",
							"content":        "braking distance",
							"domain":         nil,
							"_additional":    map[string]any{"id": "obj-1", "distance": 0.25},
						},
					},
				},
			},
		})
	})

	store := NewVectorStore(client, nil, nil)
	hits, err := store.Search(context.Background(), domain.VectorQuery{
		Collection:     "KnowledgeChunk",
		Vector:         []float32{0.1, 0.2},
		Limit:          5,
		ScoreThreshold: 0.3,
		Filter:         map[string]string{"project_id": "P1"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "obj-1", hits[0].ID)
	assert.InDelta(t, 0.75, hits[0].Score, 1e-9)
	assert.NotContains(t, hits[0].Payload, "_additional")
	assert.NotContains(t, hits[0].Payload, "domain")

	c := domain.CandidateFromHit(hits[0], domain.SearchTypeVector)
	assert.Equal(t, "c1", c.ChunkID)
	assert.Equal(t, domain.KnowledgeTypeProject, c.KnowledgeType)

	assert.Contains(t, query, "nearVector")
	assert.Contains(t, query, "distance: 0.7")
	assert.Contains(t, query, "project_id")
	assert.Contains(t, query, "limit: 5")
}

func TestVectorStore_SearchErrors(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	store := NewVectorStore(client, nil, nil)

	_, err := store.Search(context.Background(), domain.VectorQuery{Collection: "KnowledgeChunk", Vector: []float32{1}})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = store.Search(context.Background(), domain.VectorQuery{Collection: "KnowledgeChunk"})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = store.SearchByText(context.Background(), "text", domain.VectorQuery{Collection: "KnowledgeChunk"})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestVectorStore_GraphQLErrors(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"class not found"}]}`))
	})
	store := NewVectorStore(client, nil, nil)

	_, err := store.Search(context.Background(), domain.VectorQuery{Collection: "Missing", Vector: []float32{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class not found")
}

func TestVectorStore_SearchByText(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"Get":{"KnowledgeChunk":[]}}}`))
	})
	embedder := mocks.NewMockEmbeddingService()
	store := NewVectorStore(client, embedder, nil)

	hits, err := store.SearchByText(context.Background(), "hazard log", domain.VectorQuery{Collection: "KnowledgeChunk"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorStore_Store(t *testing.T) {
	var objects []map[string]any
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		var body struct {
			Objects []map[string]any `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		objects = body.Objects
		_ = json.NewEncoder(w).Encode(body.Objects)
	})
	store := NewVectorStore(client, nil, nil)

	ids, err := store.Store(context.Background(), "KnowledgeChunk", []domain.VectorRecord{
		{ID: "c1", Vector: []float32{0.1}, Payload: map[string]any{"content": "one"}},
		{ID: "c2", Vector: []float32{0.2}, Payload: map[string]any{"content": "two"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{ObjectID("c1").String(), ObjectID("c2").String()}, ids)
	require.Len(t, objects, 2)
	assert.Equal(t, "KnowledgeChunk", objects[0]["class"])
	props := objects[0]["properties"].(map[string]any)
	assert.Equal(t, "c1", props["chunk_id"])
	assert.Equal(t, "c1", props["original_id"])
}

func TestVectorStore_StoreObjectError(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"class":"KnowledgeChunk","id":"x","result":{"errors":{"error":[{"message":"vector length mismatch"}]}}}]`))
	})
	store := NewVectorStore(client, nil, nil)

	_, err := store.Store(context.Background(), "KnowledgeChunk", []domain.VectorRecord{{ID: "c1", Vector: []float32{1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector length mismatch")
}

func TestVectorStore_Delete(t *testing.T) {
	var method string
	var body string
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		method = r.Method
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		_, _ = w.Write([]byte(`{}`))
	})
	store := NewVectorStore(client, nil, nil)

	require.NoError(t, store.Delete(context.Background(), "KnowledgeChunk", []string{"c1", "c2"}))
	assert.Equal(t, http.MethodDelete, method)
	assert.Contains(t, body, "chunk_id")
	assert.Contains(t, body, "ContainsAny")

	require.NoError(t, store.Delete(context.Background(), "KnowledgeChunk", nil))
}

func TestVectorStore_Info(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, graphqlQuery(t, r), "Aggregate")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"Aggregate": map[string]any{
					"KnowledgeChunk": []any{
						map[string]any{"meta": map[string]any{"count": 42.0}},
					},
				},
			},
		})
	})
	store := NewVectorStore(client, nil, nil)

	info, err := store.Info(context.Background(), "KnowledgeChunk")
	require.NoError(t, err)
	assert.Equal(t, int64(42), info.Count)
	assert.Equal(t, "KnowledgeChunk", info.Name)
}
