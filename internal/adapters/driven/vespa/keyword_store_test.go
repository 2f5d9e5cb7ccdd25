package vespa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *KeywordStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	store, err := NewKeywordStore(DefaultConfig(server.URL))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func decodeQuery(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestNativeID(t *testing.T) {
	a := NativeID("chunk/with:odd#chars")
	assert.Len(t, a, 32)
	assert.Equal(t, a, NativeID("chunk/with:odd#chars"))
	assert.NotEqual(t, a, NativeID("chunk/with:odd#chars2"))
}

func TestIsIdentifier(t *testing.T) {
	tests := map[string]bool{
		"REQ-SYS-042":      true,
		"ABC123":           true,
		"hazard":           false,
		"42":               false,
		"braking distance": false,
		"-leading":         false,
		"req_1":            false,
		":-)":              false,
		"?-?":              false,
		"+-+":              false,
	}
	for q, want := range tests {
		assert.Equal(t, want, IsIdentifier(q), q)
	}
}

func TestKeywordStore_SearchIdentifier(t *testing.T) {
	var body map[string]any
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/", r.URL.Path)
		body = decodeQuery(t, r)
		_, _ = w.Write([]byte(`{"root":{"fields":{"totalCount":1},"children":[
			{"id":"id:sercha:chunk::abc","relevance":12.5,"fields":{"chunk_id":"c1","original_id":"c1","knowledge_type":"project","project_id":"P1"}}
		]}}`))
	})

	hits, err := store.Search(context.Background(), domain.KeywordQuery{
		Index:  "chunk",
		Text:   "REQ-SYS-042",
		Limit:  5,
		Filter: map[string]string{"project_id": "P1"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 12.5, hits[0].Score)

	c := domain.CandidateFromHit(hits[0], domain.SearchTypeKeyword)
	assert.Equal(t, "c1", c.ChunkID)
	assert.Equal(t, "P1", c.ProjectID)

	yql := body["yql"].(string)
	assert.Contains(t, yql, `content contains phrase("req", "sys", "042")`)
	assert.Contains(t, yql, `and project_id contains "P1"`)
	assert.Equal(t, "identifier", body["ranking.profile"])
	assert.Equal(t, float64(5), body["hits"])
}

func TestKeywordStore_SearchFullText(t *testing.T) {
	var body map[string]any
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		body = decodeQuery(t, r)
		_, _ = w.Write([]byte(`{"root":{"fields":{"totalCount":0}}}`))
	})

	hits, err := store.Search(context.Background(), domain.KeywordQuery{Index: "chunk", Text: "braking distance"})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, `select * from chunk where ({grammar: "weakAnd"}userInput(@query))`, body["yql"])
	assert.Equal(t, "braking distance", body["query"])
	assert.Equal(t, "default", body["ranking.profile"])
}

func TestKeywordStore_SearchPunctuationOnly(t *testing.T) {
	for _, text := range []string{":-)", "?-?", "+-+"} {
		var body map[string]any
		store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
			body = decodeQuery(t, r)
			_, _ = w.Write([]byte(`{"root":{"fields":{"totalCount":0}}}`))
		})

		hits, err := store.Search(context.Background(), domain.KeywordQuery{Index: "chunk", Text: text})
		require.NoError(t, err, text)
		assert.Empty(t, hits, text)
		assert.Equal(t, `select * from chunk where ({grammar: "weakAnd"}userInput(@query))`, body["yql"], text)
		assert.Equal(t, "default", body["ranking.profile"], text)
	}
}

func TestIdentifierClause_NoTokens(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.Equal(t, userInputClause(nil), identifierClause("-.-", nil))
	})
}

func TestKeywordStore_SearchErrors(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	_, err := store.Search(context.Background(), domain.KeywordQuery{Index: "chunk", Text: "x y"})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	var se *domain.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "search", se.Op)

	queryErr := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"root":{"errors":[{"code":4,"summary":"Invalid query","message":"bad yql"}]}}`))
	})
	_, err = queryErr.Search(context.Background(), domain.KeywordQuery{Index: "chunk", Text: "x y"})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestKeywordStore_SearchTimeout(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := store.Search(ctx, domain.KeywordQuery{Index: "chunk", Text: "slow query"})
	assert.ErrorIs(t, err, domain.ErrStoreTimeout)
}

func TestKeywordStore_BulkIndex(t *testing.T) {
	var mu sync.Mutex
	written := make(map[string]map[string]any)
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var doc vespaDocument
		_ = json.NewDecoder(r.Body).Decode(&doc)
		if doc.Fields["chunk_id"] == "bad" {
			http.Error(w, "rejected", http.StatusBadRequest)
			return
		}
		mu.Lock()
		written[r.URL.Path] = doc.Fields
		mu.Unlock()
	})

	docs := []domain.KeywordDocument{
		{ID: "c1", Fields: map[string]any{"content": "one"}},
		{ID: "c2", Fields: map[string]any{"content": "two"}},
		{ID: "bad", Fields: map[string]any{"content": "three"}},
	}
	res, err := store.BulkIndex(context.Background(), "chunk", docs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Errors["bad"], "rejected")

	fields := written["/document/v1/sercha/chunk/docid/"+NativeID("c1")]
	require.NotNil(t, fields)
	assert.Equal(t, "c1", fields["original_id"])
}

func TestKeywordStore_BulkIndexAllFail(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})
	res, err := store.BulkIndex(context.Background(), "chunk", []domain.KeywordDocument{{ID: "c1"}})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 1, res.Failed)
}

func TestKeywordStore_Count(t *testing.T) {
	var body map[string]any
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		body = decodeQuery(t, r)
		_, _ = w.Write([]byte(`{"root":{"fields":{"totalCount":150}}}`))
	})
	n, err := store.Count(context.Background(), "chunk", map[string]string{"project_id": "P1"})
	require.NoError(t, err)
	assert.Equal(t, int64(150), n)
	assert.Equal(t, `select * from chunk where true and project_id contains "P1"`, body["yql"])
	assert.Equal(t, float64(0), body["hits"])
}

func TestKeywordStore_DeleteDocument(t *testing.T) {
	var path string
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		path = r.URL.Path
		w.WriteHeader(http.StatusNotFound)
	})
	require.NoError(t, store.DeleteDocument(context.Background(), "chunk", "c9"))
	assert.True(t, strings.HasSuffix(path, NativeID("c9")))
}

func TestKeywordStore_EnsureIndex(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/state/v1/health":
			w.WriteHeader(http.StatusOK)
		case strings.HasPrefix(r.URL.Path, "/document/v1/sercha/chunk/docid"):
			_, _ = w.Write([]byte(`{"documents":[]}`))
		default:
			http.Error(w, "unknown document type", http.StatusBadRequest)
		}
	})
	require.NoError(t, store.EnsureIndex(context.Background(), "chunk", nil))
	assert.ErrorIs(t, store.EnsureIndex(context.Background(), "missing", nil), domain.ErrStoreUnavailable)
}

func TestNewKeywordStore_InvalidEndpoint(t *testing.T) {
	_, err := NewKeywordStore(DefaultConfig("localhost:8080"))
	assert.Error(t, err)
}
