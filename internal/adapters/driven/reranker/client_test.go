package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{Provider: "voyage", APIKey: "k"})
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)

	_, err = NewClient(Config{Provider: ProviderJina})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	c, err := NewClient(Config{Provider: ProviderCohere, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "rerank-english-v3.0", c.Model())
	assert.Equal(t, "https://api.cohere.ai/v1/rerank", c.url)
}

func TestClient_Score(t *testing.T) {
	for _, provider := range []Provider{ProviderJina, ProviderCohere} {
		t.Run(string(provider), func(t *testing.T) {
			var req rerankRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				// Results come back sorted by score, not input order
				_, _ = w.Write([]byte(`{"results":[
					{"index":2,"relevance_score":0.9},
					{"index":0,"relevance_score":0.4}
				]}`))
			}))
			defer server.Close()

			c, err := NewClient(Config{Provider: provider, APIKey: "secret", BaseURL: server.URL})
			require.NoError(t, err)

			scores, err := c.Score(context.Background(), "braking distance", []string{"a", "b", "c"})
			require.NoError(t, err)
			assert.Equal(t, []float64{0.4, 0, 0.9}, scores)
			assert.Equal(t, 3, req.TopN)
			assert.Equal(t, "braking distance", req.Query)
		})
	}
}

func TestClient_ScoreErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c, _ := NewClient(Config{Provider: ProviderJina, APIKey: "k", BaseURL: server.URL})
	_, err := c.Score(context.Background(), "q", []string{"a"})
	assert.ErrorIs(t, err, domain.ErrRerankerUnavailable)
	assert.Contains(t, err.Error(), "429")

	scores, err := c.Score(context.Background(), "q", nil)
	assert.NoError(t, err)
	assert.Nil(t, scores)
}
