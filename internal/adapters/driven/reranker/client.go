package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.RelevanceModel = (*Client)(nil)

// Provider selects the hosted rerank API
type Provider string

const (
	ProviderJina   Provider = "jina"
	ProviderCohere Provider = "cohere"
)

var (
	defaultEndpoints = map[Provider]string{
		ProviderJina:   "https://api.jina.ai/v1/rerank",
		ProviderCohere: "https://api.cohere.ai/v1/rerank",
	}
	defaultModels = map[Provider]string{
		ProviderJina:   "jina-reranker-v2-base-multilingual",
		ProviderCohere: "rerank-english-v3.0",
	}
)

// Config holds the rerank API settings
type Config struct {
	Provider Provider
	APIKey   string
	Model    string
	BaseURL  string // Overrides the provider endpoint
	Timeout  time.Duration
}

// Client scores (query, document) pairs with a hosted cross-encoder.
// Jina and Cohere share the request and response shape.
type Client struct {
	provider Provider
	apiKey   string
	model    string
	url      string
	client   *http.Client
}

// NewClient creates a rerank client
func NewClient(cfg Config) (*Client, error) {
	endpoint, ok := defaultEndpoints[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidProvider, cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: rerank API key is required", domain.ErrInvalidInput)
	}
	if cfg.BaseURL != "" {
		endpoint = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Provider]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		provider: cfg.Provider,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		url:      endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

// Score returns one relevance score per document in input order. Documents
// the API did not return score 0.
func (c *Client) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
		TopN:      len(documents),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s rerank request failed: %w", domain.ErrRerankerUnavailable, c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s api error %d: %s", domain.ErrRerankerUnavailable, c.provider, resp.StatusCode, string(msg))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode %s response: %w", domain.ErrRerankerUnavailable, c.provider, err)
	}

	scores := make([]float64, len(documents))
	for _, r := range result.Results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.Score
		}
	}
	return scores, nil
}

// Model returns the model name being used
func (c *Client) Model() string {
	return c.model
}
