package mocks

import (
	"context"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

var _ driven.RelevanceModel = (*MockRelevanceModel)(nil)

// MockRelevanceModel scores documents by the share of query words they contain
type MockRelevanceModel struct {
	mu    sync.Mutex
	calls int

	ScoreFn  func(query string, documents []string) ([]float64, error)
	ScoreErr error
}

// NewMockRelevanceModel creates a new MockRelevanceModel
func NewMockRelevanceModel() *MockRelevanceModel {
	return &MockRelevanceModel{}
}

func (m *MockRelevanceModel) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.ScoreErr != nil {
		return nil, m.ScoreErr
	}
	if m.ScoreFn != nil {
		return m.ScoreFn(query, documents)
	}

	terms := tokenize(strings.ToLower(query))
	scores := make([]float64, len(documents))
	if len(terms) == 0 {
		return scores, nil
	}
	for i, doc := range documents {
		words := make(map[string]bool)
		for _, w := range tokenize(strings.ToLower(doc)) {
			words[w] = true
		}
		hit := 0
		for _, t := range terms {
			if words[t] {
				hit++
			}
		}
		scores[i] = float64(hit) / float64(len(terms))
	}
	return scores, nil
}

func (m *MockRelevanceModel) Model() string {
	return "mock-cross-encoder"
}

func (m *MockRelevanceModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
