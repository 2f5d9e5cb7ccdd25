package driven

import (
	"context"
)

// RelevanceModel scores (query, passage) pairs jointly (cross-encoder).
type RelevanceModel interface {
	// Score returns one relevance score per document, in input order
	Score(ctx context.Context, query string, documents []string) ([]float64, error)

	// Model returns the model name being used
	Model() string
}
