package driven

import (
	"context"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// QueryLog records one audit entry per retrieval
type QueryLog interface {
	Record(ctx context.Context, entry domain.QueryLogEntry)
}
