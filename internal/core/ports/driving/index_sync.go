package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// IndexSyncService keeps the keyword index consistent with the relational store
type IndexSyncService interface {
	// Reindex rebuilds the keyword index for the request scope. Batch failures
	// are reported in the result; the error is reserved for lock and setup failures.
	Reindex(ctx context.Context, req domain.ReindexRequest) (*domain.ReindexResult, error)

	// ReindexSince reindexes rows modified at or after since (zero means the last 24h)
	ReindexSince(ctx context.Context, since time.Time, projectID string) (*domain.ReindexResult, error)

	// DriftStatus compares relational and index counts. It never repairs.
	DriftStatus(ctx context.Context, projectID string) (*domain.DriftRecord, error)

	// IndexChunks re-derives index entries for specific chunks (dual-write path)
	IndexChunks(ctx context.Context, chunkIDs []string) (*domain.BulkResult, error)

	// RemoveChunks deletes index entries for chunks removed from the relational store
	RemoveChunks(ctx context.Context, chunkIDs []string) error

	// EnsureIndexes creates the vector collection if missing and verifies the
	// keyword index is deployed
	EnsureIndexes(ctx context.Context) error
}

// Scheduler manages periodic incremental reindexing
type Scheduler interface {
	// Start begins the scheduler loop
	Start(ctx context.Context) error

	// Stop stops the scheduler and waits for the loop to exit
	Stop()
}
