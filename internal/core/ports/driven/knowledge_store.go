package driven

import (
	"context"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// KnowledgeStore is the relational system of record for chunk content,
// asset metadata and access grants (PostgreSQL).
type KnowledgeStore interface {
	// FetchContentByIDs returns authoritative content keyed by chunk id in one
	// round trip. Ids without a row are absent from the result.
	FetchContentByIDs(ctx context.Context, ids []string) (map[string]domain.ChunkContent, error)

	// GetChunks returns full chunk rows for ids, skipping missing ones
	GetChunks(ctx context.Context, ids []string) ([]*domain.ChunkRecord, error)

	// ListChunks returns one keyset page ordered by chunk id
	ListChunks(ctx context.Context, page domain.ChunkPage) ([]*domain.ChunkRecord, error)

	// CountChunks returns the number of chunks, optionally for one project
	CountChunks(ctx context.Context, projectID string) (int64, error)

	// HasProjectAccess reports whether the user is a member of the project
	HasProjectAccess(ctx context.Context, userID, projectID string) (bool, error)

	// ListUserProjects returns the ids of projects the user is a member of
	ListUserProjects(ctx context.Context, userID string) ([]string, error)

	// GetProject retrieves a project by ID
	GetProject(ctx context.Context, id string) (*domain.Project, error)

	// ListRecentTopics returns recently updated asset titles, newest first
	ListRecentTopics(ctx context.Context, projectID string, limit int) ([]string, error)

	// Ping checks the database connection
	Ping(ctx context.Context) error
}
