package domain

import (
	"maps"
	"time"
)

// KnowledgeType partitions the corpus into access scopes
type KnowledgeType string

const (
	KnowledgeTypeProject  KnowledgeType = "project"  // Owned by one project, membership required
	KnowledgeTypeTraining KnowledgeType = "training" // Global, visible to everyone
	KnowledgeTypeSystem   KnowledgeType = "system"   // Shared, optionally pinned to a project
)

// IsValid returns true if this is a known knowledge type
func (k KnowledgeType) IsValid() bool {
	switch k {
	case KnowledgeTypeProject, KnowledgeTypeTraining, KnowledgeTypeSystem:
		return true
	default:
		return false
	}
}

// Source describes the provenance of a chunk. It is a value type and is
// never modified after being attached to a Chunk.
type Source struct {
	SourceID       string            `json:"source_id"`
	SourceType     KnowledgeType     `json:"source_type"`
	Title          string            `json:"title"`
	FileID         string            `json:"file_id,omitempty"`
	CollectionID   string            `json:"collection_id,omitempty"`
	CollectionName string            `json:"collection_name,omitempty"`
	ProjectID      string            `json:"project_id"`
	Domain         string            `json:"domain"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Chunk is the atomic retrieval unit returned to callers.
// Content always comes from the relational store.
type Chunk struct {
	ChunkID        string            `json:"chunk_id"`
	AssetID        string            `json:"asset_id,omitempty"`
	Content        string            `json:"content"`
	RelevanceScore float64           `json:"relevance_score"` // [0,1]
	Source         Source            `json:"source"`
	SequenceNumber *int              `json:"sequence_number,omitempty"`
	TokenCount     *int              `json:"token_count,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Query metadata keys
const (
	MetaSimilarityThreshold = "similarity_threshold"
	MetaThresholdLowered    = "threshold_lowered"
	MetaCollectionsSearched = "collections_searched"
	MetaSearchMode          = "search_mode"
	MetaDegraded            = "degraded"
	MetaStaleDropped        = "stale_dropped"
	MetaAccessDenied        = "access_denied"
	MetaEnhancedQuery       = "enhanced_query"
	MetaError               = "error"
)

// Context is the immutable result of one query
type Context struct {
	Query            string         `json:"query"`
	Chunks           []Chunk        `json:"chunks"`
	TotalChunksFound int            `json:"total_chunks_found"`
	QueryMetadata    map[string]any `json:"query_metadata"`
	RetrievedAt      time.Time      `json:"retrieved_at"`
}

// NewContext builds a Context from copies of chunks and metadata so that later
// changes by the caller are not visible through the returned value.
func NewContext(query string, chunks []Chunk, totalFound int, metadata map[string]any) Context {
	out := make([]Chunk, len(chunks))
	copy(out, chunks)
	meta := make(map[string]any, len(metadata))
	maps.Copy(meta, metadata)
	return Context{
		Query:            query,
		Chunks:           out,
		TotalChunksFound: totalFound,
		QueryMetadata:    meta,
		RetrievedAt:      time.Now().UTC(),
	}
}

// EmptyContext builds the degraded result returned when a query stage fails
func EmptyContext(query string, metadata map[string]any, err error) Context {
	meta := make(map[string]any, len(metadata)+1)
	maps.Copy(meta, metadata)
	if err != nil {
		meta[MetaError] = err.Error()
	}
	return NewContext(query, nil, 0, meta)
}

// Err returns the recorded failure message, or "" if the query succeeded
func (c Context) Err() string {
	if msg, ok := c.QueryMetadata[MetaError].(string); ok {
		return msg
	}
	return ""
}

// IsDegraded reports whether any source failed or the query failed outright.
// It distinguishes "degraded but answered" from "nothing found".
func (c Context) IsDegraded() bool {
	if c.Err() != "" {
		return true
	}
	degraded, ok := c.QueryMetadata[MetaDegraded].([]string)
	return ok && len(degraded) > 0
}

// Project is the relational project row used for query enhancement and suggestions
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ChunkContent is the authoritative content and asset binding for a chunk id
type ChunkContent struct {
	ChunkID string
	AssetID string
	Content string
}

// QueryLogEntry is one line of the query audit log
type QueryLogEntry struct {
	Query         string    `json:"query"`
	ProjectID     string    `json:"project_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	SearchMode    string    `json:"search_mode,omitempty"`
	Chunks        int       `json:"chunks"`
	Degraded      []string  `json:"degraded,omitempty"`
	Error         string    `json:"error,omitempty"`
	LatencyMS     int64     `json:"latency_ms"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
