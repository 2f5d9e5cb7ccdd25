package domain

import (
	"math"
	"time"
)

// SyncStatus represents the outcome of a reindex job
type SyncStatus string

const (
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusPartial   SyncStatus = "partial"   // At least one batch failed
	SyncStatusCancelled SyncStatus = "cancelled" // Interrupted between batches
)

// DefaultIncrementalWindow is the look-back used when no since is supplied
const DefaultIncrementalWindow = 24 * time.Hour

// DriftRecord is a sync-health snapshot. It is diagnostic only and never persisted.
type DriftRecord struct {
	ProjectID       string    `json:"project_id,omitempty"`
	RelationalCount int64     `json:"relational_count"`
	IndexCount      int64     `json:"index_count"`
	Drift           int64     `json:"drift"`
	DriftPercentage float64   `json:"drift_percentage"`
	InSync          bool      `json:"in_sync"`
	VectorCount     *int64    `json:"vector_count,omitempty"` // Whole collection, unscoped checks only
	Timestamp       time.Time `json:"timestamp"`
}

// NewDriftRecord computes drift between the relational and index counts
func NewDriftRecord(projectID string, relational, index int64) *DriftRecord {
	drift := relational - index
	pct := 0.0
	if relational > 0 {
		pct = math.Round(float64(drift)/float64(relational)*10000) / 100
	}
	return &DriftRecord{
		ProjectID:       projectID,
		RelationalCount: relational,
		IndexCount:      index,
		Drift:           drift,
		DriftPercentage: pct,
		InSync:          drift == 0,
		Timestamp:       time.Now().UTC(),
	}
}

// ChunkRecord is a chunk row from the relational system of record
type ChunkRecord struct {
	ChunkID        string
	AssetID        string
	Content        string
	KnowledgeType  KnowledgeType
	ProjectID      string
	SourceID       string
	Title          string
	FileID         string
	CollectionID   string
	CollectionName string
	Domain         string
	SequenceNumber *int
	TokenCount     *int
	UpdatedAt      time.Time
}

// IndexFields builds the index document for this chunk. It carries the
// canonical id twice because the keyword store's native id differs from it.
func (r ChunkRecord) IndexFields() map[string]any {
	fields := map[string]any{
		PayloadChunkID:       r.ChunkID,
		PayloadOriginalID:    r.ChunkID,
		PayloadAssetID:       r.AssetID,
		PayloadKnowledgeType: string(r.KnowledgeType),
		PayloadContent:       r.Content,
		PayloadTitle:         r.Title,
	}
	optional := map[string]string{
		PayloadProjectID:      r.ProjectID,
		PayloadSourceID:       r.SourceID,
		PayloadFileID:         r.FileID,
		PayloadCollectionID:   r.CollectionID,
		PayloadCollectionName: r.CollectionName,
		PayloadDomain:         r.Domain,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	if r.SequenceNumber != nil {
		fields[PayloadSequenceNumber] = *r.SequenceNumber
	}
	if r.TokenCount != nil {
		fields[PayloadTokenCount] = *r.TokenCount
	}
	return fields
}

// ChunkPage is a keyset-paginated listing request
type ChunkPage struct {
	ProjectID string     // Empty lists every project
	Since     *time.Time // Only chunks whose row or owning asset changed at or after Since
	AfterID   string     // Keyset cursor, exclusive
	Limit     int
}

// ReindexRequest selects what to rebuild
type ReindexRequest struct {
	ProjectID string     `json:"project_id,omitempty"`
	Since     *time.Time `json:"since,omitempty"` // Nil means full rebuild
}

// Scope returns the lock/log scope name for the request
func (r ReindexRequest) Scope() string {
	if r.ProjectID == "" {
		return "all"
	}
	return "project:" + r.ProjectID
}

// BatchResult is the outcome of one reindex batch
type BatchResult struct {
	Batch   int    `json:"batch"`
	Size    int    `json:"size"`
	Indexed int    `json:"indexed"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// ReindexResult aggregates batch counters for a reindex job. Failures are
// reported here and never returned as an error.
type ReindexResult struct {
	Scope    string        `json:"scope"`
	Since    *time.Time    `json:"since,omitempty"`
	Status   SyncStatus    `json:"status"`
	Batches  []BatchResult `json:"batches"`
	Indexed  int           `json:"indexed"`
	Failed   int           `json:"failed"`
	Duration float64       `json:"duration_seconds"`
}

// FailedBatches returns the number of batches that recorded an error
func (r *ReindexResult) FailedBatches() int {
	n := 0
	for _, b := range r.Batches {
		if b.Error != "" {
			n++
		}
	}
	return n
}
