package domain

import (
	"fmt"
	"math"
	"strconv"
)

// SearchType tags which index produced a candidate
type SearchType string

const (
	SearchTypeVector  SearchType = "vector"
	SearchTypeKeyword SearchType = "keyword"
	SearchTypeHybrid  SearchType = "hybrid" // Matched by both indexes
)

// Payload keys shared by the vector and keyword index documents
const (
	PayloadChunkID        = "chunk_id"
	PayloadOriginalID     = "original_id"
	PayloadAssetID        = "asset_id"
	PayloadKnowledgeType  = "knowledge_type"
	PayloadProjectID      = "project_id"
	PayloadSourceID       = "source_id"
	PayloadTitle          = "title"
	PayloadFileID         = "file_id"
	PayloadCollectionID   = "collection_id"
	PayloadCollectionName = "collection_name"
	PayloadDomain         = "domain"
	PayloadSequenceNumber = "sequence_number"
	PayloadTokenCount     = "token_count"
	PayloadContent        = "content"
)

// SearchHit is a raw result from an index store. Payload completeness is not
// guaranteed and hits never leave the adapter layer.
type SearchHit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Candidate is a typed search result passed between retrievers, rerankers
// and the orchestrator.
type Candidate struct {
	ChunkID        string // Canonical id taken from the payload, may be empty
	StoreID        string // Store-local id
	AssetID        string
	KnowledgeType  KnowledgeType
	ProjectID      string
	Score          float64
	SearchType     SearchType
	Source         Source
	SequenceNumber *int
	TokenCount     *int
}

// CanonicalID returns the identity key shared across stores
func (c Candidate) CanonicalID() string {
	if c.ChunkID != "" {
		return c.ChunkID
	}
	return c.StoreID
}

// CandidateFromHit converts a raw hit into a typed candidate. The payload's
// original_id wins over chunk_id, and both win over the store-local id.
func CandidateFromHit(hit SearchHit, searchType SearchType) Candidate {
	p := hit.Payload
	chunkID := payloadString(p, PayloadOriginalID)
	if chunkID == "" {
		chunkID = payloadString(p, PayloadChunkID)
	}
	kt := KnowledgeType(payloadString(p, PayloadKnowledgeType))
	projectID := payloadString(p, PayloadProjectID)

	var meta map[string]string
	for k, v := range p {
		if knownPayloadKey(k) || v == nil {
			continue
		}
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[k] = fmt.Sprint(v)
	}

	return Candidate{
		ChunkID:       chunkID,
		StoreID:       hit.ID,
		AssetID:       payloadString(p, PayloadAssetID),
		KnowledgeType: kt,
		ProjectID:     projectID,
		Score:         hit.Score,
		SearchType:    searchType,
		Source: Source{
			SourceID:       payloadString(p, PayloadSourceID),
			SourceType:     kt,
			Title:          payloadString(p, PayloadTitle),
			FileID:         payloadString(p, PayloadFileID),
			CollectionID:   payloadString(p, PayloadCollectionID),
			CollectionName: payloadString(p, PayloadCollectionName),
			ProjectID:      projectID,
			Domain:         payloadString(p, PayloadDomain),
			Metadata:       meta,
		},
		SequenceNumber: payloadInt(p, PayloadSequenceNumber),
		TokenCount:     payloadInt(p, PayloadTokenCount),
	}
}

func knownPayloadKey(k string) bool {
	switch k {
	case PayloadChunkID, PayloadOriginalID, PayloadAssetID, PayloadKnowledgeType,
		PayloadProjectID, PayloadSourceID, PayloadTitle, PayloadFileID,
		PayloadCollectionID, PayloadCollectionName, PayloadDomain,
		PayloadSequenceNumber, PayloadTokenCount, PayloadContent:
		return true
	}
	return false
}

func payloadString(p map[string]any, key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// payloadInt accepts the numeric shapes produced by JSON decoding and by the
// typed clients.
func payloadInt(p map[string]any, key string) *int {
	var n int
	switch v := p[key].(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if math.IsNaN(v) {
			return nil
		}
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	return &n
}

// VectorQuery is a nearest-neighbour search request
type VectorQuery struct {
	Collection     string
	Vector         []float32
	Limit          int
	ScoreThreshold float64           // Minimum similarity in [0,1], 0 disables
	Filter         map[string]string // Equality filter on payload fields
}

// KeywordQuery is a full-text (BM25) search request
type KeywordQuery struct {
	Index  string
	Text   string
	Limit  int
	Filter map[string]string
	Fields []string // Fields to match, defaults to content and title
}

// VectorRecord is one embedding written to the vector store
type VectorRecord struct {
	ID      string // Canonical chunk id
	Vector  []float32
	Payload map[string]any
}

// KeywordDocument is one document written to the keyword store
type KeywordDocument struct {
	ID     string // Canonical chunk id
	Fields map[string]any
}

// BulkResult reports the outcome of a bulk index call
type BulkResult struct {
	Indexed int
	Failed  int
	Errors  map[string]string // Canonical id -> error message
}

// DistanceMetric selects the vector similarity function
type DistanceMetric string

const (
	DistanceCosine DistanceMetric = "cosine"
	DistanceDot    DistanceMetric = "dot"
	DistanceL2     DistanceMetric = "l2-squared"
)

// CollectionInfo describes a vector collection or keyword index
type CollectionInfo struct {
	Name       string         `json:"name"`
	Count      int64          `json:"count"`
	Dimensions int            `json:"dimensions,omitempty"`
	Metric     DistanceMetric `json:"metric,omitempty"`
}

// QueryScope is the caller scope for one query
type QueryScope struct {
	ProjectID           string  `json:"project_id,omitempty"`
	UserID              string  `json:"user_id,omitempty"`
	MaxChunks           int     `json:"max_chunks"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

// IsScoped returns true if the query is restricted to one project
func (s QueryScope) IsScoped() bool {
	return s.ProjectID != ""
}
