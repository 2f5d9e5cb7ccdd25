package domain

import (
	"fmt"
	"time"
)

// AIProvider identifies the embedding provider
type AIProvider string

const (
	AIProviderOpenAI AIProvider = "openai"
	AIProviderGemini AIProvider = "gemini"
	AIProviderOllama AIProvider = "ollama" // OpenAI-compatible endpoint
)

// RequiresAPIKey returns true if this provider requires an API key
func (p AIProvider) RequiresAPIKey() bool {
	switch p {
	case AIProviderOllama:
		return false // Self-hosted, no API key needed
	default:
		return true
	}
}

// IsValid returns true if this is a known provider
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOpenAI, AIProviderGemini, AIProviderOllama:
		return true
	default:
		return false
	}
}

// EmbeddingSettings configures the embedding service
type EmbeddingSettings struct {
	Provider   AIProvider `json:"provider"`
	Model      string     `json:"model"`
	APIKey     string     `json:"-"` // Never serialize to JSON
	BaseURL    string     `json:"base_url,omitempty"`
	Dimensions int        `json:"dimensions"`
}

// IsConfigured returns true if embedding settings are properly configured
func (e *EmbeddingSettings) IsConfigured() bool {
	if e.Provider == "" {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// RerankerKind selects how fused candidates are ordered
type RerankerKind string

const (
	RerankerRRF          RerankerKind = "rrf"
	RerankerCrossEncoder RerankerKind = "cross_encoder"
	RerankerHybrid       RerankerKind = "hybrid" // RRF, then cross-encoder on the reduced set
)

// UnscopedPolicy decides which project chunks an unscoped query may see
type UnscopedPolicy string

const (
	// UnscopedNone hides every project chunk from unscoped queries
	UnscopedNone UnscopedPolicy = "none"
	// UnscopedMember keeps project chunks from every project, then relies on
	// the membership check so callers only see projects they belong to
	UnscopedMember UnscopedPolicy = "member"
)

// RetrievalConfig holds the retrieval feature toggles and tuning constants.
// It is built once at startup and injected into constructors.
type RetrievalConfig struct {
	HybridEnabled bool         `json:"hybrid_enabled"`
	Reranker      RerankerKind `json:"reranker"`
	DualWrite     bool         `json:"dual_write"`

	VectorCollection string `json:"vector_collection"`
	KeywordIndex     string `json:"keyword_index"`

	DefaultThreshold    float64  `json:"default_threshold"`
	VagueQueryFloor     float64  `json:"vague_query_floor"`
	VaguePrefixes       []string `json:"vague_prefixes"`
	AppendScopeContext  bool     `json:"append_scope_context"`
	AssetCap            int      `json:"asset_cap"` // Values <= 0 fall back to 3
	OverfetchMultiplier int      `json:"overfetch_multiplier"`
	RRFK                int      `json:"rrf_k"`
	DefaultMaxChunks    int      `json:"default_max_chunks"`
	MaxChunksLimit      int      `json:"max_chunks_limit"`

	StoreTimeout   time.Duration  `json:"store_timeout"`
	UnscopedPolicy UnscopedPolicy `json:"unscoped_policy"`

	CrossEncoderWorkers int `json:"cross_encoder_workers"`
}

// DefaultVaguePrefixes are the vague-intent openings that lower the threshold
var DefaultVaguePrefixes = []string{
	"tell me about",
	"what is",
	"what are",
	"describe",
	"explain",
	"summarize",
	"summarise",
	"give me an overview",
	"overview of",
}

// DefaultRetrievalConfig returns sensible defaults
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		HybridEnabled:       true,
		Reranker:            RerankerRRF,
		DualWrite:           false,
		VectorCollection:    "KnowledgeChunk",
		KeywordIndex:        "chunk",
		DefaultThreshold:    0.3,
		VagueQueryFloor:     0.1,
		VaguePrefixes:       DefaultVaguePrefixes,
		AppendScopeContext:  true,
		AssetCap:            3,
		OverfetchMultiplier: 2,
		RRFK:                60,
		DefaultMaxChunks:    10,
		MaxChunksLimit:      100,
		StoreTimeout:        5 * time.Second,
		UnscopedPolicy:      UnscopedNone,
		CrossEncoderWorkers: 4,
	}
}

// WithDefaults fills zero values from DefaultRetrievalConfig. Boolean toggles
// are left as given.
func (c RetrievalConfig) WithDefaults() RetrievalConfig {
	d := DefaultRetrievalConfig()
	if c.Reranker == "" {
		c.Reranker = d.Reranker
	}
	if c.VectorCollection == "" {
		c.VectorCollection = d.VectorCollection
	}
	if c.KeywordIndex == "" {
		c.KeywordIndex = d.KeywordIndex
	}
	if c.DefaultThreshold == 0 {
		c.DefaultThreshold = d.DefaultThreshold
	}
	if c.VagueQueryFloor == 0 {
		c.VagueQueryFloor = d.VagueQueryFloor
	}
	if len(c.VaguePrefixes) == 0 {
		c.VaguePrefixes = d.VaguePrefixes
	}
	if c.AssetCap <= 0 {
		c.AssetCap = d.AssetCap
	}
	if c.OverfetchMultiplier <= 0 {
		c.OverfetchMultiplier = d.OverfetchMultiplier
	}
	if c.RRFK <= 0 {
		c.RRFK = d.RRFK
	}
	if c.DefaultMaxChunks <= 0 {
		c.DefaultMaxChunks = d.DefaultMaxChunks
	}
	if c.MaxChunksLimit <= 0 {
		c.MaxChunksLimit = d.MaxChunksLimit
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.UnscopedPolicy == "" {
		c.UnscopedPolicy = d.UnscopedPolicy
	}
	if c.CrossEncoderWorkers <= 0 {
		c.CrossEncoderWorkers = d.CrossEncoderWorkers
	}
	return c
}

// Validate checks the enumerated settings and numeric ranges
func (c RetrievalConfig) Validate() error {
	switch c.Reranker {
	case RerankerRRF, RerankerCrossEncoder, RerankerHybrid:
	default:
		return fmt.Errorf("%w: unknown reranker %q", ErrInvalidInput, c.Reranker)
	}
	switch c.UnscopedPolicy {
	case UnscopedNone, UnscopedMember:
	default:
		return fmt.Errorf("%w: unknown unscoped policy %q", ErrInvalidInput, c.UnscopedPolicy)
	}
	if c.DefaultThreshold < 0 || c.DefaultThreshold > 1 {
		return fmt.Errorf("%w: default threshold %v outside [0,1]", ErrInvalidInput, c.DefaultThreshold)
	}
	if c.VagueQueryFloor < 0 || c.VagueQueryFloor > 1 {
		return fmt.Errorf("%w: vague query floor %v outside [0,1]", ErrInvalidInput, c.VagueQueryFloor)
	}
	return nil
}
