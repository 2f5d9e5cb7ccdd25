package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

// Source names used in logs, degradation records and query metadata
const (
	SourceVector  = "vector"
	SourceKeyword = "keyword"
)

// RetrieveRequest is one retrieval call
type RetrieveRequest struct {
	Query     string
	Limit     int
	Threshold float64           // Similarity floor for the vector store, 0 disables
	Filter    map[string]string // Equality filter on index payload fields
}

// SourceError records a source that failed during retrieval
type SourceError struct {
	Source string
	Err    error
}

// RetrieveResult carries the candidates and how they were produced
type RetrieveResult struct {
	Candidates []domain.Candidate
	Mode       domain.SearchType // vector or hybrid
	Searched   []string          // Collections/indexes queried
	Degraded   []SourceError     // Sources that failed; their contribution is empty
	FellBack   bool              // Merge pipeline failed and vector-only was used
}

// DegradedSources returns the names of failed sources
func (r *RetrieveResult) DegradedSources() []string {
	out := make([]string, 0, len(r.Degraded))
	for _, d := range r.Degraded {
		out = append(out, d.Source)
	}
	return out
}

// Retriever finds candidate chunks for a query
type Retriever interface {
	Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error)
}

var (
	_ Retriever = (*VectorRetriever)(nil)
	_ Retriever = (*HybridRetriever)(nil)
)

// VectorRetrieverConfig holds configuration for the vector retriever
type VectorRetrieverConfig struct {
	Store      driven.VectorStore
	Embedder   driven.EmbeddingService // nil delegates embedding to Store.SearchByText
	Collection string
	Timeout    time.Duration // Per-call store timeout
	Logger     *slog.Logger
}

// VectorRetriever wraps the vector store. Ordering is the store's own.
type VectorRetriever struct {
	store      driven.VectorStore
	embedder   driven.EmbeddingService
	collection string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewVectorRetriever creates a vector-only retriever
func NewVectorRetriever(cfg VectorRetrieverConfig) *VectorRetriever {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &VectorRetriever{
		store:      cfg.Store,
		embedder:   cfg.Embedder,
		collection: cfg.Collection,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}
}

// Retrieve embeds the query, searches and tags every result as vector
func (r *VectorRetriever) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	cands, err := r.search(ctx, req)
	if err != nil {
		return nil, err
	}
	return &RetrieveResult{
		Candidates: cands,
		Mode:       domain.SearchTypeVector,
		Searched:   []string{r.collection},
	}, nil
}

func (r *VectorRetriever) search(ctx context.Context, req RetrieveRequest) ([]domain.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q := domain.VectorQuery{
		Collection:     r.collection,
		Limit:          req.Limit,
		ScoreThreshold: req.Threshold,
		Filter:         req.Filter,
	}

	var hits []domain.SearchHit
	var err error
	if r.embedder != nil {
		q.Vector, err = r.embedder.EmbedQuery(ctx, req.Query)
		if err != nil {
			return nil, domain.ClassifyStoreError(SourceVector, "embed", err)
		}
		hits, err = r.store.Search(ctx, q)
	} else {
		hits, err = r.store.SearchByText(ctx, req.Query, q)
	}
	if err != nil {
		return nil, domain.ClassifyStoreError(SourceVector, "search", err)
	}

	cands := make([]domain.Candidate, 0, len(hits))
	for _, h := range hits {
		cands = append(cands, domain.CandidateFromHit(h, domain.SearchTypeVector))
	}
	return cands, nil
}

// HybridRetrieverConfig holds configuration for the hybrid retriever
type HybridRetrieverConfig struct {
	Vector       *VectorRetriever
	Keyword      driven.KeywordStore // nil means keyword search is not configured
	KeywordIndex string
	Reranker     Reranker
	Overfetch    int           // Multiplier applied to the requested limit
	Timeout      time.Duration // Per-call store timeout
	Logger       *slog.Logger
}

// HybridRetriever fans one query out to the vector and keyword stores
// concurrently and fuses the results.
type HybridRetriever struct {
	vector       *VectorRetriever
	keyword      driven.KeywordStore
	keywordIndex string
	reranker     Reranker
	overfetch    int
	timeout      time.Duration
	logger       *slog.Logger
}

// NewHybridRetriever creates a hybrid retriever
func NewHybridRetriever(cfg HybridRetrieverConfig) *HybridRetriever {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Overfetch <= 0 {
		cfg.Overfetch = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Reranker == nil {
		cfg.Reranker = NewRRFReranker(DefaultRRFK)
	}
	return &HybridRetriever{
		vector:       cfg.Vector,
		keyword:      cfg.Keyword,
		keywordIndex: cfg.KeywordIndex,
		reranker:     cfg.Reranker,
		overfetch:    cfg.Overfetch,
		timeout:      cfg.Timeout,
		logger:       cfg.Logger,
	}
}

// errAllSourcesFailed marks failures that a vector-only retry cannot fix
var errAllSourcesFailed = errors.New("all retrieval sources failed")

// Retrieve runs the merge pipeline. If the pipeline itself fails it retries
// vector-only at the original limit.
func (h *HybridRetriever) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	res, err := h.merge(ctx, req)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, errAllSourcesFailed) || ctx.Err() != nil {
		return nil, err
	}

	h.logger.Warn("hybrid merge failed, retrying vector-only",
		"query", req.Query,
		"error", err)
	fallback, verr := h.vector.Retrieve(ctx, req)
	if verr != nil {
		return nil, verr
	}
	fallback.FellBack = true
	return fallback, nil
}

func (h *HybridRetriever) merge(ctx context.Context, req RetrieveRequest) (res *RetrieveResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("merge pipeline panic: %v", p)
		}
	}()

	fetch := req.Limit * h.overfetch
	fetchReq := req
	fetchReq.Limit = fetch

	var (
		vectorCands, keywordCands []domain.Candidate
		vectorErr, keywordErr     error
		wg                        sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverSource(SourceVector, &vectorErr)
		vectorCands, vectorErr = h.vector.search(ctx, fetchReq)
	}()

	if h.keyword != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer recoverSource(SourceKeyword, &keywordErr)
			keywordCands, keywordErr = h.keywordSearch(ctx, fetchReq)
		}()
	}

	wg.Wait()

	res = &RetrieveResult{
		Mode:     domain.SearchTypeHybrid,
		Searched: []string{h.vector.collection},
	}
	if h.keyword != nil {
		res.Searched = append(res.Searched, h.keywordIndex)
	} else {
		res.Mode = domain.SearchTypeVector
	}

	if vectorErr != nil {
		h.logger.Warn("vector search failed, degrading to keyword only",
			"query", req.Query, "source", SourceVector, "error", vectorErr)
		res.Degraded = append(res.Degraded, SourceError{Source: SourceVector, Err: vectorErr})
	}
	if keywordErr != nil {
		h.logger.Warn("keyword search failed, degrading to vector only",
			"query", req.Query, "source", SourceKeyword, "error", keywordErr)
		res.Degraded = append(res.Degraded, SourceError{Source: SourceKeyword, Err: keywordErr})
	}
	if vectorErr != nil && (h.keyword == nil || keywordErr != nil) {
		return nil, fmt.Errorf("%w: %w", errAllSourcesFailed, errors.Join(vectorErr, keywordErr))
	}

	// Group each list by canonical id before fusion
	vectorCands = dedupCandidates(vectorCands)
	keywordCands = dedupCandidates(keywordCands)

	var merged []domain.Candidate
	if h.keyword != nil {
		merged, err = h.reranker.Rerank(ctx, req.Query, [][]domain.Candidate{vectorCands, keywordCands}, fetch)
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
	} else {
		merged = vectorCands
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	}

	// Second pass: rerankers may emit collisions, keep the higher fused score.
	// The stable sort keeps the reranker's tie order.
	merged = dedupCandidates(merged)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	res.Candidates = truncate(merged, req.Limit)

	h.logger.Debug("hybrid retrieval merged",
		"query", req.Query,
		"vector", len(vectorCands),
		"keyword", len(keywordCands),
		"merged", len(res.Candidates),
		"reranker", h.reranker.Name())
	return res, nil
}

// recoverSource turns a panic in a fan-out goroutine into that source's error
func recoverSource(source string, err *error) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("%s search panic: %v", source, p)
	}
}

func (h *HybridRetriever) keywordSearch(ctx context.Context, req RetrieveRequest) ([]domain.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	hits, err := h.keyword.Search(ctx, domain.KeywordQuery{
		Index:  h.keywordIndex,
		Text:   req.Query,
		Limit:  req.Limit,
		Filter: req.Filter,
	})
	if err != nil {
		return nil, domain.ClassifyStoreError(SourceKeyword, "search", err)
	}

	cands := make([]domain.Candidate, 0, len(hits))
	for _, hit := range hits {
		cands = append(cands, domain.CandidateFromHit(hit, domain.SearchTypeKeyword))
	}
	return cands, nil
}

// NewRetriever builds the retriever selected by cfg. Hybrid retrieval is used
// only when enabled and a keyword store is configured.
func NewRetriever(cfg domain.RetrievalConfig, vector driven.VectorStore, embedder driven.EmbeddingService, keyword driven.KeywordStore, reranker Reranker, logger *slog.Logger) Retriever {
	cfg = cfg.WithDefaults()
	vr := NewVectorRetriever(VectorRetrieverConfig{
		Store:      vector,
		Embedder:   embedder,
		Collection: cfg.VectorCollection,
		Timeout:    cfg.StoreTimeout,
		Logger:     logger,
	})
	if !cfg.HybridEnabled || keyword == nil {
		return vr
	}
	return NewHybridRetriever(HybridRetrieverConfig{
		Vector:       vr,
		Keyword:      keyword,
		KeywordIndex: cfg.KeywordIndex,
		Reranker:     reranker,
		Overfetch:    cfg.OverfetchMultiplier,
		Timeout:      cfg.StoreTimeout,
		Logger:       logger,
	})
}
