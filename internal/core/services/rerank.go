package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
)

// Reranker merges one or more ranked candidate lists into a single ordering.
// Rerankers are stateless per call.
type Reranker interface {
	// Rerank fuses lists and returns at most limit candidates (0 = no limit)
	Rerank(ctx context.Context, query string, lists [][]domain.Candidate, limit int) ([]domain.Candidate, error)

	// Name identifies the reranker in logs and metadata
	Name() string
}

var (
	_ Reranker = (*RRFReranker)(nil)
	_ Reranker = (*CrossEncoderReranker)(nil)
	_ Reranker = (*HybridReranker)(nil)
)

// DefaultRRFK is the standard reciprocal rank fusion constant
const DefaultRRFK = 60

// RRFReranker merges lists with Reciprocal Rank Fusion: each item contributes
// 1/(k+rank) per list, rank 1-based, summed per canonical chunk id. Fusion
// works on rank only, so vector and BM25 score scales never mix.
type RRFReranker struct {
	k int
}

// NewRRFReranker creates an RRF reranker; k <= 0 uses DefaultRRFK
func NewRRFReranker(k int) *RRFReranker {
	if k <= 0 {
		k = DefaultRRFK
	}
	return &RRFReranker{k: k}
}

func (r *RRFReranker) Name() string { return string(domain.RerankerRRF) }

// K returns the fusion constant
func (r *RRFReranker) K() int { return r.k }

type fused struct {
	cand     domain.Candidate
	score    float64
	bestRank int
}

// Rerank fuses lists. Ties are broken by best original rank, then canonical id.
func (r *RRFReranker) Rerank(ctx context.Context, _ string, lists [][]domain.Candidate, limit int) ([]domain.Candidate, error) {
	byID := make(map[string]*fused)
	var order []string

	for _, list := range lists {
		seen := make(map[string]bool, len(list))
		for i, c := range list {
			id := c.CanonicalID()
			// Only the first occurrence in a list counts
			if seen[id] {
				continue
			}
			seen[id] = true

			rank := i + 1
			f, ok := byID[id]
			if !ok {
				f = &fused{cand: c, bestRank: rank}
				byID[id] = f
				order = append(order, id)
			} else {
				f.cand = mergeCandidate(f.cand, c)
				if rank < f.bestRank {
					f.bestRank = rank
				}
			}
			f.score += 1.0 / float64(r.k+rank)
		}
	}

	results := make([]*fused, 0, len(order))
	for _, id := range order {
		results = append(results, byID[id])
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		if results[i].bestRank != results[j].bestRank {
			return results[i].bestRank < results[j].bestRank
		}
		return results[i].cand.CanonicalID() < results[j].cand.CanonicalID()
	})

	out := make([]domain.Candidate, 0, len(results))
	for _, f := range results {
		c := f.cand
		c.Score = f.score
		out = append(out, c)
	}
	return truncate(out, limit), nil
}

// ContentFetcher loads authoritative chunk content for scoring
type ContentFetcher interface {
	FetchContentByIDs(ctx context.Context, ids []string) (map[string]domain.ChunkContent, error)
}

// CrossEncoderRerankerConfig holds configuration for the cross-encoder reranker
type CrossEncoderRerankerConfig struct {
	Model     driven.RelevanceModel // nil falls back to score sort on every call
	Content   ContentFetcher
	Workers   int // Pool size shared by all concurrent queries
	BatchSize int // Documents per model call
	Logger    *slog.Logger
}

// CrossEncoderReranker scores (query, content) pairs with a relevance model.
// Scoring runs on a bounded worker pool so slow model calls cannot starve
// other in-flight queries. Any model failure falls back to plain score sort.
type CrossEncoderReranker struct {
	model     driven.RelevanceModel
	content   ContentFetcher
	pool      *ants.Pool
	batchSize int
	logger    *slog.Logger
}

// NewCrossEncoderReranker creates a cross-encoder reranker
func NewCrossEncoderReranker(cfg CrossEncoderRerankerConfig) (*CrossEncoderReranker, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create cross-encoder pool: %w", err)
	}

	return &CrossEncoderReranker{
		model:     cfg.Model,
		content:   cfg.Content,
		pool:      pool,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}, nil
}

func (r *CrossEncoderReranker) Name() string { return string(domain.RerankerCrossEncoder) }

// Release stops the worker pool
func (r *CrossEncoderReranker) Release() {
	r.pool.Release()
}

// Rerank flattens and dedups lists, then orders them by model relevance
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, lists [][]domain.Candidate, limit int) ([]domain.Candidate, error) {
	cands := dedupCandidates(flatten(lists))
	if len(cands) == 0 {
		return cands, nil
	}

	scored, err := r.score(ctx, query, cands)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn("cross-encoder unavailable, falling back to score sort",
			"query", query,
			"candidates", len(cands),
			"error", fmt.Errorf("%w: %v", domain.ErrRerankerUnavailable, err))
		sortByScore(cands)
		return truncate(cands, limit), nil
	}

	sortByScore(scored)
	return truncate(scored, limit), nil
}

func (r *CrossEncoderReranker) score(ctx context.Context, query string, cands []domain.Candidate) ([]domain.Candidate, error) {
	if r.model == nil {
		return nil, domain.ErrRerankerUnavailable
	}
	if r.content == nil {
		return nil, fmt.Errorf("no content source configured")
	}

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.CanonicalID()
	}
	contents, err := r.content.FetchContentByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch content: %w", err)
	}

	// Candidates without relational content are stale and score zero
	var docs []string
	var idx []int
	for i, id := range ids {
		if c, ok := contents[id]; ok {
			docs = append(docs, c.Content)
			idx = append(idx, i)
		}
	}

	scores := make([]float64, len(docs))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for start := 0; start < len(docs); start += r.batchSize {
		end := min(start+r.batchSize, len(docs))
		wg.Add(1)
		submitErr := r.pool.Submit(func() {
			defer wg.Done()
			batch, err := r.model.Score(ctx, query, docs[start:end])
			if err == nil && len(batch) != end-start {
				err = fmt.Errorf("model returned %d scores for %d documents", len(batch), end-start)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			copy(scores[start:end], batch)
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = submitErr
			}
			mu.Unlock()
		}
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	out := make([]domain.Candidate, len(cands))
	copy(out, cands)
	for i := range out {
		out[i].Score = 0
	}
	for j, i := range idx {
		out[i].Score = scores[j]
	}
	return out, nil
}

// DefaultHybridRerankPool caps the RRF output scored by the cross-encoder
// when the caller passes no limit
const DefaultHybridRerankPool = 50

// HybridReranker runs RRF first, then the cross-encoder on the fused set
type HybridReranker struct {
	rrf   *RRFReranker
	cross *CrossEncoderReranker
	pool  int
}

// NewHybridReranker composes RRF and cross-encoder reranking
func NewHybridReranker(rrf *RRFReranker, cross *CrossEncoderReranker) *HybridReranker {
	return &HybridReranker{rrf: rrf, cross: cross, pool: DefaultHybridRerankPool}
}

func (r *HybridReranker) Name() string { return string(domain.RerankerHybrid) }

// Rerank sends at most limit fused candidates (or the default pool when
// limit is 0) to the cross-encoder
func (r *HybridReranker) Rerank(ctx context.Context, query string, lists [][]domain.Candidate, limit int) ([]domain.Candidate, error) {
	reduce := limit
	if reduce <= 0 {
		reduce = r.pool
	}
	fusedList, err := r.rrf.Rerank(ctx, query, lists, reduce)
	if err != nil {
		return nil, err
	}
	return r.cross.Rerank(ctx, query, [][]domain.Candidate{fusedList}, limit)
}

// Release stops the cross-encoder worker pool
func (r *HybridReranker) Release() {
	r.cross.Release()
}

// NewReranker builds the configured reranker. Cross-encoder kinds without a
// model still work; they degrade to score sort on every call.
func NewReranker(cfg domain.RetrievalConfig, model driven.RelevanceModel, content ContentFetcher, logger *slog.Logger) (Reranker, error) {
	rrf := NewRRFReranker(cfg.RRFK)
	switch cfg.Reranker {
	case domain.RerankerRRF, "":
		return rrf, nil
	case domain.RerankerCrossEncoder, domain.RerankerHybrid:
		if model == nil && logger != nil {
			logger.Warn("reranker configured without relevance model", "reranker", cfg.Reranker)
		}
		cross, err := NewCrossEncoderReranker(CrossEncoderRerankerConfig{
			Model:   model,
			Content: content,
			Workers: cfg.CrossEncoderWorkers,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Reranker == domain.RerankerHybrid {
			return NewHybridReranker(rrf, cross), nil
		}
		return cross, nil
	default:
		return nil, fmt.Errorf("%w: unknown reranker %q", domain.ErrInvalidInput, cfg.Reranker)
	}
}

// mergeCandidate folds src into dst: missing fields are filled, the search
// type becomes hybrid when origins differ, and the higher score is kept.
func mergeCandidate(dst, src domain.Candidate) domain.Candidate {
	if dst.SearchType != src.SearchType && src.SearchType != "" {
		dst.SearchType = domain.SearchTypeHybrid
	}
	if src.Score > dst.Score {
		dst.Score = src.Score
	}
	if dst.AssetID == "" {
		dst.AssetID = src.AssetID
	}
	if dst.KnowledgeType == "" {
		dst.KnowledgeType = src.KnowledgeType
		dst.Source.SourceType = src.Source.SourceType
	}
	if dst.ProjectID == "" {
		dst.ProjectID = src.ProjectID
		dst.Source.ProjectID = src.Source.ProjectID
	}
	if dst.Source.Title == "" {
		dst.Source.Title = src.Source.Title
	}
	if dst.SequenceNumber == nil {
		dst.SequenceNumber = src.SequenceNumber
	}
	if dst.TokenCount == nil {
		dst.TokenCount = src.TokenCount
	}
	return dst
}

// dedupCandidates collapses candidates sharing a canonical id, keeping first-seen order
func dedupCandidates(cands []domain.Candidate) []domain.Candidate {
	index := make(map[string]int, len(cands))
	out := make([]domain.Candidate, 0, len(cands))
	for _, c := range cands {
		id := c.CanonicalID()
		if i, ok := index[id]; ok {
			out[i] = mergeCandidate(out[i], c)
			continue
		}
		index[id] = len(out)
		out = append(out, c)
	}
	return out
}

func flatten(lists [][]domain.Candidate) []domain.Candidate {
	var out []domain.Candidate
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func sortByScore(cands []domain.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].CanonicalID() < cands[j].CanonicalID()
	})
}

func truncate(cands []domain.Candidate, limit int) []domain.Candidate {
	if limit > 0 && len(cands) > limit {
		return cands[:limit]
	}
	return cands
}
