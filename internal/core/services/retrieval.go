package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driving"
)

// Ensure retrievalService implements RetrievalService
var _ driving.RetrievalService = (*retrievalService)(nil)

// RetrievalServiceConfig holds configuration for the retrieval orchestrator
type RetrievalServiceConfig struct {
	Retriever     Retriever
	Knowledge     driven.KnowledgeStore
	Conversations driven.ConversationStore
	QueryLog      driven.QueryLog // Optional audit log
	Config        domain.RetrievalConfig
	Logger        *slog.Logger
}

// retrievalService is the single entry point for retrieval
type retrievalService struct {
	retriever     Retriever
	knowledge     driven.KnowledgeStore
	conversations driven.ConversationStore
	queryLog      driven.QueryLog
	enhancer      *QueryEnhancer
	access        *AccessPolicy
	cfg           domain.RetrievalConfig
	logger        *slog.Logger
}

// NewRetrievalService creates the retrieval orchestrator
func NewRetrievalService(cfg RetrievalServiceConfig) driving.RetrievalService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rc := cfg.Config.WithDefaults()

	var projects ProjectLookup
	var members MembershipChecker
	if cfg.Knowledge != nil {
		projects = cfg.Knowledge
		members = cfg.Knowledge
	}

	return &retrievalService{
		retriever:     cfg.Retriever,
		knowledge:     cfg.Knowledge,
		conversations: cfg.Conversations,
		queryLog:      cfg.QueryLog,
		enhancer:      NewQueryEnhancer(rc, projects, cfg.Logger),
		access:        NewAccessPolicy(members, rc.UnscopedPolicy),
		cfg:           rc,
		logger:        cfg.Logger,
	}
}

// Query runs enhance, retrieve, scope partition, access filter, enrichment
// and asset dedup. Failures never propagate: they produce an empty Context
// with an "error" metadata key.
func (s *retrievalService) Query(ctx context.Context, text string, scope domain.QueryScope) domain.Context {
	start := time.Now()
	scope = s.normalizeScope(scope)
	meta := map[string]any{
		domain.MetaSimilarityThreshold: scope.SimilarityThreshold,
		domain.MetaThresholdLowered:    false,
		domain.MetaDegraded:            []string{},
		domain.MetaStaleDropped:        0,
		domain.MetaAccessDenied:        0,
	}

	result, err := s.run(ctx, text, scope, meta)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		s.logger.Warn("retrieval degraded to empty context",
			"query", text,
			"project_id", scope.ProjectID,
			"error", err)
		result = domain.EmptyContext(text, meta, err)
	}

	s.record(ctx, scope, result, time.Since(start))
	return result
}

func (s *retrievalService) run(ctx context.Context, text string, scope domain.QueryScope, meta map[string]any) (domain.Context, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Context{}, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	if s.retriever == nil || s.knowledge == nil {
		return domain.Context{}, fmt.Errorf("%w: retrieval not configured", domain.ErrServiceUnavailable)
	}

	// 1. Enhance
	enhanced := s.enhancer.Enhance(ctx, text, scope)
	meta[domain.MetaSimilarityThreshold] = enhanced.Threshold
	meta[domain.MetaThresholdLowered] = enhanced.Lowered
	if enhanced.Text != text {
		meta[domain.MetaEnhancedQuery] = enhanced.Text
	}

	// 2. Retrieve with overfetch
	res, err := s.retriever.Retrieve(ctx, RetrieveRequest{
		Query:     enhanced.Text,
		Limit:     scope.MaxChunks * s.cfg.OverfetchMultiplier,
		Threshold: enhanced.Threshold,
	})
	if err != nil {
		return domain.Context{}, fmt.Errorf("retrieve: %w", err)
	}
	meta[domain.MetaSearchMode] = string(res.Mode)
	meta[domain.MetaCollectionsSearched] = res.Searched
	meta[domain.MetaDegraded] = res.DegradedSources()

	cands := res.Candidates
	if res.Mode == domain.SearchTypeVector {
		cands = applyThreshold(cands, enhanced.Threshold)
	}

	// 3. Scope partition
	cands = s.access.Partition(cands, scope)

	// 4. Access filter
	cands, denied, err := s.access.Filter(ctx, cands, scope)
	if err != nil {
		return domain.Context{}, fmt.Errorf("access filter: %w", err)
	}
	meta[domain.MetaAccessDenied] = denied

	// 5. Enrich from the system of record
	chunks, stale, err := s.enrich(ctx, cands)
	if err != nil {
		return domain.Context{}, fmt.Errorf("enrich: %w", err)
	}
	meta[domain.MetaStaleDropped] = stale
	total := len(chunks)

	// 6. Asset dedup, re-sort, truncate
	chunks = CapPerAsset(chunks, s.cfg.AssetCap)
	if len(chunks) > scope.MaxChunks {
		chunks = chunks[:scope.MaxChunks]
	}
	NormalizeScores(chunks, res.Mode)

	// 7. Assemble
	return domain.NewContext(text, chunks, total, meta), nil
}

// enrich replaces index payload content with relational content in one
// round trip. Ids missing from the relational store are stale and dropped.
func (s *retrievalService) enrich(ctx context.Context, cands []domain.Candidate) ([]domain.Chunk, int, error) {
	if len(cands) == 0 {
		return nil, 0, nil
	}
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.CanonicalID()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	contents, err := s.knowledge.FetchContentByIDs(ctx, ids)
	if err != nil {
		return nil, 0, domain.ClassifyStoreError("relational", "fetch_content", err)
	}

	chunks := make([]domain.Chunk, 0, len(cands))
	stale := 0
	for _, c := range cands {
		content, ok := contents[c.CanonicalID()]
		if !ok {
			stale++
			s.logger.Debug("dropping stale index entry",
				"chunk_id", c.CanonicalID(),
				"search_type", c.SearchType,
				"error", domain.ErrEnrichmentMiss)
			continue
		}
		assetID := content.AssetID
		if assetID == "" {
			assetID = c.AssetID
		}
		chunks = append(chunks, domain.Chunk{
			ChunkID:        c.CanonicalID(),
			AssetID:        assetID,
			Content:        content.Content,
			RelevanceScore: c.Score,
			Source:         c.Source,
			SequenceNumber: c.SequenceNumber,
			TokenCount:     c.TokenCount,
			Metadata:       map[string]string{"search_type": string(c.SearchType)},
		})
	}
	return chunks, stale, nil
}

func (s *retrievalService) normalizeScope(scope domain.QueryScope) domain.QueryScope {
	if scope.MaxChunks <= 0 {
		scope.MaxChunks = s.cfg.DefaultMaxChunks
	}
	if scope.MaxChunks > s.cfg.MaxChunksLimit {
		scope.MaxChunks = s.cfg.MaxChunksLimit
	}
	if scope.SimilarityThreshold <= 0 || scope.SimilarityThreshold > 1 {
		scope.SimilarityThreshold = s.cfg.DefaultThreshold
	}
	return scope
}

func (s *retrievalService) record(ctx context.Context, scope domain.QueryScope, result domain.Context, latency time.Duration) {
	mode, _ := result.QueryMetadata[domain.MetaSearchMode].(string)
	degraded, _ := result.QueryMetadata[domain.MetaDegraded].([]string)

	s.logger.Info("retrieval completed",
		"query", result.Query,
		"project_id", scope.ProjectID,
		"search_mode", mode,
		"chunks", len(result.Chunks),
		"degraded", degraded,
		"duration", latency)

	if s.queryLog == nil {
		return
	}
	s.queryLog.Record(ctx, domain.QueryLogEntry{
		Query:      result.Query,
		ProjectID:  scope.ProjectID,
		UserID:     scope.UserID,
		SearchMode: mode,
		Chunks:     len(result.Chunks),
		Degraded:   degraded,
		Error:      result.Err(),
		LatencyMS:  latency.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})
}

// GetSuggestions returns starter questions. Scoped suggestions use the
// project name and recent asset titles; store failures fall back to the
// generic list.
func (s *retrievalService) GetSuggestions(ctx context.Context, scope domain.QueryScope) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !scope.IsScoped() || s.knowledge == nil {
		return genericSuggestions(), nil
	}

	project, err := s.knowledge.GetProject(ctx, scope.ProjectID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("project lookup failed for suggestions", "project_id", scope.ProjectID, "error", err)
		}
		return genericSuggestions(), nil
	}

	suggestions := []string{
		fmt.Sprintf("Tell me about the %s project", project.Name),
		fmt.Sprintf("What are the key requirements for %s?", project.Name),
	}

	topics, err := s.knowledge.ListRecentTopics(ctx, scope.ProjectID, 3)
	if err != nil {
		s.logger.Warn("recent topics lookup failed", "project_id", scope.ProjectID, "error", err)
	}
	for _, t := range topics {
		suggestions = append(suggestions, fmt.Sprintf("Summarize %s", t))
	}
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions, nil
}

const maxSuggestions = 5

func genericSuggestions() []string {
	return []string{
		"What standards apply to this kind of system?",
		"Explain the requirements engineering process",
		"What is a traceability matrix?",
		"Describe common verification methods",
	}
}

// StoreConversation validates and timestamps messages, then appends them
func (s *retrievalService) StoreConversation(ctx context.Context, threadID string, messages []domain.Message, projectID string) error {
	if strings.TrimSpace(threadID) == "" {
		return fmt.Errorf("%w: thread id required", domain.ErrInvalidInput)
	}
	if len(messages) == 0 {
		return fmt.Errorf("%w: no messages", domain.ErrInvalidInput)
	}
	if s.conversations == nil {
		return fmt.Errorf("%w: conversation store not configured", domain.ErrServiceUnavailable)
	}

	now := time.Now().UTC()
	stamped := make([]domain.Message, len(messages))
	for i, m := range messages {
		if err := m.Validate(); err != nil {
			return err
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		stamped[i] = m
	}

	if err := s.conversations.Append(ctx, threadID, projectID, stamped); err != nil {
		return fmt.Errorf("store conversation: %w", err)
	}
	s.logger.Debug("conversation stored", "thread_id", threadID, "messages", len(stamped))
	return nil
}

func applyThreshold(cands []domain.Candidate, threshold float64) []domain.Candidate {
	if threshold <= 0 {
		return cands
	}
	out := cands[:0:0]
	for _, c := range cands {
		if c.Score >= threshold {
			out = append(out, c)
		}
	}
	return out
}
