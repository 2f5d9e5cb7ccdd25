package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driving"
)

// Ensure indexSyncService implements IndexSyncService
var _ driving.IndexSyncService = (*indexSyncService)(nil)

// DefaultReindexBatchSize is the number of chunks per bulk index call
const DefaultReindexBatchSize = 100

// IndexSyncConfig holds dependencies for the sync service
type IndexSyncConfig struct {
	Knowledge    driven.KnowledgeStore
	Keyword      driven.KeywordStore
	KeywordIndex string

	// Vector side is only written when DualWrite is set
	Vector           driven.VectorStore
	VectorCollection string
	Embedder         driven.EmbeddingService
	DualWrite        bool

	Lock         driven.DistributedLock // Optional: prevents concurrent reindex of one scope
	LockTTL      time.Duration          // Default: 10m, extended after every batch
	BatchSize    int                    // Default: 100
	BatchTimeout time.Duration          // Per bulk call, default: 60s
	Limiter      *rate.Limiter          // Optional: paces batches
	Logger       *slog.Logger
}

type indexSyncService struct {
	knowledge        driven.KnowledgeStore
	keyword          driven.KeywordStore
	keywordIndex     string
	vector           driven.VectorStore
	vectorCollection string
	embedder         driven.EmbeddingService
	dualWrite        bool
	lock             driven.DistributedLock
	lockTTL          time.Duration
	batchSize        int
	batchTimeout     time.Duration
	limiter          *rate.Limiter
	logger           *slog.Logger
}

// NewIndexSyncService creates the sync/drift service
func NewIndexSyncService(cfg IndexSyncConfig) driving.IndexSyncService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeywordIndex == "" {
		cfg.KeywordIndex = "chunk"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultReindexBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 60 * time.Second
	}

	return &indexSyncService{
		knowledge:        cfg.Knowledge,
		keyword:          cfg.Keyword,
		keywordIndex:     cfg.KeywordIndex,
		vector:           cfg.Vector,
		vectorCollection: cfg.VectorCollection,
		embedder:         cfg.Embedder,
		dualWrite:        cfg.DualWrite,
		lock:             cfg.Lock,
		lockTTL:          cfg.LockTTL,
		batchSize:        cfg.BatchSize,
		batchTimeout:     cfg.BatchTimeout,
		limiter:          cfg.Limiter,
		logger:           logger,
	}
}

// Reindex pages through the relational store and upserts every chunk into
// the keyword index. A failed batch is recorded and skipped.
func (s *indexSyncService) Reindex(ctx context.Context, req domain.ReindexRequest) (*domain.ReindexResult, error) {
	if s.knowledge == nil || s.keyword == nil {
		return nil, fmt.Errorf("%w: sync stores not configured", domain.ErrServiceUnavailable)
	}

	lockName := "reindex:" + req.Scope()
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, lockName, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", lockName, err)
		}
		if !acquired {
			return nil, fmt.Errorf("%w: %s", domain.ErrLockNotAcquired, lockName)
		}
		defer func() {
			// Release must outlive a cancelled job context
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.lock.Release(releaseCtx, lockName); err != nil {
				s.logger.Warn("failed to release reindex lock", "lock", lockName, "error", err)
			}
		}()
	}

	start := time.Now()
	result := &domain.ReindexResult{
		Scope:   req.Scope(),
		Since:   req.Since,
		Status:  domain.SyncStatusCompleted,
		Batches: []domain.BatchResult{},
	}

	s.logger.Info("starting reindex", "scope", result.Scope, "since", req.Since, "batch_size", s.batchSize)

	page := domain.ChunkPage{
		ProjectID: req.ProjectID,
		Since:     req.Since,
		Limit:     s.batchSize,
	}

	for batch := 1; ; batch++ {
		if err := ctx.Err(); err != nil {
			result.Status = domain.SyncStatusCancelled
			break
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				result.Status = domain.SyncStatusCancelled
				break
			}
		}

		rows, err := s.knowledge.ListChunks(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				result.Status = domain.SyncStatusCancelled
				break
			}
			// The cursor cannot advance past a page we never read
			result.Batches = append(result.Batches, domain.BatchResult{
				Batch: batch,
				Error: fmt.Errorf("%w: list chunks: %w", domain.ErrSyncBatchFailure, err).Error(),
			})
			result.Status = domain.SyncStatusPartial
			s.logger.Error("reindex listing failed", "scope", result.Scope, "batch", batch, "error", err)
			break
		}
		if len(rows) == 0 {
			break
		}

		br := s.indexBatch(ctx, batch, rows)
		result.Batches = append(result.Batches, br)
		result.Indexed += br.Indexed
		result.Failed += br.Failed
		if br.Error != "" {
			result.Status = domain.SyncStatusPartial
		}

		page.AfterID = rows[len(rows)-1].ChunkID
		if len(rows) < s.batchSize {
			break
		}

		if s.lock != nil {
			if err := s.lock.Extend(ctx, lockName, s.lockTTL); err != nil {
				s.logger.Warn("failed to extend reindex lock", "lock", lockName, "error", err)
			}
		}
	}

	result.Duration = time.Since(start).Seconds()
	s.logger.Info("reindex finished",
		"scope", result.Scope,
		"status", result.Status,
		"batches", len(result.Batches),
		"failed_batches", result.FailedBatches(),
		"indexed", result.Indexed,
		"failed", result.Failed,
		"duration", time.Since(start))
	return result, nil
}

// indexBatch upserts one page. Each batch is a self-contained upsert so an
// interrupted job leaves the index consistent.
func (s *indexSyncService) indexBatch(ctx context.Context, batch int, rows []*domain.ChunkRecord) domain.BatchResult {
	br := domain.BatchResult{Batch: batch, Size: len(rows)}

	docs := make([]domain.KeywordDocument, len(rows))
	for i, r := range rows {
		docs[i] = domain.KeywordDocument{ID: r.ChunkID, Fields: r.IndexFields()}
	}

	bctx, cancel := context.WithTimeout(ctx, s.batchTimeout)
	defer cancel()

	res, err := s.keyword.BulkIndex(bctx, s.keywordIndex, docs)
	if err != nil {
		br.Failed = len(rows)
		br.Error = fmt.Errorf("%w: %w", domain.ErrSyncBatchFailure, err).Error()
		s.logger.Error("reindex batch failed", "batch", batch, "size", len(rows), "error", err)
		return br
	}

	br.Indexed = res.Indexed
	br.Failed = res.Failed
	if res.Failed > 0 {
		br.Error = fmt.Sprintf("%s: %d of %d documents rejected", domain.ErrSyncBatchFailure, res.Failed, len(rows))
		s.logger.Warn("reindex batch partially failed", "batch", batch, "failed", res.Failed, "size", len(rows))
	} else {
		s.logger.Debug("reindex batch indexed", "batch", batch, "size", len(rows))
	}
	return br
}

// ReindexSince runs an incremental reindex over rows modified at or after since
func (s *indexSyncService) ReindexSince(ctx context.Context, since time.Time, projectID string) (*domain.ReindexResult, error) {
	if since.IsZero() {
		since = time.Now().Add(-domain.DefaultIncrementalWindow)
	}
	since = since.UTC()
	return s.Reindex(ctx, domain.ReindexRequest{ProjectID: projectID, Since: &since})
}

// DriftStatus reports how far the keyword index lags the relational store
func (s *indexSyncService) DriftStatus(ctx context.Context, projectID string) (*domain.DriftRecord, error) {
	if s.knowledge == nil || s.keyword == nil {
		return nil, fmt.Errorf("%w: sync stores not configured", domain.ErrServiceUnavailable)
	}

	relational, err := s.knowledge.CountChunks(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("count relational chunks: %w", err)
	}

	var filter map[string]string
	if projectID != "" {
		filter = map[string]string{domain.PayloadProjectID: projectID}
	}
	indexed, err := s.keyword.Count(ctx, s.keywordIndex, filter)
	if err != nil {
		return nil, fmt.Errorf("count index documents: %w", err)
	}

	record := domain.NewDriftRecord(projectID, relational, indexed)
	if projectID == "" && s.vector != nil && s.vectorCollection != "" {
		info, verr := s.vector.Info(ctx, s.vectorCollection)
		if verr != nil {
			s.logger.Debug("vector collection info unavailable", "collection", s.vectorCollection, "error", verr)
		} else {
			record.VectorCount = &info.Count
		}
	}
	if !record.InSync {
		s.logger.Warn("keyword index drift detected",
			"project_id", projectID,
			"relational_count", relational,
			"index_count", indexed,
			"drift", record.Drift,
			"drift_percentage", record.DriftPercentage)
	}
	return record, nil
}

// EnsureIndexes prepares both stores for reads and writes. The vector
// collection is created regardless of dual-write since retrieval reads it.
func (s *indexSyncService) EnsureIndexes(ctx context.Context) error {
	var errs []error
	if s.keyword != nil {
		if err := s.keyword.EnsureIndex(ctx, s.keywordIndex, nil); err != nil {
			errs = append(errs, fmt.Errorf("ensure keyword index %s: %w", s.keywordIndex, err))
		}
	}
	if s.vector != nil && s.vectorCollection != "" {
		dims := 0
		if s.embedder != nil {
			dims = s.embedder.Dimensions()
		}
		if err := s.vector.EnsureCollection(ctx, s.vectorCollection, dims, domain.DistanceCosine); err != nil {
			errs = append(errs, fmt.Errorf("ensure vector collection %s: %w", s.vectorCollection, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("indexes ready", "keyword_index", s.keywordIndex, "vector_collection", s.vectorCollection)
	return nil
}

// IndexChunks re-derives index entries for specific chunks. The vector side
// is written too when dual-write is enabled.
func (s *indexSyncService) IndexChunks(ctx context.Context, chunkIDs []string) (*domain.BulkResult, error) {
	if len(chunkIDs) == 0 {
		return &domain.BulkResult{}, nil
	}
	if s.knowledge == nil || s.keyword == nil {
		return nil, fmt.Errorf("%w: sync stores not configured", domain.ErrServiceUnavailable)
	}

	rows, err := s.knowledge.GetChunks(ctx, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	if len(rows) == 0 {
		return &domain.BulkResult{}, nil
	}

	docs := make([]domain.KeywordDocument, len(rows))
	for i, r := range rows {
		docs[i] = domain.KeywordDocument{ID: r.ChunkID, Fields: r.IndexFields()}
	}
	res, err := s.keyword.BulkIndex(ctx, s.keywordIndex, docs)
	if err != nil {
		return nil, fmt.Errorf("index chunks: %w", err)
	}

	if s.dualWrite {
		if err := s.writeVectors(ctx, rows); err != nil {
			s.logger.Warn("dual-write to vector store failed", "chunks", len(rows), "error", err)
			return res, err
		}
	}
	return res, nil
}

func (s *indexSyncService) writeVectors(ctx context.Context, rows []*domain.ChunkRecord) error {
	if s.vector == nil || s.embedder == nil {
		return nil
	}
	texts := make([]string, len(rows))
	for i, r := range rows {
		texts[i] = r.Content
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(rows) {
		return fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(rows))
	}

	records := make([]domain.VectorRecord, len(rows))
	for i, r := range rows {
		records[i] = domain.VectorRecord{ID: r.ChunkID, Vector: vectors[i], Payload: r.IndexFields()}
	}
	if _, err := s.vector.Store(ctx, s.vectorCollection, records); err != nil {
		return fmt.Errorf("store vectors: %w", err)
	}
	return nil
}

// RemoveChunks deletes index entries for chunks that left the relational store
func (s *indexSyncService) RemoveChunks(ctx context.Context, chunkIDs []string) error {
	if s.keyword == nil {
		return fmt.Errorf("%w: keyword store not configured", domain.ErrServiceUnavailable)
	}

	var errs []error
	for _, id := range chunkIDs {
		if err := s.keyword.DeleteDocument(ctx, s.keywordIndex, id); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
		}
	}
	if s.dualWrite && s.vector != nil && len(chunkIDs) > 0 {
		if err := s.vector.Delete(ctx, s.vectorCollection, chunkIDs); err != nil {
			errs = append(errs, fmt.Errorf("delete vectors: %w", err))
		}
	}
	return errors.Join(errs...)
}
