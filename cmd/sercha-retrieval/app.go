package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-retrieval/internal/adapters/driven/ai"
	"github.com/custodia-labs/sercha-retrieval/internal/adapters/driven/postgres"
	"github.com/custodia-labs/sercha-retrieval/internal/adapters/driven/querylog"
	redisadapter "github.com/custodia-labs/sercha-retrieval/internal/adapters/driven/redis"
	"github.com/custodia-labs/sercha-retrieval/internal/adapters/driven/reranker"
	"github.com/custodia-labs/sercha-retrieval/internal/adapters/driven/vespa"
	"github.com/custodia-labs/sercha-retrieval/internal/adapters/driven/weaviate"
	"github.com/custodia-labs/sercha-retrieval/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-retrieval/internal/config"
	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-retrieval/internal/core/services"
)

// app holds the wired components shared by every command
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *postgres.DB
	redisClient *redis.Client
	knowledge   *postgres.KnowledgeStore
	keyword     *vespa.KeywordStore
	vector      *weaviate.VectorStore
	embedder    driven.EmbeddingService
	lock        driven.DistributedLock

	Retrieval driving.RetrievalService
	Sync      driving.IndexSyncService
	Scheduler *services.Scheduler

	closers []func() error
}

// pingFunc adapts a health check method to the http.Pinger interface
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// newApp connects to every backing store and builds the core services.
// Failures after a connection is opened close what was already opened.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// ===== PostgreSQL =====
	dbCfg := postgres.DefaultConfig(cfg.DatabaseURL)
	dbCfg.MaxOpenConns = cfg.DBMaxOpenConns
	dbCfg.MaxIdleConns = cfg.DBMaxIdleConns
	dbCfg.ConnMaxLifetime = cfg.DBConnLifetime
	dbCfg.ConnMaxIdleTime = cfg.DBConnIdleTime
	a.db, err = postgres.Connect(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)
	if cfg.RunMigrations {
		if err = a.db.Migrate(); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	a.knowledge = postgres.NewKnowledgeStore(a.db)
	logger.Info("postgres connected")

	// ===== Redis (optional) =====
	if cfg.RedisURL != "" {
		opts, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			return nil, fmt.Errorf("parse redis url: %w", perr)
		}
		a.redisClient = redis.NewClient(opts)
		a.closers = append(a.closers, a.redisClient.Close)
		if err = a.redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("redis connected")
	}

	// ===== Distributed lock and conversations (Redis if available, otherwise PostgreSQL) =====
	var conversations driven.ConversationStore
	if a.redisClient != nil {
		a.lock = redisadapter.NewLock(a.redisClient)
		conversations = redisadapter.NewConversationStore(a.redisClient, cfg.ConversationTTL)
		logger.Info("using redis lock and conversation store")
	} else {
		a.lock = postgres.NewAdvisoryLock(a.db)
		conversations = postgres.NewConversationStore(a.db)
		logger.Info("using postgres lock and conversation store")
	}

	// ===== Embeddings =====
	a.embedder, err = ai.NewFactory(ctx).CreateEmbeddingService(cfg.Embedding())
	if err != nil {
		return nil, fmt.Errorf("create embedding service: %w", err)
	}
	if a.embedder != nil {
		a.closers = append(a.closers, a.embedder.Close)
	} else {
		logger.Warn("embedding provider not configured, vector search will be unavailable")
	}

	// ===== Indexes =====
	wc, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
		APIKey: cfg.WeaviateAPIKey,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	a.vector = weaviate.NewVectorStore(wc, a.embedder, logger)

	vcfg := vespa.DefaultConfig(cfg.VespaURL)
	vcfg.Namespace = cfg.VespaNamespace
	vcfg.BulkWorkers = cfg.VespaBulkWorker
	vcfg.Logger = logger
	a.keyword, err = vespa.NewKeywordStore(vcfg)
	if err != nil {
		return nil, fmt.Errorf("create vespa keyword store: %w", err)
	}
	a.closers = append(a.closers, func() error { a.keyword.Close(); return nil })
	if herr := a.keyword.HealthCheck(ctx); herr != nil {
		logger.Warn("vespa health check failed, keyword search may not work", "error", herr)
	}

	// ===== Retrieval =====
	rc := cfg.Retrieval()
	var model driven.RelevanceModel
	if rc.Reranker != domain.RerankerRRF {
		model, err = reranker.NewClient(reranker.Config{
			Provider: reranker.Provider(cfg.RerankProvider),
			APIKey:   cfg.RerankAPIKey,
			Model:    cfg.RerankModel,
			BaseURL:  cfg.RerankBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create rerank client: %w", err)
		}
	}
	rr, err := services.NewReranker(rc, model, a.knowledge, logger)
	if err != nil {
		return nil, err
	}
	if rel, ok := rr.(interface{ Release() }); ok {
		a.closers = append(a.closers, func() error { rel.Release(); return nil })
	}

	var qlog driven.QueryLog
	if cfg.QueryLogPath != "" {
		ql, qerr := querylog.NewFile(cfg.QueryLogPath)
		if qerr != nil {
			return nil, fmt.Errorf("open query log: %w", qerr)
		}
		a.closers = append(a.closers, ql.Close)
		qlog = ql
	}

	a.Retrieval = services.NewRetrievalService(services.RetrievalServiceConfig{
		Retriever:     services.NewRetriever(rc, a.vector, a.embedder, a.keyword, rr, logger),
		Knowledge:     a.knowledge,
		Conversations: conversations,
		QueryLog:      qlog,
		Config:        rc,
		Logger:        logger,
	})

	// ===== Sync =====
	var limiter *rate.Limiter
	if cfg.ReindexRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ReindexRateLimit), 1)
	}
	a.Sync = services.NewIndexSyncService(services.IndexSyncConfig{
		Knowledge:        a.knowledge,
		Keyword:          a.keyword,
		KeywordIndex:     rc.KeywordIndex,
		Vector:           a.vector,
		VectorCollection: rc.VectorCollection,
		Embedder:         a.embedder,
		DualWrite:        rc.DualWrite,
		Lock:             a.lock,
		BatchSize:        cfg.ReindexBatchSize,
		Limiter:          limiter,
		Logger:           logger,
	})
	// A fresh deployment has no vector class yet. The keyword schema comes
	// from `vespa deploy`, so a missing document type only warns.
	if ierr := a.Sync.EnsureIndexes(ctx); ierr != nil {
		logger.Warn("index bootstrap incomplete", "error", ierr)
	}

	a.Scheduler = services.NewScheduler(services.SchedulerConfig{
		Sync:         a.Sync,
		Lock:         a.lock,
		Logger:       logger,
		Interval:     cfg.IncrementalInterval,
		Overlap:      cfg.IncrementalOverlap,
		LockRequired: true,
	})

	return a, nil
}

// Pingers returns the readiness checks for the HTTP server
func (a *app) Pingers() map[string]http.Pinger {
	rc := a.cfg.Retrieval()
	p := map[string]http.Pinger{
		"postgres": a.db,
		"vespa": pingFunc(func(ctx context.Context) error {
			return a.keyword.EnsureIndex(ctx, rc.KeywordIndex, nil)
		}),
		"weaviate": pingFunc(func(ctx context.Context) error {
			_, err := a.vector.Info(ctx, rc.VectorCollection)
			return err
		}),
	}
	if a.redisClient != nil {
		p["redis"] = pingFunc(func(ctx context.Context) error {
			return a.redisClient.Ping(ctx).Err()
		})
	}
	if a.embedder != nil {
		p["embedding"] = pingFunc(a.embedder.HealthCheck)
	}
	return p
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
