package services

import (
	"context"
	"testing"
	"time"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven/mocks"
)

const (
	testCollection = "KnowledgeChunk"
	testIndex      = "chunk"
)

// corpus wires the in-memory stores used across service tests
type corpus struct {
	embedder  *mocks.MockEmbeddingService
	vector    *mocks.MockVectorStore
	keyword   *mocks.MockKeywordStore
	knowledge *mocks.MockKnowledgeStore
}

func newCorpus(t *testing.T) *corpus {
	t.Helper()
	emb := mocks.NewMockEmbeddingService()
	return &corpus{
		embedder:  emb,
		vector:    mocks.NewMockVectorStore(emb),
		keyword:   mocks.NewMockKeywordStore(),
		knowledge: mocks.NewMockKnowledgeStore(),
	}
}

// add writes the record to the relational store and both indexes
func (c *corpus) add(t *testing.T, recs ...domain.ChunkRecord) {
	t.Helper()
	ctx := context.Background()
	for _, r := range recs {
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = time.Now()
		}
		c.knowledge.AddChunk(r)
		if err := c.vector.Put(ctx, testCollection, r); err != nil {
			t.Fatalf("put vector %s: %v", r.ChunkID, err)
		}
		if _, err := c.keyword.BulkIndex(ctx, testIndex, []domain.KeywordDocument{{ID: r.ChunkID, Fields: r.IndexFields()}}); err != nil {
			t.Fatalf("index keyword %s: %v", r.ChunkID, err)
		}
	}
}

func (c *corpus) vectorRetriever() *VectorRetriever {
	return NewVectorRetriever(VectorRetrieverConfig{
		Store:      c.vector,
		Embedder:   c.embedder,
		Collection: testCollection,
		Timeout:    time.Second,
	})
}

func (c *corpus) hybridRetriever(reranker Reranker) *HybridRetriever {
	return NewHybridRetriever(HybridRetrieverConfig{
		Vector:       c.vectorRetriever(),
		Keyword:      c.keyword,
		KeywordIndex: testIndex,
		Reranker:     reranker,
		Timeout:      time.Second,
	})
}

func (c *corpus) service(cfg domain.RetrievalConfig, retriever Retriever) *retrievalService {
	cfg.VectorCollection = testCollection
	cfg.KeywordIndex = testIndex
	return NewRetrievalService(RetrievalServiceConfig{
		Retriever:     retriever,
		Knowledge:     c.knowledge,
		Conversations: mocks.NewMockConversationStore(),
		Config:        cfg,
	}).(*retrievalService)
}

func training(id, asset, content string) domain.ChunkRecord {
	return domain.ChunkRecord{
		ChunkID:       id,
		AssetID:       asset,
		Content:       content,
		KnowledgeType: domain.KnowledgeTypeTraining,
		Title:         "Training " + asset,
		SourceID:      "src-" + asset,
	}
}

func project(id, projectID, asset, content string) domain.ChunkRecord {
	return domain.ChunkRecord{
		ChunkID:       id,
		AssetID:       asset,
		Content:       content,
		KnowledgeType: domain.KnowledgeTypeProject,
		ProjectID:     projectID,
		Title:         "Project " + asset,
		SourceID:      "src-" + asset,
	}
}

func system(id, projectID, content string) domain.ChunkRecord {
	return domain.ChunkRecord{
		ChunkID:       id,
		AssetID:       "sys-" + id,
		Content:       content,
		KnowledgeType: domain.KnowledgeTypeSystem,
		ProjectID:     projectID,
		Title:         "System note",
	}
}

func chunkIDs(chunks []domain.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ChunkID
	}
	return out
}
