package services

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

func TestCapPerAsset(t *testing.T) {
	chunks := []domain.Chunk{
		{ChunkID: "a1", AssetID: "A", RelevanceScore: 0.9},
		{ChunkID: "b1", AssetID: "B", RelevanceScore: 0.85},
		{ChunkID: "a2", AssetID: "A", RelevanceScore: 0.8},
		{ChunkID: "a3", AssetID: "A", RelevanceScore: 0.7},
		{ChunkID: "a4", AssetID: "A", RelevanceScore: 0.95},
		{ChunkID: "x", RelevanceScore: 0.1},
		{ChunkID: "y", RelevanceScore: 0.05},
	}

	got := CapPerAsset(chunks, 3)

	want := []string{"a4", "a1", "b1", "a2", "x", "y"}
	if len(got) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %v", len(want), len(got), chunkIDs(got))
	}
	for i, id := range want {
		if got[i].ChunkID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ChunkID)
		}
	}

	// Input is not reordered
	if chunks[0].ChunkID != "a1" {
		t.Error("expected input slice to be left untouched")
	}
}

func TestCapPerAsset_AnyDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		var chunks []domain.Chunk
		n := rng.Intn(60)
		for i := 0; i < n; i++ {
			chunks = append(chunks, domain.Chunk{
				ChunkID:        fmt.Sprintf("c%d", i),
				AssetID:        fmt.Sprintf("asset-%d", rng.Intn(5)),
				RelevanceScore: rng.Float64(),
			})
		}

		got := CapPerAsset(chunks, 3)
		counts := make(map[string]int)
		for i, c := range got {
			counts[c.AssetID]++
			if counts[c.AssetID] > 3 {
				t.Fatalf("round %d: asset %s has more than 3 chunks", round, c.AssetID)
			}
			if i > 0 && got[i-1].RelevanceScore < c.RelevanceScore {
				t.Fatalf("round %d: result not sorted", round)
			}
		}
	}
}

func TestCapPerAsset_ZeroDisables(t *testing.T) {
	chunks := []domain.Chunk{
		{ChunkID: "a1", AssetID: "A", RelevanceScore: 0.1},
		{ChunkID: "a2", AssetID: "A", RelevanceScore: 0.2},
	}
	got := CapPerAsset(chunks, 0)
	if len(got) != 2 || got[0].ChunkID != "a2" {
		t.Errorf("expected both chunks sorted, got %v", chunkIDs(got))
	}
}

func TestNormalizeScores(t *testing.T) {
	fusedChunks := []domain.Chunk{{RelevanceScore: 0.032}, {RelevanceScore: 0.016}}
	NormalizeScores(fusedChunks, domain.SearchTypeHybrid)
	if fusedChunks[0].RelevanceScore != 1 || fusedChunks[1].RelevanceScore != 0.5 {
		t.Errorf("unexpected fused scores: %v, %v", fusedChunks[0].RelevanceScore, fusedChunks[1].RelevanceScore)
	}

	vectorChunks := []domain.Chunk{{RelevanceScore: 1.2}, {RelevanceScore: 0.4}, {RelevanceScore: -0.1}}
	NormalizeScores(vectorChunks, domain.SearchTypeVector)
	if vectorChunks[0].RelevanceScore != 1 || vectorChunks[1].RelevanceScore != 0.4 || vectorChunks[2].RelevanceScore != 0 {
		t.Errorf("unexpected vector scores: %+v", vectorChunks)
	}

	NormalizeScores(nil, domain.SearchTypeHybrid)
}
