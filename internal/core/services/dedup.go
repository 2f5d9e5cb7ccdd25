package services

import (
	"sort"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
)

// CapPerAsset keeps at most perAsset of the highest-scored chunks from each
// asset, sorted by score descending. Chunks without an asset count as their
// own asset.
func CapPerAsset(chunks []domain.Chunk, perAsset int) []domain.Chunk {
	sorted := make([]domain.Chunk, len(chunks))
	copy(sorted, chunks)
	sortChunks(sorted)

	if perAsset <= 0 {
		return sorted
	}

	counts := make(map[string]int)
	out := make([]domain.Chunk, 0, len(sorted))
	for _, c := range sorted {
		key := c.AssetID
		if key == "" {
			key = "chunk:" + c.ChunkID
		}
		if counts[key] >= perAsset {
			continue
		}
		counts[key]++
		out = append(out, c)
	}
	return out
}

// NormalizeScores maps relevance into [0,1]. Fused scores are divided by the
// best score; similarity scores are clamped.
func NormalizeScores(chunks []domain.Chunk, mode domain.SearchType) {
	if mode != domain.SearchTypeVector {
		var maxScore float64
		for _, c := range chunks {
			if c.RelevanceScore > maxScore {
				maxScore = c.RelevanceScore
			}
		}
		if maxScore > 0 {
			for i := range chunks {
				chunks[i].RelevanceScore /= maxScore
			}
		}
	}
	for i := range chunks {
		chunks[i].RelevanceScore = min(max(chunks[i].RelevanceScore, 0), 1)
	}
}

func sortChunks(chunks []domain.Chunk) {
	// Stable so that ties keep the reranker's order
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].RelevanceScore > chunks[j].RelevanceScore
	})
}
