package search

import (
	"math"

	"docrag/pkg/store"
	"docrag/pkg/util"
)

// DefaultDedupThreshold is the cosine similarity above which two chunks
// are treated as near duplicates.
const DefaultDedupThreshold = 0.92

// FilterNearDuplicates drops chunks whose embedding is nearly identical to
// an earlier kept chunk. Order is preserved and the earlier chunk always
// wins. Chunks without embeddings pass through untouched, and any internal
// inconsistency degrades to returning the input unfiltered.
func FilterNearDuplicates(chunks []*store.Chunk, threshold float64) []*store.Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	if threshold <= 0 {
		threshold = DefaultDedupThreshold
	}

	dropped := make(map[int]bool)
	for i := 0; i < len(chunks); i++ {
		if dropped[i] || len(chunks[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(chunks); j++ {
			if dropped[j] || len(chunks[j].Embedding) == 0 {
				continue
			}
			if CosineSimilarity(chunks[i].Embedding, chunks[j].Embedding) > threshold {
				dropped[j] = true
			}
		}
	}

	if len(dropped) == 0 {
		return chunks
	}
	kept := make([]*store.Chunk, 0, len(chunks)-len(dropped))
	for i, c := range chunks {
		if !dropped[i] {
			kept = append(kept, c)
		}
	}
	util.Debugf(util.DebugSummary, "dedup: dropped %d near duplicates, kept %d", len(dropped), len(kept))
	return kept
}

// DedupByHash removes exact content duplicates, keeping the first
// occurrence of each normalized content hash. Chunks with empty content
// are dropped.
func DedupByHash(chunks []*store.Chunk) []*store.Chunk {
	seen := make(map[string]bool, len(chunks))
	unique := make([]*store.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c == nil || store.NormalizeContent(c.Content) == "" {
			continue
		}
		h := c.ContentHash()
		if seen[h] {
			continue
		}
		seen[h] = true
		unique = append(unique, c)
	}
	return unique
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
