package search

import (
	"context"
	"sync"

	"docrag/pkg/store"
	"docrag/pkg/util"
)

// AnnIndex is the fast approximate retrieval path. Satisfied by ann.Index.
type AnnIndex interface {
	Ready() bool
	Search(query []float32, k int) []*store.Chunk
}

// Backend is the exact fallback store. Satisfied by store.Store.
type Backend interface {
	SearchVector(ctx context.Context, embedding []float32, k int) ([]*store.Chunk, error)
	SearchText(ctx context.Context, query string, k int) ([]*store.Chunk, error)
}

// QueryEmbedder embeds a single query string. Satisfied by embed.Embedder.
type QueryEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Retriever runs the candidate gathering stage: ANN first, exact and
// lexical backends in parallel as fallback, exact duplicates removed from
// the merged result. Every path degrades rather than fails, so a broken
// backend narrows the candidate set instead of killing the query.
type Retriever struct {
	embedder QueryEmbedder
	ann      AnnIndex
	backend  Backend

	// FallbackK is the per-backend fetch size when the ANN path yields
	// nothing.
	FallbackK int
}

// NewRetriever wires the retrieval stage. ann and backend may each be nil
// when that path is unavailable.
func NewRetriever(embedder QueryEmbedder, ann AnnIndex, backend Backend) *Retriever {
	return &Retriever{
		embedder:  embedder,
		ann:       ann,
		backend:   backend,
		FallbackK: 10,
	}
}

// Retrieve gathers up to 2k candidates for query. The ANN index is tried
// first; when it is unbuilt or empty the exact vector and lexical
// backends run concurrently and their results merge in that order.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]*store.Chunk, error) {
	if k <= 0 {
		k = 5
	}

	var queryVec []float32
	if r.embedder != nil {
		vec, err := r.embedder.EmbedText(ctx, query)
		if err != nil {
			util.Debugf(util.DebugSummary, "retrieve: query embedding failed, lexical only: %v", err)
		} else {
			queryVec = vec
		}
	}

	if r.ann != nil && r.ann.Ready() && queryVec != nil {
		if results := r.ann.Search(queryVec, k*2); len(results) > 0 {
			util.Debugf(util.DebugDetailed, "retrieve: ann returned %d candidates", len(results))
			return DedupByHash(results), nil
		}
	}

	combined := r.retrieveFallback(ctx, query, queryVec)
	util.Debugf(util.DebugDetailed, "retrieve: fallback returned %d candidates", len(combined))
	return DedupByHash(combined), nil
}

// retrieveFallback queries the exact vector and lexical backends
// concurrently. Vector results order before lexical ones in the merge.
func (r *Retriever) retrieveFallback(ctx context.Context, query string, queryVec []float32) []*store.Chunk {
	if r.backend == nil {
		return nil
	}

	var (
		wg      sync.WaitGroup
		vecHits []*store.Chunk
		txtHits []*store.Chunk
	)

	if queryVec != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := r.backend.SearchVector(ctx, queryVec, r.FallbackK)
			if err != nil {
				util.Debugf(util.DebugSummary, "retrieve: vector fallback failed: %v", err)
				return
			}
			vecHits = hits
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		hits, err := r.backend.SearchText(ctx, query, r.FallbackK)
		if err != nil {
			util.Debugf(util.DebugSummary, "retrieve: lexical fallback failed: %v", err)
			return
		}
		txtHits = hits
	}()

	wg.Wait()
	return append(vecHits, txtHits...)
}
