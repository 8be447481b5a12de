package rerank

import (
	"context"

	"docrag/pkg/store"
	"docrag/pkg/util"
)

// Method selects the reranking strategy.
type Method string

const (
	// MethodCrossEncoder ranks with the cross-encoder only.
	MethodCrossEncoder Method = "crossencoder"
	// MethodLLM lets the LLM judge pick directly from the candidates.
	MethodLLM Method = "llm"
	// MethodHybrid shortlists with the cross-encoder, then the judge
	// picks from the shortlist. This is the default.
	MethodHybrid Method = "hybrid"
)

// DefaultShortlistMultiplier sizes the cross-encoder shortlist handed to
// the judge in hybrid mode, as a multiple of the final k.
const DefaultShortlistMultiplier = 4

// Reranker composes the cross-encoder and the LLM judge. Either component
// may be nil; the affected method then degrades to the input order.
type Reranker struct {
	cross *CrossEncoder
	judge *Judge

	// ShortlistMultiplier overrides the hybrid shortlist size.
	ShortlistMultiplier int
}

// New wires a reranker from its two stages.
func New(cross *CrossEncoder, judge *Judge) *Reranker {
	return &Reranker{
		cross:               cross,
		judge:               judge,
		ShortlistMultiplier: DefaultShortlistMultiplier,
	}
}

// Rerank orders chunks by relevance to query and returns the top k. A
// failed or missing stage never errors out: the candidates pass through
// in their existing order, truncated to k.
func (r *Reranker) Rerank(ctx context.Context, query string, chunks []*store.Chunk, method Method, k int) []*store.Chunk {
	if len(chunks) == 0 {
		return nil
	}
	if k <= 0 {
		k = 5
	}

	switch method {
	case MethodCrossEncoder:
		return r.crossRank(ctx, query, chunks, k)
	case MethodLLM:
		if r.judge == nil {
			return truncate(chunks, k)
		}
		return r.judge.Select(ctx, query, chunks, k)
	case MethodHybrid:
		mult := r.ShortlistMultiplier
		if mult <= 0 {
			mult = DefaultShortlistMultiplier
		}
		shortlist := r.crossRank(ctx, query, chunks, k*mult)
		if r.judge == nil {
			return truncate(shortlist, k)
		}
		return r.judge.Select(ctx, query, shortlist, k)
	default:
		return truncate(chunks, k)
	}
}

func (r *Reranker) crossRank(ctx context.Context, query string, chunks []*store.Chunk, k int) []*store.Chunk {
	if r.cross == nil {
		return truncate(chunks, k)
	}
	ranked, err := r.cross.Rank(ctx, query, chunks, k)
	if err != nil {
		util.Debugf(util.DebugSummary, "rerank: cross-encoder failed, keeping input order: %v", err)
		return truncate(chunks, k)
	}
	return ranked
}

func truncate(chunks []*store.Chunk, k int) []*store.Chunk {
	if k > 0 && k < len(chunks) {
		return chunks[:k]
	}
	return chunks
}
