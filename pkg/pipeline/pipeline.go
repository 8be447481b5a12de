// Package pipeline orchestrates the full document QA flow: ingestion
// (embed, token-encode, dedup, index) and querying (retrieve, late
// interaction, rerank, answer). Every stage hop produces a message so a
// single trace ID follows a request end to end, and every stage degrades
// rather than fails.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docrag/pkg/ann"
	"docrag/pkg/embed"
	"docrag/pkg/llm"
	"docrag/pkg/mcp"
	"docrag/pkg/rerank"
	"docrag/pkg/search"
	"docrag/pkg/store"
	"docrag/pkg/util"
)

// Stage names used as message senders and receivers.
const (
	stageIngest   = "IngestionAgent"
	stageRetrieve = "RetrievalAgent"
	stageRerank   = "RerankerAgent"
	stageAnswer   = "ResponseAgent"
)

// Config holds pipeline tuning knobs.
type Config struct {
	TopK           int
	DedupThreshold float64
	RerankMethod   rerank.Method
	DataDir        string        // ANN index persistence root
	SaveDelay      time.Duration // debounce for index saves
	CacheSize      int
	CacheTTL       time.Duration
}

// DefaultConfig returns the standard pipeline settings.
func DefaultConfig() Config {
	return Config{
		TopK:           5,
		DedupThreshold: search.DefaultDedupThreshold,
		RerankMethod:   rerank.MethodHybrid,
		SaveDelay:      2 * time.Second,
		CacheSize:      100,
		CacheTTL:       5 * time.Minute,
	}
}

// Deps are the pipeline's stage implementations. Store, Reranker,
// Answerer, Rewriter and Scorer may be nil; the pipeline then skips or
// degrades the corresponding stage.
type Deps struct {
	Embedder *embed.Embedder
	Scorer   *search.LateScorer
	Reranker *rerank.Reranker
	Store    *store.Store
	Index    *ann.Index
	Answerer *llm.Client
	Rewriter *llm.Rewriter
}

// Result is the outcome of one query.
type Result struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer,omitempty"`
	Chunks  []*store.Chunk `json:"chunks"`
	TraceID string         `json:"trace_id"`
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg  Config
	deps Deps

	retriever *search.Retriever
	cache     *util.QueryCache
	saver     *Debouncer
	stats     *util.TimingStats

	// corpusID is read from the debounced save goroutine while Ingest
	// and LoadCorpus write it.
	corpusMu sync.Mutex
	corpusID string
}

// New creates a pipeline over the given dependencies.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = search.DefaultDedupThreshold
	}
	if cfg.RerankMethod == "" {
		cfg.RerankMethod = rerank.MethodHybrid
	}
	if cfg.SaveDelay <= 0 {
		cfg.SaveDelay = 2 * time.Second
	}

	p := &Pipeline{
		cfg:       cfg,
		deps:      deps,
		retriever: search.NewRetriever(deps.Embedder, annIndex(deps.Index), storeBackend(deps.Store)),
		stats:     util.NewTimingStats(util.DebugSummary),
	}
	if cfg.CacheSize > 0 {
		p.cache = util.NewQueryCache(cfg.CacheSize, cfg.CacheTTL)
	}
	if cfg.DataDir != "" && deps.Index != nil {
		p.saver = NewDebouncer(cfg.SaveDelay, func() {
			if err := deps.Index.Save(cfg.DataDir, p.CorpusID()); err != nil {
				util.Debugf(util.DebugSummary, "pipeline: index save failed: %v", err)
			}
		})
	}
	return p
}

// storeBackend adapts a possibly nil store to the retriever interface.
// A typed nil inside a non-nil interface would defeat the retriever's
// nil check.
func storeBackend(s *store.Store) search.Backend {
	if s == nil {
		return nil
	}
	return s
}

func annIndex(ix *ann.Index) search.AnnIndex {
	if ix == nil {
		return nil
	}
	return ix
}

// CorpusID returns the corpus the pipeline currently serves.
func (p *Pipeline) CorpusID() string {
	p.corpusMu.Lock()
	defer p.corpusMu.Unlock()
	return p.corpusID
}

func (p *Pipeline) setCorpusID(id string) {
	p.corpusMu.Lock()
	p.corpusID = id
	p.corpusMu.Unlock()
}

// SetStore swaps the fallback store, e.g. when switching corpora. The
// previous store is not closed; the caller owns both.
func (p *Pipeline) SetStore(s *store.Store) {
	p.deps.Store = s
	p.retriever = search.NewRetriever(p.deps.Embedder, annIndex(p.deps.Index), storeBackend(s))
}

// Stats returns pipeline timing statistics.
func (p *Pipeline) Stats() *util.TimingStats { return p.stats }

// LoadCorpus brings a previously saved index back into memory. Missing
// or corrupt artifacts leave the pipeline on its fallback backends; they
// are logged, never fatal.
func (p *Pipeline) LoadCorpus(corpusID string) error {
	p.setCorpusID(corpusID)
	if p.deps.Index == nil || p.cfg.DataDir == "" {
		return nil
	}
	if !ann.Exists(p.cfg.DataDir, corpusID) {
		return nil
	}
	if err := p.deps.Index.Load(p.cfg.DataDir, corpusID); err != nil {
		util.Debugf(util.DebugSummary, "pipeline: loading corpus %s: %v, continuing without index", corpusID, err)
	}
	return nil
}

// Ingest embeds, encodes, deduplicates and indexes chunks under corpusID,
// returning the ingestion message. Embedding failure is the only fatal
// error; indexing and storage degrade independently.
func (p *Pipeline) Ingest(ctx context.Context, corpusID string, chunks []*store.Chunk) (mcp.Message, error) {
	timer := util.NewTimer("ingest")
	defer func() { p.stats.RecordStage("ingest", timer.Stop(), 1) }()

	p.setCorpusID(corpusID)
	if p.cache != nil {
		p.cache.Clear()
	}

	embedded, err := p.deps.Embedder.GetOrCompute(ctx, chunks)
	if err != nil {
		return mcp.Message{}, fmt.Errorf("pipeline: embedding corpus %s: %w", corpusID, err)
	}
	if len(embedded) == 0 {
		return mcp.Message{}, fmt.Errorf("pipeline: corpus %s has no embeddable content", corpusID)
	}

	if p.deps.Scorer != nil {
		p.deps.Scorer.EncodeChunks(ctx, embedded)
	}

	filtered := search.FilterNearDuplicates(embedded, p.cfg.DedupThreshold)

	if p.deps.Index != nil {
		if p.deps.Index.AddChunks(filtered) && p.saver != nil {
			p.saver.Trigger()
		}
	}

	if p.deps.Store != nil {
		if err := p.deps.Store.AddChunks(ctx, filtered); err != nil {
			util.Debugf(util.DebugSummary, "pipeline: store ingest failed: %v", err)
		}
	}

	sources := make([]string, 0, len(filtered))
	seen := make(map[string]bool)
	for _, c := range filtered {
		if !seen[c.Source] {
			seen[c.Source] = true
			sources = append(sources, c.Source)
		}
	}

	msg := mcp.New(stageIngest, stageRetrieve, mcp.IngestionResult{
		CorpusID: corpusID,
		Chunks:   len(filtered),
		Sources:  sources,
	})
	util.Debugf(util.DebugSummary, "pipeline: ingested %d chunks into %s (trace %s)",
		len(filtered), corpusID, msg.TraceID)
	return msg, nil
}

// Query runs the retrieval side of the pipeline and returns the ranked
// context. The answer stage is separate so callers can inspect context
// without paying for a completion.
func (p *Pipeline) Query(ctx context.Context, query string) (*Result, error) {
	timer := util.NewTimer("query")
	defer func() { p.stats.RecordStage("query", timer.Stop(), 1) }()

	// Cache entries are scoped to the corpus so switching corpora never
	// serves results computed against the previous one.
	cacheKey := p.CorpusID() + "\x00" + query
	if p.cache != nil {
		if cached := p.cache.Get(cacheKey); cached != nil {
			util.Debugf(util.DebugDetailed, "pipeline: query cache hit")
			return cached.(*Result), nil
		}
	}

	effective := p.deps.Rewriter.Rewrite(ctx, query)
	if effective != query {
		util.Debugf(util.DebugSummary, "pipeline: query rewritten to %q", effective)
	}

	candidates, err := p.retriever.Retrieve(ctx, effective, p.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("pipeline: retrieval: %w", err)
	}
	retrieval := mcp.New(stageRetrieve, stageRerank, mcp.RetrievalResult{
		Query:  effective,
		Chunks: candidates,
	})

	ranked := p.rank(ctx, retrieval)

	result := &Result{
		Query:   query,
		Chunks:  ranked,
		TraceID: retrieval.TraceID,
	}
	if p.cache != nil {
		p.cache.Set(cacheKey, result)
	}
	util.Debugf(util.DebugSummary, "pipeline: query returned %d chunks (trace %s)",
		len(ranked), result.TraceID)
	return result, nil
}

// Rank ranks a caller-supplied candidate set, skipping index search.
// Candidates are hash-deduplicated first, matching the retrieval path.
func (p *Pipeline) Rank(ctx context.Context, query string, candidates []*store.Chunk) []*store.Chunk {
	msg := mcp.New(stageRetrieve, stageRerank, mcp.RetrievalResult{
		Query:  query,
		Chunks: search.DedupByHash(candidates),
	})
	return p.rank(ctx, msg)
}

// rank applies late interaction and reranking to a retrieval message.
// Small candidate sets skip both stages.
func (p *Pipeline) rank(ctx context.Context, retrieval mcp.Message) []*store.Chunk {
	payload := retrieval.Payload.(mcp.RetrievalResult)
	chunks := payload.Chunks
	query := payload.Query
	k := p.cfg.TopK

	if len(chunks) > k && p.deps.Scorer != nil {
		chunks = p.deps.Scorer.RankHybrid(ctx, query, chunks, k*2)
	}
	if len(chunks) > k && p.deps.Reranker != nil {
		chunks = p.deps.Reranker.Rerank(ctx, query, chunks, p.cfg.RerankMethod, k)
	} else if len(chunks) > k {
		chunks = chunks[:k]
	}

	// The rerank boundary gets its own message on the same trace.
	_ = retrieval.Forward(stageAnswer, mcp.RerankResult{Query: query, Chunks: chunks})
	return chunks
}

// Answer runs Query and then generates an answer over the ranked context.
func (p *Pipeline) Answer(ctx context.Context, query string) (*Result, error) {
	result, err := p.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if result.Answer != "" {
		return result, nil
	}
	if p.deps.Answerer == nil {
		return result, nil
	}

	answer, err := p.deps.Answerer.Answer(ctx, query, result.Chunks)
	if err != nil {
		util.Debugf(util.DebugSummary, "pipeline: answer stage failed: %v", err)
		result.Answer = "Sorry, no model produced a confident answer."
		return result, nil
	}
	result.Answer = answer
	return result, nil
}

// Flush forces a pending index save to complete.
func (p *Pipeline) Flush() {
	if p.saver != nil {
		p.saver.Flush()
	}
}

// Close flushes pending work and releases resources.
func (p *Pipeline) Close() error {
	if p.saver != nil {
		p.saver.Stop()
	}
	if p.deps.Store != nil {
		return p.deps.Store.Close()
	}
	return nil
}
