// Package docrag provides retrieval-augmented question answering over
// local document collections.
//
// docrag is designed for use both as a CLI tool and as an embedded
// library. For library usage:
//
//	client, err := docrag.New(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Ingest documents (required before querying)
//	if err := client.IngestDir(ctx, "./docs"); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Ask questions over the corpus
//	result, err := client.Answer(ctx, "what was the revenue growth in Q3")
package docrag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docrag/pkg/ann"
	"docrag/pkg/config"
	"docrag/pkg/embed"
	"docrag/pkg/llm"
	"docrag/pkg/loader"
	"docrag/pkg/pipeline"
	"docrag/pkg/rerank"
	"docrag/pkg/search"
	"docrag/pkg/store"
	"docrag/pkg/util"
)

// Result is the outcome of one query.
type Result = pipeline.Result

// Client is the composition root: it wires the embedding, indexing,
// retrieval, reranking and answer stages from a single config.
type Client struct {
	cfg     *config.Config
	pipe    *pipeline.Pipeline
	loader  *loader.Loader
	store   *store.Store
	storeID string
	index   *ann.Index
}

// New creates a client. A nil cfg uses defaults. The per-corpus fallback
// store opens lazily on the first ingest or corpus load.
func New(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	embedder, err := embed.New(embed.Config{
		BaseURL:   cfg.Embedder.BaseURL,
		APIKey:    cfg.Embedder.APIKey(),
		Model:     cfg.Embedder.Model,
		Prefix:    cfg.Embedder.Prefix,
		BatchSize: cfg.Embedder.BatchSize,
		Timeout:   time.Duration(cfg.Embedder.TimeoutSecs) * time.Second,
		CacheDir:  filepath.Join(cfg.DataDir, "embeddings"),
	})
	if err != nil {
		return nil, fmt.Errorf("docrag: creating embedder: %w", err)
	}

	index := ann.New(ann.Config{
		Dim:            cfg.Index.Dimensions,
		MaxElements:    cfg.Index.MaxElements,
		M:              cfg.Index.M,
		EfConstruction: cfg.Index.EfConstruction,
		EfSearch:       cfg.Index.EfSearch,
	})

	scorer := search.NewLateScorer(embedder)
	scorer.Weight = cfg.Rerank.LateWeight

	models := cfg.LLM.Models
	if len(models) == 0 {
		models = config.Default().LLM.Models
	}

	chatCfg := openai.DefaultConfig(cfg.LLM.APIKey())
	if cfg.LLM.BaseURL != "" {
		chatCfg.BaseURL = cfg.LLM.BaseURL
	}
	chat := openai.NewClientWithConfig(chatCfg)

	reranker := rerank.New(
		rerank.NewCrossEncoder(rerank.CrossEncoderConfig{Endpoint: cfg.Rerank.Endpoint}),
		rerank.NewJudge(chat, models[0]),
	)
	if cfg.Rerank.ShortlistMultiplier > 0 {
		reranker.ShortlistMultiplier = cfg.Rerank.ShortlistMultiplier
	}

	answerer := llm.NewWithCompleter(chat, models, cfg.LLM.Temperature, cfg.LLM.MaxRetries)

	var rewriter *llm.Rewriter
	if cfg.RewriteQuery {
		rewriter = llm.NewRewriter(answerer)
	}

	pipeCfg := pipeline.DefaultConfig()
	pipeCfg.TopK = cfg.TopK
	pipeCfg.DedupThreshold = cfg.Index.DedupThreshold
	pipeCfg.RerankMethod = rerank.Method(cfg.Rerank.Method)
	pipeCfg.DataDir = filepath.Join(cfg.DataDir, "index")

	pipe := pipeline.New(pipeCfg, pipeline.Deps{
		Embedder: embedder,
		Scorer:   scorer,
		Reranker: reranker,
		Index:    index,
		Answerer: answerer,
		Rewriter: rewriter,
	})

	return &Client{
		cfg:    cfg,
		pipe:   pipe,
		loader: loader.New(loader.Config{ChunkSize: cfg.Chunker.ChunkSize, ChunkOverlap: cfg.Chunker.ChunkOverlap}),
		index:  index,
	}, nil
}

func corpusStorePath(dataDir, corpusID string) string {
	return filepath.Join(dataDir, "corpora", corpusID, "store.db")
}

// ensureStore opens the fallback store for corpusID when the active
// corpus changes. Each corpus keeps its own database under
// <data>/corpora/<id>/ so corpora never bleed into each other. The store
// is optional: if it cannot open (missing sqlite extension, read-only
// disk) the client works through the ANN index alone.
func (c *Client) ensureStore(corpusID string) {
	if c.storeID == corpusID && c.store != nil {
		return
	}
	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
	}
	st, err := store.Open(corpusStorePath(c.cfg.DataDir, corpusID),
		store.WithDimensions(c.cfg.Index.Dimensions),
		store.WithQuantization(store.ParseQuantizationMode(c.cfg.Index.Quantization)),
	)
	if err != nil {
		util.Debugf(util.DebugSummary, "docrag: fallback store unavailable for %s: %v", corpusID, err)
		st = nil
	}
	c.store = st
	c.storeID = corpusID
	c.pipe.SetStore(st)
}

// CorpusID derives the corpus identifier for a file or directory path.
func CorpusID(path string) string {
	base := filepath.Base(filepath.Clean(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IngestFile parses and indexes a single document.
func (c *Client) IngestFile(ctx context.Context, path string) error {
	chunks, err := c.loader.LoadFile(path)
	if err != nil {
		return err
	}
	return c.ingest(ctx, CorpusID(path), chunks)
}

// IngestDir parses and indexes every supported document under dir.
func (c *Client) IngestDir(ctx context.Context, dir string) error {
	chunks, err := c.loader.LoadDir(dir)
	if err != nil {
		return err
	}
	return c.ingest(ctx, CorpusID(dir), chunks)
}

func (c *Client) ingest(ctx context.Context, corpusID string, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("docrag: nothing to ingest")
	}
	c.ensureStore(corpusID)
	if _, err := c.pipe.Ingest(ctx, corpusID, chunks); err != nil {
		return err
	}
	c.pipe.Flush()
	return nil
}

// LoadCorpus restores a previously ingested corpus from disk.
func (c *Client) LoadCorpus(corpusID string) error {
	c.ensureStore(corpusID)
	return c.pipe.LoadCorpus(corpusID)
}

// Query retrieves and ranks context for a question without generating an
// answer.
func (c *Client) Query(ctx context.Context, query string) (*Result, error) {
	return c.pipe.Query(ctx, query)
}

// Answer retrieves context and generates a grounded answer.
func (c *Client) Answer(ctx context.Context, query string) (*Result, error) {
	return c.pipe.Answer(ctx, query)
}

// Watch ingests dir and re-ingests documents as they change until ctx is
// canceled.
func (c *Client) Watch(ctx context.Context, dir string) error {
	c.ensureStore(CorpusID(dir))
	return c.pipe.Watch(ctx, dir, CorpusID(dir), c.loader)
}

// Status describes the current corpus.
type Status struct {
	CorpusID      string `json:"corpus_id"`
	IndexedChunks int    `json:"indexed_chunks"`
	StoredChunks  int64  `json:"stored_chunks"`
	StoreReady    bool   `json:"store_ready"`
}

// Status reports index and store sizes.
func (c *Client) Status(ctx context.Context) Status {
	s := Status{
		CorpusID:      c.pipe.CorpusID(),
		IndexedChunks: c.index.Size(),
		StoreReady:    c.store != nil,
	}
	if c.store != nil {
		if n, err := c.store.Count(ctx); err == nil {
			s.StoredChunks = n
		}
	}
	return s
}

// Clear wipes every per-corpus store and all persisted index data.
func (c *Client) Clear(ctx context.Context) error {
	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
		c.storeID = ""
		c.pipe.SetStore(nil)
	}
	if err := os.RemoveAll(filepath.Join(c.cfg.DataDir, "corpora")); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(c.cfg.DataDir, "index"))
}

// Close flushes pending index saves and releases resources.
func (c *Client) Close() error {
	return c.pipe.Close()
}
