package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docrag/pkg/store"
	"docrag/pkg/util"
)

const (
	defaultModel     = "text-embedding-3-small"
	defaultBatchSize = 64
	defaultTimeout   = 30 * time.Second
)

// ErrBackendUnavailable is returned when the embedding backend cannot
// produce any vectors. Callers must treat it as a terminal failure for the
// request, not as zero relevance.
var ErrBackendUnavailable = errors.New("embedding backend unavailable")

// Backend computes embeddings for a batch of texts.
type Backend interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds embedder configuration (dependency injection).
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Prefix    string // model-specific input prefix, e.g. "passage: "
	BatchSize int
	Timeout   time.Duration
	CacheDir  string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:   os.Getenv("DOCRAG_EMBED_BASE_URL"),
		APIKey:    os.Getenv("OPENAI_API_KEY"),
		Model:     defaultModel,
		BatchSize: defaultBatchSize,
		Timeout:   defaultTimeout,
	}
}

// Client embeds texts via an OpenAI-compatible API.
type Client struct {
	api       *openai.Client
	model     string
	batchSize int
}

// NewClient creates an embedding client for the configured endpoint.
func NewClient(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &Client{
		api:       openai.NewClientWithConfig(apiCfg),
		model:     model,
		batchSize: batchSize,
	}
}

// EmbedBatch embeds texts, splitting into API-sized batches. Returned
// vectors are L2-normalized so all downstream scoring is cosine-space.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.model),
			Input: texts[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("embedding request failed: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d",
				len(resp.Data), end-start)
		}

		for _, d := range resp.Data {
			vec := make([]float32, len(d.Embedding))
			copy(vec, d.Embedding)
			Normalize(vec)
			results = append(results, vec)
		}
	}

	return results, nil
}

// Normalize scales a vector to unit length in place.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// Embedder combines a backend with the content-addressed cache. It is the
// one structure shared across corpora: entries are keyed globally by
// content hash.
type Embedder struct {
	backend Backend
	cache   *Cache
	prefix  string

	mu            sync.Mutex
	totalRequests int64
	cacheHits     int64
}

// New creates an embedder with full configuration control.
func New(cfg Config) (*Embedder, error) {
	cache, err := NewCache(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(NewClient(cfg), cache, cfg.Prefix), nil
}

// NewWithBackend creates an embedder around an explicit backend and cache.
// This is the preferred constructor for dependency injection.
func NewWithBackend(backend Backend, cache *Cache, prefix string) *Embedder {
	return &Embedder{
		backend: backend,
		cache:   cache,
		prefix:  prefix,
	}
}

// GetOrCompute returns the input chunks with embeddings set, dropping
// whitespace-only chunks. Cache hits are reused unmodified; misses are
// batched and embedded together, with the model prefix applied to the miss
// batch only. Cache-write failures are logged, never fatal.
func (e *Embedder) GetOrCompute(ctx context.Context, chunks []*store.Chunk) ([]*store.Chunk, error) {
	valid := make([]*store.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c == nil || store.NormalizeContent(c.Content) == "" {
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	e.totalRequests += int64(len(valid))
	e.mu.Unlock()

	var missTexts []string
	var missIdx []int
	for i, c := range valid {
		if cached := e.cache.Get(c.ContentHash()); cached != nil {
			c.Embedding = cached
			e.mu.Lock()
			e.cacheHits++
			e.mu.Unlock()
			continue
		}
		missTexts = append(missTexts, e.prefix+c.Content)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return valid, nil
	}

	embeddings, err := e.backend.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(embeddings) != len(missTexts) {
		return nil, fmt.Errorf("%w: batch count mismatch", ErrBackendUnavailable)
	}

	for i, idx := range missIdx {
		c := valid[idx]
		c.Embedding = embeddings[i]
		if err := e.cache.Put(c.ContentHash(), embeddings[i]); err != nil {
			util.Debugf(util.DebugSummary, "embedding cache write failed: %v", err)
		}
	}

	return valid, nil
}

// EmbedText embeds a single text through the same cache-checked path.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	text = store.NormalizeContent(text)
	if text == "" {
		return nil, errors.New("cannot embed empty text")
	}

	hash := store.HashContent(text)
	if cached := e.cache.Get(hash); cached != nil {
		e.mu.Lock()
		e.cacheHits++
		e.mu.Unlock()
		return cached, nil
	}

	embeddings, err := e.backend.EmbedBatch(ctx, []string{e.prefix + text})
	if err != nil || len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := e.cache.Put(hash, embeddings[0]); err != nil {
		util.Debugf(util.DebugSummary, "embedding cache write failed: %v", err)
	}
	return embeddings[0], nil
}

// EmbedTexts embeds several texts through the cache-checked path.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		hash := store.HashContent(text)
		if cached := e.cache.Get(hash); cached != nil {
			results[i] = cached
			continue
		}
		missTexts = append(missTexts, e.prefix+store.NormalizeContent(text))
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	embeddings, err := e.backend.EmbedBatch(ctx, missTexts)
	if err != nil || len(embeddings) != len(missTexts) {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	for i, idx := range missIdx {
		results[idx] = embeddings[i]
		if err := e.cache.Put(store.HashContent(texts[idx]), embeddings[i]); err != nil {
			util.Debugf(util.DebugSummary, "embedding cache write failed: %v", err)
		}
	}

	return results, nil
}

// Stats returns embedder statistics.
func (e *Embedder) Stats() (total, hits int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalRequests, e.cacheHits
}
