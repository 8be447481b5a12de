package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docrag/pkg/ann"
	"docrag/pkg/embed"
	"docrag/pkg/llm"
	"docrag/pkg/mcp"
	"docrag/pkg/search"
	"docrag/pkg/store"
)

const testDim = 4

// topicBackend embeds texts onto fixed topic axes so related texts land
// near each other deterministically.
type topicBackend struct {
	calls int64
}

func (b *topicBackend) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt64(&b.calls, 1)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, testDim)
		lower := strings.ToLower(text)
		if strings.Contains(lower, "revenue") {
			v[0] = 1
		}
		if strings.Contains(lower, "cost") {
			v[1] = 1
		}
		if strings.Contains(lower, "grew") || strings.Contains(lower, "growth") {
			v[2] = 1
		}
		if v[0] == 0 && v[1] == 0 && v[2] == 0 {
			v[3] = 1
		}
		embed.Normalize(v)
		out[i] = v
	}
	return out, nil
}

type scriptedChat struct {
	answer string
	err    error
}

func (s *scriptedChat) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.answer}},
		},
	}, nil
}

func testEmbedder(t *testing.T, backend embed.Backend) *embed.Embedder {
	t.Helper()
	cache, err := embed.NewCache("")
	if err != nil {
		t.Fatal(err)
	}
	return embed.NewWithBackend(backend, cache, "")
}

func corpusChunks() []*store.Chunk {
	return []*store.Chunk{
		store.NewChunk("Revenue grew 10% in the third quarter.", "report.txt p. 1"),
		store.NewChunk("Revenue grew 10% in the third quarter!", "report.txt p. 2"), // near duplicate
		store.NewChunk("Costs fell 5% over the same period.", "report.txt p. 3"),
		store.NewChunk("The cafeteria menu was updated.", "report.txt p. 4"),
	}
}

func newTestPipeline(t *testing.T, cfg Config, deps Deps) *Pipeline {
	t.Helper()
	if deps.Embedder == nil {
		deps.Embedder = testEmbedder(t, &topicBackend{})
	}
	if deps.Index == nil {
		deps.Index = ann.New(ann.DefaultConfig(testDim))
	}
	return New(cfg, deps)
}

func TestIngestDeduplicates(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), Deps{})

	msg, err := p.Ingest(context.Background(), "report", corpusChunks())
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	payload, ok := msg.Payload.(mcp.IngestionResult)
	if !ok {
		t.Fatalf("payload type = %T", msg.Payload)
	}
	// The two near-identical revenue chunks collapse to one.
	if payload.Chunks != 3 {
		t.Errorf("ingested %d chunks, want 3 after dedup", payload.Chunks)
	}
	if payload.CorpusID != "report" {
		t.Errorf("corpus = %q", payload.CorpusID)
	}
	if msg.TraceID == "" {
		t.Error("ingestion message missing trace id")
	}
}

func TestQueryRanksRelevantChunkFirst(t *testing.T) {
	embedder := testEmbedder(t, &topicBackend{})
	deps := Deps{
		Embedder: embedder,
		Scorer:   search.NewLateScorer(embedder),
	}
	p := newTestPipeline(t, Config{TopK: 2}, deps)

	if _, err := p.Ingest(context.Background(), "report", corpusChunks()); err != nil {
		t.Fatal(err)
	}

	result, err := p.Query(context.Background(), "what was the revenue growth")
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(result.Chunks) == 0 {
		t.Fatal("no chunks returned")
	}
	if !strings.Contains(result.Chunks[0].Content, "Revenue grew") {
		t.Errorf("top chunk = %q, want the revenue chunk", result.Chunks[0].Content)
	}
	if result.TraceID == "" {
		t.Error("result missing trace id")
	}
}

func TestQueryCachesResults(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), Deps{})
	ctx := context.Background()
	if _, err := p.Ingest(ctx, "report", corpusChunks()); err != nil {
		t.Fatal(err)
	}

	first, err := p.Query(ctx, "revenue growth")
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Query(ctx, "revenue growth")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("second query missed the cache")
	}
}

func TestIngestInvalidatesCache(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), Deps{})
	ctx := context.Background()
	if _, err := p.Ingest(ctx, "report", corpusChunks()); err != nil {
		t.Fatal(err)
	}
	first, err := p.Query(ctx, "revenue growth")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Ingest(ctx, "report", corpusChunks()); err != nil {
		t.Fatal(err)
	}
	second, err := p.Query(ctx, "revenue growth")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("cache survived re-ingestion")
	}
}

func TestQueryWithoutIndexDegrades(t *testing.T) {
	// No ANN index and no fallback store: the query comes back empty
	// instead of failing.
	deps := Deps{Embedder: testEmbedder(t, &topicBackend{})}
	p := New(DefaultConfig(), deps)

	result, err := p.Query(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(result.Chunks) != 0 {
		t.Errorf("got %d chunks from an empty pipeline", len(result.Chunks))
	}
}

func TestAnswer(t *testing.T) {
	chat := &scriptedChat{answer: "Revenue grew 10% (report.txt p. 1)."}
	deps := Deps{
		Answerer: llm.NewWithCompleter(chat, []string{"m1"}, 0.3, 0),
	}
	p := newTestPipeline(t, DefaultConfig(), deps)
	ctx := context.Background()
	if _, err := p.Ingest(ctx, "report", corpusChunks()); err != nil {
		t.Fatal(err)
	}

	result, err := p.Answer(ctx, "what was the revenue growth")
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if !strings.Contains(result.Answer, "10%") {
		t.Errorf("answer = %q", result.Answer)
	}
}

func TestAnswerNoContext(t *testing.T) {
	chat := &scriptedChat{answer: "should not be called"}
	deps := Deps{
		Embedder: testEmbedder(t, &topicBackend{}),
		Answerer: llm.NewWithCompleter(chat, []string{"m1"}, 0.3, 0),
	}
	p := New(DefaultConfig(), deps)

	result, err := p.Answer(context.Background(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Answer, "No relevant documents") {
		t.Errorf("answer = %q, want the no-context response", result.Answer)
	}
}

func TestAnswerDegradesOnModelFailure(t *testing.T) {
	chat := &scriptedChat{err: errors.New("all models down")}
	deps := Deps{
		Answerer: llm.NewWithCompleter(chat, []string{"m1"}, 0.3, 0),
	}
	p := newTestPipeline(t, DefaultConfig(), deps)
	ctx := context.Background()
	if _, err := p.Ingest(ctx, "report", corpusChunks()); err != nil {
		t.Fatal(err)
	}

	result, err := p.Answer(ctx, "revenue growth")
	if err != nil {
		t.Fatalf("Answer() error: %v, want degradation", err)
	}
	if result.Answer == "" {
		t.Error("no fallback answer")
	}
	if len(result.Chunks) == 0 {
		t.Error("context lost on answer failure")
	}
}

func TestIngestPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.SaveDelay = 10 * time.Millisecond

	p := newTestPipeline(t, cfg, Deps{})
	ctx := context.Background()
	if _, err := p.Ingest(ctx, "report", corpusChunks()); err != nil {
		t.Fatal(err)
	}
	p.Flush()

	if !ann.Exists(dir, "report") {
		t.Fatal("index not saved after Flush")
	}

	// A fresh pipeline picks the corpus up from disk.
	fresh := newTestPipeline(t, cfg, Deps{})
	if err := fresh.LoadCorpus("report"); err != nil {
		t.Fatalf("LoadCorpus() error: %v", err)
	}
	result, err := fresh.Query(ctx, "revenue growth")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Chunks) == 0 {
		t.Error("reloaded corpus returned nothing")
	}
}

func TestLoadCorpusCorruptIndexIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.SaveDelay = 10 * time.Millisecond

	p := newTestPipeline(t, cfg, Deps{})
	ctx := context.Background()
	if _, err := p.Ingest(ctx, "report", corpusChunks()); err != nil {
		t.Fatal(err)
	}
	p.Flush()

	// Damage the saved graph. Loading must degrade to an index miss,
	// never abort the caller.
	graph := filepath.Join(dir, "report", "hnsw_index.bin")
	if err := os.WriteFile(graph, []byte("not a graph"), 0o644); err != nil {
		t.Fatal(err)
	}

	fresh := newTestPipeline(t, cfg, Deps{})
	if err := fresh.LoadCorpus("report"); err != nil {
		t.Errorf("LoadCorpus() error: %v, want corrupt artifacts treated as a miss", err)
	}
	if _, err := fresh.Query(ctx, "revenue growth"); err != nil {
		t.Errorf("Query() after corrupt load: %v", err)
	}
}

func TestQueryCacheScopedToCorpus(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), Deps{})
	ctx := context.Background()
	if _, err := p.Ingest(ctx, "report", corpusChunks()); err != nil {
		t.Fatal(err)
	}
	first, err := p.Query(ctx, "revenue growth")
	if err != nil {
		t.Fatal(err)
	}

	if err := p.LoadCorpus("handbook"); err != nil {
		t.Fatal(err)
	}
	second, err := p.Query(ctx, "revenue growth")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("cache served a result computed for the previous corpus")
	}
}

func TestCorpusIDConcurrentWithIngest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.SaveDelay = time.Millisecond
	p := newTestPipeline(t, cfg, Deps{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = p.CorpusID()
			}
		}()
	}
	for i := 0; i < 3; i++ {
		if _, err := p.Ingest(ctx, fmt.Sprintf("corpus-%d", i), corpusChunks()); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	p.Flush()

	if got := p.CorpusID(); got != "corpus-2" {
		t.Errorf("CorpusID() = %q, want corpus-2", got)
	}
}

func TestLoadCorpusMissingIsNotFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	p := newTestPipeline(t, cfg, Deps{})

	if err := p.LoadCorpus("never-ingested"); err != nil {
		t.Errorf("LoadCorpus() error: %v, want nil for a missing corpus", err)
	}
}

func TestDebouncer(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	d := NewDebouncer(20*time.Millisecond, func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	d.Trigger()
	d.Trigger()
	d.Trigger()
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 1 {
		t.Errorf("calls = %d, want a burst coalesced to 1", got)
	}
}

func TestDebouncerFlush(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	d := NewDebouncer(time.Hour, func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	d.Trigger()
	d.Flush()
	d.Flush() // nothing pending, no extra call

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestDebouncerStop(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	d := NewDebouncer(10*time.Millisecond, func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	d.Trigger()
	d.Stop()
	d.Trigger()
	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 0 {
		t.Errorf("calls = %d after Stop, want 0", got)
	}
}

func TestRankCallerSuppliedCandidates(t *testing.T) {
	p := newTestPipeline(t, Config{TopK: 2}, Deps{})

	candidates := []*store.Chunk{
		store.NewChunk("Revenue grew 10% in the third quarter.", "report.txt p. 1"),
		store.NewChunk("Revenue grew 10% in the third quarter.", "copy.txt p. 1"), // exact duplicate
		store.NewChunk("Costs fell 5% over the same period.", "report.txt p. 3"),
		store.NewChunk("The cafeteria menu was updated.", "report.txt p. 4"),
	}

	ranked := p.Rank(context.Background(), "revenue growth", candidates)
	if len(ranked) != 2 {
		t.Fatalf("got %d chunks, want 2", len(ranked))
	}
	for _, c := range ranked {
		if c.Source == "copy.txt p. 1" {
			t.Error("duplicate candidate survived ranking")
		}
	}
}
