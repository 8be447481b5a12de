package search

import (
	"context"
	"errors"
	"testing"

	"docrag/pkg/store"
)

type fakeAnn struct {
	ready   bool
	results []*store.Chunk
	calls   int
}

func (f *fakeAnn) Ready() bool { return f.ready }
func (f *fakeAnn) Search(_ []float32, _ int) []*store.Chunk {
	f.calls++
	return f.results
}

type fakeBackend struct {
	vecResults []*store.Chunk
	txtResults []*store.Chunk
	vecErr     error
	txtErr     error
	vecCalls   int
	txtCalls   int
}

func (f *fakeBackend) SearchVector(_ context.Context, _ []float32, _ int) ([]*store.Chunk, error) {
	f.vecCalls++
	return f.vecResults, f.vecErr
}

func (f *fakeBackend) SearchText(_ context.Context, _ string, _ int) ([]*store.Chunk, error) {
	f.txtCalls++
	return f.txtResults, f.txtErr
}

type fakeQueryEmbedder struct{ err error }

func (f fakeQueryEmbedder) EmbedText(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

func TestRetrievePrefersAnn(t *testing.T) {
	ann := &fakeAnn{ready: true, results: []*store.Chunk{{Content: "from ann", Source: "a"}}}
	backend := &fakeBackend{vecResults: []*store.Chunk{{Content: "from store", Source: "b"}}}
	r := NewRetriever(fakeQueryEmbedder{}, ann, backend)

	got, err := r.Retrieve(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(got) != 1 || got[0].Content != "from ann" {
		t.Errorf("got %v, want the ann result", got)
	}
	if backend.vecCalls != 0 || backend.txtCalls != 0 {
		t.Error("backend queried despite ann hit")
	}
}

func TestRetrieveFallsBackWhenAnnEmpty(t *testing.T) {
	ann := &fakeAnn{ready: true, results: nil}
	backend := &fakeBackend{
		vecResults: []*store.Chunk{{Content: "vector hit", Source: "v"}},
		txtResults: []*store.Chunk{{Content: "text hit", Source: "t"}},
	}
	r := NewRetriever(fakeQueryEmbedder{}, ann, backend)

	got, err := r.Retrieve(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	// Vector results order before lexical ones.
	if got[0].Content != "vector hit" || got[1].Content != "text hit" {
		t.Errorf("merge order wrong: %q, %q", got[0].Content, got[1].Content)
	}
}

func TestRetrieveFallsBackWhenAnnUnbuilt(t *testing.T) {
	ann := &fakeAnn{ready: false}
	backend := &fakeBackend{txtResults: []*store.Chunk{{Content: "text hit", Source: "t"}}}
	r := NewRetriever(fakeQueryEmbedder{}, ann, backend)

	got, err := r.Retrieve(context.Background(), "query", 5)
	if err != nil {
		t.Fatal(err)
	}
	if ann.calls != 0 {
		t.Error("unbuilt ann index was searched")
	}
	if len(got) == 0 {
		t.Error("fallback returned nothing")
	}
}

func TestRetrieveDeduplicatesMerged(t *testing.T) {
	same := "quarterly revenue grew"
	backend := &fakeBackend{
		vecResults: []*store.Chunk{{Content: same, Source: "v"}},
		txtResults: []*store.Chunk{{Content: same, Source: "t"}},
	}
	r := NewRetriever(fakeQueryEmbedder{}, nil, backend)

	got, err := r.Retrieve(context.Background(), "query", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results, want duplicates merged to 1", len(got))
	}
	if got[0].Source != "v" {
		t.Errorf("kept %q, want the vector hit (first occurrence)", got[0].Source)
	}
}

func TestRetrieveEmbedderDownUsesLexicalOnly(t *testing.T) {
	backend := &fakeBackend{txtResults: []*store.Chunk{{Content: "text hit", Source: "t"}}}
	r := NewRetriever(fakeQueryEmbedder{err: errors.New("down")}, nil, backend)

	got, err := r.Retrieve(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if backend.vecCalls != 0 {
		t.Error("vector backend queried without a query embedding")
	}
	if len(got) != 1 || got[0].Content != "text hit" {
		t.Errorf("got %v, want the lexical hit", got)
	}
}

func TestRetrieveBackendErrorsDegrade(t *testing.T) {
	backend := &fakeBackend{
		vecErr:     errors.New("vector down"),
		txtResults: []*store.Chunk{{Content: "text hit", Source: "t"}},
	}
	r := NewRetriever(fakeQueryEmbedder{}, nil, backend)

	got, err := r.Retrieve(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d results, want the surviving backend's hit", len(got))
	}
}
