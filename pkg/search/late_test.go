package search

import (
	"context"
	"strings"
	"testing"

	"docrag/pkg/store"
)

// wordEmbedder maps each text to a fixed vector keyed by a few topic
// words, so related texts land near each other.
type wordEmbedder struct{}

func (wordEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, 3)
		lower := strings.ToLower(text)
		if strings.Contains(lower, "revenue") {
			v[0] = 1
		}
		if strings.Contains(lower, "cost") {
			v[1] = 1
		}
		if strings.Contains(lower, "growth") || strings.Contains(lower, "grew") {
			v[2] = 1
		}
		if v[0] == 0 && v[1] == 0 && v[2] == 0 {
			v[0], v[1], v[2] = 0.1, 0.1, 0.1
		}
		out[i] = v
	}
	return out, nil
}

func TestLateInteractionScore(t *testing.T) {
	query := [][]float32{{1, 0}, {0, 1}}
	doc := [][]float32{{1, 0}, {0.6, 0.8}}

	// First query token matches doc token 0 exactly (1.0); second matches
	// doc token 1 at 0.8. MaxSim sums the per-token maxima.
	got := LateInteractionScore(query, doc)
	want := 1.8
	if got < want-1e-6 || got > want+1e-6 {
		t.Errorf("LateInteractionScore() = %f, want %f", got, want)
	}
}

func TestLateInteractionScoreEmpty(t *testing.T) {
	if got := LateInteractionScore(nil, [][]float32{{1}}); got != 0 {
		t.Errorf("empty query scored %f", got)
	}
	if got := LateInteractionScore([][]float32{{1}}, nil); got != 0 {
		t.Errorf("empty doc scored %f", got)
	}
}

func TestLateInteractionScoreIgnoresNegativeMaxima(t *testing.T) {
	query := [][]float32{{1, 0}}
	doc := [][]float32{{-1, 0}}
	if got := LateInteractionScore(query, doc); got != 0 {
		t.Errorf("anti-correlated token contributed %f, want 0", got)
	}
}

func TestDecomposeQuery(t *testing.T) {
	terms := DecomposeQuery("what was the revenue growth")
	if len(terms) == 0 {
		t.Fatal("no terms")
	}
	if terms[0] != "what was the revenue growth" {
		t.Errorf("first term = %q, want the full query", terms[0])
	}
	found := false
	for _, term := range terms {
		if term == "revenue growth" {
			found = true
		}
	}
	if !found {
		t.Errorf("bigram missing from %v", terms)
	}
	if len(terms) > 8 {
		t.Errorf("got %d terms, cap is 8", len(terms))
	}
}

func TestDecomposeQueryShort(t *testing.T) {
	terms := DecomposeQuery("revenue growth")
	if terms[0] != "revenue growth" {
		t.Errorf("first term = %q", terms[0])
	}
	if len(terms) != 3 {
		t.Errorf("terms = %v, want full query plus both words", terms)
	}
}

func TestDecomposeQueryEmpty(t *testing.T) {
	if terms := DecomposeQuery("  "); terms != nil {
		t.Errorf("DecomposeQuery(blank) = %v, want nil", terms)
	}
}

func TestSegmentText(t *testing.T) {
	text := "Revenue grew ten percent. Costs fell five percent. Margins improved."
	segments := segmentText(text)
	if len(segments) == 0 {
		t.Fatal("no segments")
	}
	for _, s := range segments {
		if strings.TrimSpace(s) == "" {
			t.Error("blank segment")
		}
	}

	if got := segmentText("   "); got != nil {
		t.Errorf("segmentText(blank) = %v", got)
	}
	// Short content still yields the whole text as one segment.
	if got := segmentText("Q3 up"); len(got) != 1 || got[0] != "Q3 up" {
		t.Errorf("short content segments = %v", got)
	}
}

func TestRankHybrid(t *testing.T) {
	s := NewLateScorer(wordEmbedder{})
	ctx := context.Background()

	relevant := &store.Chunk{Content: "Revenue grew ten percent this quarter.", Source: "a"}
	offTopic := &store.Chunk{Content: "The office moved to a new building.", Source: "b"}
	chunks := []*store.Chunk{offTopic, relevant}
	s.EncodeChunks(ctx, chunks)

	ranked := s.RankHybrid(ctx, "revenue growth", chunks, 2)
	if len(ranked) != 2 {
		t.Fatalf("got %d results", len(ranked))
	}
	if ranked[0].Source != "a" {
		t.Errorf("top result = %q, want the revenue chunk", ranked[0].Source)
	}
	for _, c := range ranked {
		if !c.HasScore(store.ScoreLateInteraction) || !c.HasScore(store.ScoreHybrid) {
			t.Errorf("chunk %q missing score annotations", c.Source)
		}
	}
}

func TestRankHybridBlendsPriorScore(t *testing.T) {
	s := NewLateScorer(wordEmbedder{})

	c := &store.Chunk{Content: "Revenue grew.", Source: "a"}
	c.SetScore(store.ScoreSimilarity, 0.5)
	chunks := []*store.Chunk{c}
	s.EncodeChunks(context.Background(), chunks)

	ranked := s.RankHybrid(context.Background(), "revenue", chunks, 1)
	// Single chunk: its late score max-normalizes to 1, so the blend is
	// 0.7*1 + 0.3*0.5.
	want := 0.7 + 0.3*0.5
	got := ranked[0].Score(store.ScoreHybrid)
	if got < want-1e-6 || got > want+1e-6 {
		t.Errorf("hybrid score = %f, want %f", got, want)
	}
}

func TestRankHybridFallsBackToPooledEmbedding(t *testing.T) {
	s := NewLateScorer(wordEmbedder{})

	// No token embeddings: the chunk's single embedding is compared to
	// the mean query vector instead.
	c := &store.Chunk{Content: "Revenue grew.", Source: "a", Embedding: []float32{1, 0, 0.5}}
	ranked := s.RankHybrid(context.Background(), "revenue", []*store.Chunk{c}, 1)
	if ranked[0].Score(store.ScoreLateInteraction) <= 0 {
		t.Error("pooled fallback produced no late score")
	}
}

func TestRankHybridTruncates(t *testing.T) {
	s := NewLateScorer(wordEmbedder{})
	chunks := []*store.Chunk{
		{Content: "Revenue grew.", Source: "a"},
		{Content: "Costs fell.", Source: "b"},
		{Content: "Margins improved.", Source: "c"},
	}
	s.EncodeChunks(context.Background(), chunks)
	if got := s.RankHybrid(context.Background(), "revenue", chunks, 2); len(got) != 2 {
		t.Errorf("got %d results, want 2", len(got))
	}
}
