// Package rerank implements the precision stage of the pipeline: a
// cross-encoder scores query/chunk pairs over HTTP and an LLM judge picks
// the final set. Every path degrades to the input order, so a missing
// reranker never breaks a query.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"docrag/pkg/store"
	"docrag/pkg/util"
)

// CrossEncoderConfig holds cross-encoder server settings.
type CrossEncoderConfig struct {
	Endpoint string        // rerank server endpoint (default: http://localhost:8081)
	Timeout  time.Duration // request timeout (default: 30s)
}

// DefaultCrossEncoderConfig returns sensible defaults.
func DefaultCrossEncoderConfig() CrossEncoderConfig {
	return CrossEncoderConfig{
		Endpoint: "http://localhost:8081",
		Timeout:  30 * time.Second,
	}
}

// CrossEncoder scores query/document pairs via a llama.cpp style
// /v1/rerank endpoint.
type CrossEncoder struct {
	endpoint string
	client   *http.Client
}

// rerankRequest matches the llama.cpp /v1/rerank endpoint format.
type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Model   string         `json:"model"`
	Results []rerankResult `json:"results"`
}

// NewCrossEncoder creates a cross-encoder client.
func NewCrossEncoder(cfg CrossEncoderConfig) *CrossEncoder {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:8081"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CrossEncoder{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Rank scores chunks against query, annotates each with a min-max
// normalized cross-encoder score, and returns the top k sorted by it.
func (ce *CrossEncoder) Rank(ctx context.Context, query string, chunks []*store.Chunk, k int) ([]*store.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	docs := make([]string, len(chunks))
	for i, c := range chunks {
		docs[i] = c.Content
	}

	results, err := ce.rerank(ctx, query, docs)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(chunks))
	for _, r := range results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.Score
		}
	}
	minMaxNormalize(scores)

	for i, c := range chunks {
		c.SetScore(store.ScoreCrossEncoder, scores[i])
	}

	ranked := make([]*store.Chunk, len(chunks))
	copy(ranked, chunks)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score(store.ScoreCrossEncoder) > ranked[j].Score(store.ScoreCrossEncoder)
	})
	if k > 0 && k < len(ranked) {
		ranked = ranked[:k]
	}
	util.Debugf(util.DebugDetailed, "rerank: cross-encoder ranked %d chunks, kept %d", len(chunks), len(ranked))
	return ranked, nil
}

func (ce *CrossEncoder) rerank(ctx context.Context, query string, documents []string) ([]rerankResult, error) {
	reqBody, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		ce.endpoint+"/v1/rerank", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("creating rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ce.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank returned status %d: %s", resp.StatusCode, string(body))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parsing rerank response: %w", err)
	}
	return result.Results, nil
}

// minMaxNormalize scales scores into [0, 1] in place. A constant slice
// maps to all zeros.
func minMaxNormalize(scores []float64) {
	if len(scores) == 0 {
		return
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	if hi == lo {
		for i := range scores {
			scores[i] = 0
		}
		return
	}
	for i := range scores {
		scores[i] = (scores[i] - lo) / (hi - lo)
	}
}
