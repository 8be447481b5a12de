package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ScoreKind identifies which pipeline stage produced a score.
type ScoreKind string

const (
	ScoreSimilarity      ScoreKind = "similarity"
	ScoreLateInteraction ScoreKind = "late_interaction"
	ScoreCrossEncoder    ScoreKind = "cross_encoder"
	ScoreHybrid          ScoreKind = "hybrid"
)

// Chunk is a unit of retrievable text. Content is immutable after creation;
// pipeline stages annotate chunks with scores but never rewrite content.
// Each stage writes only its own ScoreKind, so scores from different stages
// remain independently readable.
type Chunk struct {
	Content string `json:"content"`
	Source  string `json:"source"`

	// Embedding is the pooled semantic vector, set once computed.
	Embedding []float32 `json:"embedding,omitempty"`

	// TokenEmbeddings holds per-segment vectors for late-interaction
	// scoring. Absent unless token encoding was requested at ingestion.
	TokenEmbeddings [][]float32 `json:"token_embeddings,omitempty"`

	Scores map[ScoreKind]float64 `json:"scores,omitempty"`
}

// NewChunk creates a chunk with normalized content. Returns nil for
// whitespace-only content; empty chunks are dropped upstream.
func NewChunk(content, source string) *Chunk {
	content = NormalizeContent(content)
	if content == "" {
		return nil
	}
	return &Chunk{Content: content, Source: source}
}

// NormalizeContent is the canonical normalization applied before hashing.
// Identical content after normalization always maps to the same cache entry.
func NormalizeContent(s string) string {
	return strings.TrimSpace(s)
}

// ContentHash returns the content-addressed key for this chunk.
func (c *Chunk) ContentHash() string {
	return HashContent(c.Content)
}

// HashContent hashes normalized text for content addressing.
// The 16-hex-char prefix keeps filenames short while staying collision-safe
// for corpus-scale cardinality.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])[:16]
}

// SetScore records a stage's score annotation.
func (c *Chunk) SetScore(kind ScoreKind, v float64) {
	if c.Scores == nil {
		c.Scores = make(map[ScoreKind]float64, 4)
	}
	c.Scores[kind] = v
}

// Score returns a stage's score, or 0 when that stage never ran.
func (c *Chunk) Score(kind ScoreKind) float64 {
	return c.Scores[kind]
}

// HasScore reports whether a stage has annotated this chunk.
func (c *Chunk) HasScore(kind ScoreKind) bool {
	_, ok := c.Scores[kind]
	return ok
}

// HasTokens reports whether token-level vectors are available.
func (c *Chunk) HasTokens() bool {
	return len(c.TokenEmbeddings) > 0
}
