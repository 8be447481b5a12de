package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"docrag/pkg/store"
	"docrag/pkg/util"
)

// TextEmbedder embeds plain texts. Satisfied by embed.Embedder.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// LateScorer implements ColBERT-style late interaction scoring. Instead of
// a single-vector comparison it matches each query term against every
// document segment and sums the per-term maxima, which rewards documents
// covering all aspects of the query.
type LateScorer struct {
	embedder TextEmbedder

	// Weight of the late interaction score in the hybrid blend. The
	// remainder goes to the prior similarity score.
	Weight float64
}

// NewLateScorer creates a scorer with the default 0.7 late weight.
func NewLateScorer(embedder TextEmbedder) *LateScorer {
	return &LateScorer{embedder: embedder, Weight: 0.7}
}

// EncodeChunks attaches token embeddings to every chunk that has content.
// Chunks that fail to encode keep going with single-vector scoring only.
func (s *LateScorer) EncodeChunks(ctx context.Context, chunks []*store.Chunk) {
	encoded := 0
	for _, c := range chunks {
		segments := segmentText(c.Content)
		if len(segments) == 0 {
			continue
		}
		embs, err := s.embedder.EmbedTexts(ctx, segments)
		if err != nil {
			util.Debugf(util.DebugDetailed, "late: encoding %q failed: %v", c.Source, err)
			continue
		}
		c.TokenEmbeddings = embs
		encoded++
	}
	util.Debugf(util.DebugSummary, "late: encoded %d/%d chunks", encoded, len(chunks))
}

// EncodeQuery embeds the query's decomposed terms.
func (s *LateScorer) EncodeQuery(ctx context.Context, query string) ([][]float32, error) {
	terms := DecomposeQuery(query)
	if len(terms) == 0 {
		return nil, fmt.Errorf("late: empty query")
	}
	return s.embedder.EmbedTexts(ctx, terms)
}

// LateInteractionScore computes the MaxSim score between query and
// document token matrices: for each query token take the best match among
// document tokens, then sum. Both sides are compared with cosine
// similarity, so the result grows with query length but not document
// length.
func LateInteractionScore(queryTokens, docTokens [][]float32) float64 {
	if len(queryTokens) == 0 || len(docTokens) == 0 {
		return 0
	}
	var total float64
	for _, q := range queryTokens {
		best := -1.0
		for _, d := range docTokens {
			if sim := CosineSimilarity(q, d); sim > best {
				best = sim
			}
		}
		if best > 0 {
			total += best
		}
	}
	return total
}

// RankHybrid scores chunks with late interaction, blends with the prior
// similarity score, and returns the top k by the blended score. Chunks
// without token embeddings fall back to comparing the pooled query vector
// against their single embedding; chunks with neither score 0 on the late
// component. The late scores are max-normalized across the batch before
// blending so the two components share a scale.
func (s *LateScorer) RankHybrid(ctx context.Context, query string, chunks []*store.Chunk, k int) []*store.Chunk {
	if len(chunks) == 0 {
		return chunks
	}

	queryTokens, err := s.EncodeQuery(ctx, query)
	if err != nil {
		util.Debugf(util.DebugSummary, "late: query encoding failed, keeping input order: %v", err)
		if k < len(chunks) {
			return chunks[:k]
		}
		return chunks
	}
	pooled := meanVector(queryTokens)

	late := make([]float64, len(chunks))
	maxLate := 0.0
	for i, c := range chunks {
		switch {
		case c.HasTokens():
			late[i] = LateInteractionScore(queryTokens, c.TokenEmbeddings)
		case len(c.Embedding) > 0:
			late[i] = CosineSimilarity(pooled, c.Embedding)
		}
		if late[i] > maxLate {
			maxLate = late[i]
		}
	}

	for i, c := range chunks {
		norm := late[i]
		if maxLate > 0 {
			norm = late[i] / maxLate
		}
		c.SetScore(store.ScoreLateInteraction, norm)
		hybrid := s.Weight*norm + (1-s.Weight)*c.Score(store.ScoreSimilarity)
		c.SetScore(store.ScoreHybrid, hybrid)
	}

	ranked := make([]*store.Chunk, len(chunks))
	copy(ranked, chunks)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score(store.ScoreHybrid) > ranked[j].Score(store.ScoreHybrid)
	})
	if k > 0 && k < len(ranked) {
		ranked = ranked[:k]
	}
	return ranked
}

// DecomposeQuery splits a query into semantic units for late interaction:
// the full query, then bigrams and key terms for longer queries or bare
// words for short ones. Capped at 8 terms to bound embedding calls.
func DecomposeQuery(query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	terms := []string{query}
	words := tokenize(query)

	if len(words) <= 3 {
		for _, w := range words {
			if len(w) > 2 && !isStopWord(w) {
				terms = append(terms, w)
			}
		}
	} else {
		for i := 0; i < len(words)-1; i++ {
			if !isStopWord(words[i]) || !isStopWord(words[i+1]) {
				terms = append(terms, words[i]+" "+words[i+1])
			}
		}
		for _, w := range words {
			if len(w) > 3 && !isStopWord(w) {
				terms = append(terms, w)
			}
		}
	}

	seen := make(map[string]bool)
	unique := terms[:0]
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			unique = append(unique, t)
		}
	}
	if len(unique) > 8 {
		unique = unique[:8]
	}
	return unique
}

// segmentText splits prose into sentence-grouped segments of roughly 200
// characters, capped at 10 segments per chunk.
func segmentText(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var segments []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); len(s) > 10 {
			segments = append(segments, s)
		}
		current.Reset()
	}

	for _, sentence := range splitSentences(content) {
		if current.Len() > 0 && current.Len()+len(sentence) > 200 {
			flush()
		}
		current.WriteString(sentence)
		current.WriteString(" ")
	}
	flush()

	// Short chunks may produce nothing above the length floor; fall back
	// to the whole content.
	if len(segments) == 0 {
		segments = append(segments, content)
	}
	if len(segments) > 10 {
		segments = segments[:10]
	}
	return segments
}

func splitSentences(text string) []string {
	var out []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(current.String()); s != "" {
				out = append(out, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(unicode.ToLower(r))
		} else if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

func isStopWord(word string) bool {
	return stopWords[word]
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"with": true, "at": true, "by": true, "from": true, "as": true,
	"into": true, "through": true, "during": true, "before": true,
	"after": true, "above": true, "below": true, "between": true,
	"and": true, "but": true, "or": true, "nor": true, "so": true,
	"yet": true, "both": true, "either": true, "neither": true,
	"not": true, "only": true, "own": true, "same": true, "than": true,
	"too": true, "very": true, "just": true, "also": true,
	"this": true, "that": true, "these": true, "those": true,
	"i": true, "me": true, "my": true, "we": true, "our": true,
	"you": true, "your": true, "he": true, "she": true, "it": true,
	"they": true, "them": true, "their": true, "what": true, "which": true,
	"who": true, "whom": true, "where": true, "when": true, "why": true, "how": true,
}

func meanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i := range v {
			if i < len(out) {
				out[i] += v[i]
			}
		}
	}
	inv := float32(1) / float32(len(vecs))
	for i := range out {
		out[i] *= inv
	}
	return out
}
