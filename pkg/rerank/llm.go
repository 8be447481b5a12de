package rerank

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docrag/pkg/store"
	"docrag/pkg/util"
)

// ChatCompleter is the slice of the OpenAI client the judge needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Judge asks an LLM to pick the most relevant chunks from a shortlist.
type Judge struct {
	client      ChatCompleter
	model       string
	temperature float32

	// MaxRetries bounds the exponential backoff on transient failures.
	MaxRetries int
}

// NewJudge creates a judge using the given chat client and model.
func NewJudge(client ChatCompleter, model string) *Judge {
	return &Judge{
		client:      client,
		model:       model,
		temperature: 0.1,
		MaxRetries:  2,
	}
}

const judgePromptFormat = `You are a helpful assistant selecting the most relevant text chunks for the question.

Question: %s

Chunks:
%s

Think step-by-step and list the most relevant chunks by number (e.g., 1, 3, 4).

Answer:
`

// Select asks the LLM to choose up to k chunks by relevance. The chunks
// are presented as numbered bullets truncated to 300 characters. If the
// call fails after retries or the answer contains no usable numbers the
// input order wins, truncated to k.
func (j *Judge) Select(ctx context.Context, query string, chunks []*store.Chunk, k int) []*store.Chunk {
	if len(chunks) == 0 {
		return nil
	}
	fallback := chunks
	if k > 0 && k < len(fallback) {
		fallback = fallback[:k]
	}

	var bullets strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&bullets, "%d. %s\n", i+1, truncateRunes(c.Content, 300))
	}
	prompt := fmt.Sprintf(judgePromptFormat, query, bullets.String())

	content, err := j.complete(ctx, prompt)
	if err != nil {
		util.Debugf(util.DebugSummary, "rerank: llm judge failed, keeping input order: %v", err)
		return fallback
	}

	selected := applySelection(chunks, parseSelection(content))
	if len(selected) == 0 {
		return fallback
	}
	if k > 0 && k < len(selected) {
		selected = selected[:k]
	}
	return selected
}

// complete calls the chat endpoint with exponential backoff.
func (j *Judge) complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= j.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       j.model,
			Temperature: j.temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("empty completion")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", lastErr
}

// truncateRunes cuts s to at most n runes, never splitting a multi-byte
// character.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// parseSelection extracts 1-based chunk numbers from the judge's answer.
// Any whitespace-separated integer counts; everything else is ignored.
func parseSelection(answer string) []int {
	var picked []int
	for _, field := range strings.Fields(answer) {
		field = strings.Trim(field, ".,;:()")
		n, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		picked = append(picked, n-1)
	}
	return picked
}

// applySelection maps parsed indices onto chunks, dropping out-of-range
// values and duplicates while preserving the judge's order.
func applySelection(chunks []*store.Chunk, indices []int) []*store.Chunk {
	seen := make(map[int]bool)
	var out []*store.Chunk
	for _, i := range indices {
		if i < 0 || i >= len(chunks) || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, chunks[i])
	}
	return out
}
