// Package llm wraps the chat completion API used by the answer stage and
// the query rewriter. Calls retry with exponential backoff and fall
// through an ordered model list, so one flaky model or provider does not
// fail the request.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docrag/pkg/store"
	"docrag/pkg/util"
)

// ErrNoAnswer is returned when every model failed or hedged.
var ErrNoAnswer = errors.New("llm: no confident answer from any model")

// ChatCompleter is the slice of the OpenAI client this package needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds chat API settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Models      []string // fallback order, first is preferred
	Temperature float32
	MaxRetries  int
	Timeout     time.Duration
}

// DefaultConfig reads settings from the environment. DOCRAG_LLM_BASE_URL
// points at any OpenAI-compatible endpoint (OpenRouter, llama.cpp, vLLM).
func DefaultConfig() Config {
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	model := os.Getenv("DOCRAG_LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return Config{
		BaseURL:     os.Getenv("DOCRAG_LLM_BASE_URL"),
		APIKey:      apiKey,
		Models:      []string{model},
		Temperature: 0.3,
		MaxRetries:  2,
		Timeout:     60 * time.Second,
	}
}

// Client answers questions over retrieved context.
type Client struct {
	api         ChatCompleter
	models      []string
	temperature float32
	maxRetries  int
}

// New creates a client from config.
func New(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return NewWithCompleter(openai.NewClientWithConfig(apiCfg), cfg.Models, cfg.Temperature, cfg.MaxRetries)
}

// NewWithCompleter wires a client onto an existing chat implementation.
func NewWithCompleter(api ChatCompleter, models []string, temperature float32, maxRetries int) *Client {
	if len(models) == 0 {
		models = []string{"gpt-4o-mini"}
	}
	return &Client{
		api:         api,
		models:      models,
		temperature: temperature,
		maxRetries:  maxRetries,
	}
}

const noContextAnswer = "No relevant documents found to answer the query."

// Answer generates an answer to query grounded in the given chunks. With
// no context it answers immediately without calling a model. Responses
// that hedge about missing information cause a fall through to the next
// model in the list.
func (c *Client) Answer(ctx context.Context, query string, chunks []*store.Chunk) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("llm: empty query")
	}
	if len(chunks) == 0 {
		return noContextAnswer, nil
	}

	prompt := BuildAnswerPrompt(query, chunks)

	var lastErr error
	for _, model := range c.models {
		if model == "" {
			continue
		}
		response, err := c.complete(ctx, model, prompt)
		if err != nil {
			util.Debugf(util.DebugSummary, "llm: model %s failed: %v", model, err)
			lastErr = err
			continue
		}
		if hedges(response) {
			util.Debugf(util.DebugSummary, "llm: model %s hedged, trying next", model)
			continue
		}
		return response, nil
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrNoAnswer, lastErr)
	}
	return "", ErrNoAnswer
}

// Complete runs a single prompt through the model list with retries.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for _, model := range c.models {
		if model == "" {
			continue
		}
		response, err := c.complete(ctx, model, prompt)
		if err != nil {
			lastErr = err
			continue
		}
		return response, nil
	}
	if lastErr == nil {
		lastErr = ErrNoAnswer
	}
	return "", lastErr
}

func (c *Client) complete(ctx context.Context, model, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       model,
			Temperature: c.temperature,
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

// BuildAnswerPrompt formats chunks as source-tagged context blocks,
// highest ranked first, followed by the question.
func BuildAnswerPrompt(query string, chunks []*store.Chunk) string {
	ordered := make([]*store.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rankScore(ordered[i]) > rankScore(ordered[j])
	})

	var context strings.Builder
	for _, c := range ordered {
		fmt.Fprintf(&context, "### Source: %s\n%s\n\n", sourceLabel(c), strings.TrimSpace(c.Content))
	}

	return fmt.Sprintf(`Answer the following question using the provided context below. Think step by step and explain your reasoning clearly. Cite the sources you used.

Context:
%s
Question: %s

Answer:`, context.String(), query)
}

// rankScore picks the most refined score a chunk carries.
func rankScore(c *store.Chunk) float64 {
	for _, kind := range []store.ScoreKind{
		store.ScoreCrossEncoder,
		store.ScoreHybrid,
		store.ScoreLateInteraction,
		store.ScoreSimilarity,
	} {
		if c.HasScore(kind) {
			return c.Score(kind)
		}
	}
	return 0
}

func sourceLabel(c *store.Chunk) string {
	if c.Source == "" {
		return "unknown"
	}
	return c.Source
}

// hedges reports whether a response admits it found nothing. Such answers
// are treated as failures so another model gets a chance.
func hedges(response string) bool {
	lower := strings.ToLower(response)
	for _, flag := range []string{
		"i'm not sure",
		"i cannot find",
		"no information",
		"not available",
	} {
		if strings.Contains(lower, flag) {
			return true
		}
	}
	return false
}
