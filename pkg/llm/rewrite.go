package llm

import (
	"context"
	"fmt"
	"strings"

	"docrag/pkg/util"
)

// Intent classifies what kind of answer a query is after. It steers the
// rewrite prompt.
type Intent string

const (
	IntentStatistical Intent = "statistical"
	IntentCausal      Intent = "causal"
	IntentComparative Intent = "comparative"
	IntentFactual     Intent = "factual"
)

// ClassifyIntent buckets a query by keyword heuristics.
func ClassifyIntent(query string) Intent {
	lower := strings.ToLower(query)
	switch {
	case containsAny(lower, "how many", "total", "count", "amount"):
		return IntentStatistical
	case containsAny(lower, "why", "cause", "reason"):
		return IntentCausal
	case containsAny(lower, "compare", "difference", "trend"):
		return IntentComparative
	default:
		return IntentFactual
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Rewriter expands vague queries into retrieval-friendly ones. It is
// strictly best effort: any failure returns the original query.
type Rewriter struct {
	client *Client
}

// NewRewriter creates a rewriter. A nil client disables rewriting.
func NewRewriter(client *Client) *Rewriter {
	return &Rewriter{client: client}
}

const rewriteExamples = `Q: Show me the results.
Rewritten: What are the financial metrics for Q4 2023 in the uploaded reports?
Q: How was it last year?
Rewritten: What was the revenue in FY2022 according to the annual summary PDF?
Q: Compare performance.
Rewritten: How did customer acquisition cost (CAC) change between Q1 and Q2?`

// Rewrite returns a sharper version of query, or the query unchanged when
// rewriting is disabled or fails.
func (r *Rewriter) Rewrite(ctx context.Context, query string) string {
	if r == nil || r.client == nil || strings.TrimSpace(query) == "" {
		return query
	}

	prompt := fmt.Sprintf(`You are a retrieval expert. Rewrite the user question to optimize retrieval from uploaded documents. Keep it a single question.

Examples:
%s

Intent: %s

Current Query: %s

Rewritten:`, rewriteExamples, ClassifyIntent(query), query)

	rewritten, err := r.client.Complete(ctx, prompt)
	if err != nil {
		util.Debugf(util.DebugSummary, "llm: query rewrite failed, using original: %v", err)
		return query
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return query
	}
	return rewritten
}
