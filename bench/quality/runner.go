package quality

import (
	"context"
	"time"

	"docrag/pkg/store"
)

// SearchFunc runs one query through a retrieval system and returns its
// ranked chunks. The pipeline's Query method satisfies this after a
// small wrapper.
type SearchFunc func(ctx context.Context, query string) ([]*store.Chunk, error)

// Runner replays an evaluation dataset through named retrieval systems
// so their rankings can be compared, for example retrieval-only against
// the full rerank pipeline.
type Runner struct {
	systems map[string]SearchFunc
	order   []string
}

// NewRunner creates an evaluation runner.
func NewRunner() *Runner {
	return &Runner{systems: make(map[string]SearchFunc)}
}

// AddSystem registers a retrieval system under a name. Registration
// order is preserved in the report.
func (r *Runner) AddSystem(name string, fn SearchFunc) {
	if _, ok := r.systems[name]; !ok {
		r.order = append(r.order, name)
	}
	r.systems[name] = fn
}

// EvaluateQuery runs one query through one system and computes metrics.
func (r *Runner) EvaluateQuery(ctx context.Context, system string, query *QueryCase) (*EvalResult, error) {
	fn, ok := r.systems[system]
	if !ok {
		return nil, nil
	}

	start := time.Now()
	chunks, err := fn(ctx, query.Query)
	elapsed := time.Since(start)
	if err != nil {
		// Score the empty ranking so a failing system still appears
		// in the report instead of silently vanishing.
		chunks = nil
	}

	eval := ComputeAllMetrics(toItems(chunks), query)
	eval.System = system
	eval.LatencyMs = float64(elapsed.Milliseconds())
	return eval, nil
}

// RunDataset evaluates all queries in a dataset against every
// registered system.
func (r *Runner) RunDataset(ctx context.Context, ds *Dataset) (*Report, error) {
	report := &Report{
		Dataset:   ds.Name,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Systems:   append([]string(nil), r.order...),
	}

	perSystem := make(map[string][]EvalResult)

	for i := range ds.Queries {
		query := &ds.Queries[i]
		for _, name := range r.order {
			eval, err := r.EvaluateQuery(ctx, name, query)
			if err != nil || eval == nil {
				continue
			}
			report.Results = append(report.Results, *eval)
			perSystem[name] = append(perSystem[name], *eval)
		}
	}

	for _, name := range r.order {
		if results := perSystem[name]; len(results) > 0 {
			report.Summaries = append(report.Summaries, AggregateSummary(name, results))
		}
	}

	return report, nil
}

func toItems(chunks []*store.Chunk) []RetrievedItem {
	items := make([]RetrievedItem, 0, len(chunks))
	for _, c := range chunks {
		if c == nil {
			continue
		}
		item := RetrievedItem{Source: c.Source}
		if c.HasScore(store.ScoreHybrid) {
			item.Score = c.Score(store.ScoreHybrid)
		} else if c.HasScore(store.ScoreSimilarity) {
			item.Score = c.Score(store.ScoreSimilarity)
		}
		items = append(items, item)
	}
	return items
}
