package quality

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"docrag/pkg/store"
)

func chunkWithSource(source string) *store.Chunk {
	c := store.NewChunk("content for "+source, source)
	return c
}

func TestRunDataset(t *testing.T) {
	ds := &Dataset{
		Name:   "reports",
		Corpus: "annual-report",
		Queries: []QueryCase{
			{
				Query: "revenue growth",
				Judgments: []LabeledResult{
					{Source: "report p. 3", Rel: RelHighlyRelevant},
					{Source: "report p. 7", Rel: RelRelevant},
				},
			},
			{
				Query: "operating costs",
				Judgments: []LabeledResult{
					{Source: "report p. 12", Rel: RelHighlyRelevant},
				},
			},
		},
	}

	good := func(ctx context.Context, query string) ([]*store.Chunk, error) {
		if query == "revenue growth" {
			return []*store.Chunk{
				chunkWithSource("report p. 3"),
				chunkWithSource("report p. 7"),
			}, nil
		}
		return []*store.Chunk{chunkWithSource("report p. 12")}, nil
	}
	bad := func(ctx context.Context, query string) ([]*store.Chunk, error) {
		return []*store.Chunk{chunkWithSource("report p. 99")}, nil
	}

	r := NewRunner()
	r.AddSystem("full", good)
	r.AddSystem("baseline", bad)

	report, err := r.RunDataset(context.Background(), ds)
	if err != nil {
		t.Fatalf("RunDataset: %v", err)
	}

	if len(report.Results) != 4 {
		t.Fatalf("expected 4 results (2 queries x 2 systems), got %d", len(report.Results))
	}
	if len(report.Summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(report.Summaries))
	}

	var full, baseline Summary
	for _, s := range report.Summaries {
		switch s.System {
		case "full":
			full = s
		case "baseline":
			baseline = s
		}
	}

	if !floatEquals(full.MeanMRR, 1.0) {
		t.Errorf("full MeanMRR = %v, want 1.0", full.MeanMRR)
	}
	if !floatEquals(baseline.MeanMRR, 0) {
		t.Errorf("baseline MeanMRR = %v, want 0", baseline.MeanMRR)
	}
	if full.NumQueries != 2 {
		t.Errorf("full NumQueries = %d, want 2", full.NumQueries)
	}
}

func TestEvaluateQueryFailingSystem(t *testing.T) {
	r := NewRunner()
	r.AddSystem("down", func(ctx context.Context, query string) ([]*store.Chunk, error) {
		return nil, errors.New("backend unreachable")
	})

	query := &QueryCase{
		Query:     "anything",
		Judgments: []LabeledResult{{Source: "report p. 1", Rel: RelRelevant}},
	}

	eval, err := r.EvaluateQuery(context.Background(), "down", query)
	if err != nil {
		t.Fatalf("EvaluateQuery: %v", err)
	}
	if eval == nil {
		t.Fatal("expected an eval result for a failing system")
	}
	if eval.MRR != 0 || eval.RecallAt5 != 0 {
		t.Errorf("expected zero metrics for empty ranking, got MRR=%v R@5=%v", eval.MRR, eval.RecallAt5)
	}
}

func TestDatasetRoundtrip(t *testing.T) {
	ds := &Dataset{
		Name:   "reports",
		Corpus: "annual-report",
		Queries: []QueryCase{
			{
				Query:     "revenue growth",
				Category:  "factual",
				Judgments: []LabeledResult{{Source: "report p. 3", Rel: RelHighlyRelevant}},
			},
		},
	}

	path := filepath.Join(t.TempDir(), "dataset.json")
	data := `{"name":"reports","corpus":"annual-report","queries":[{"query":"revenue growth","category":"factual","judgments":[{"source":"report p. 3","rel":2}]}]}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadDataset(path)
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if loaded.Name != ds.Name || len(loaded.Queries) != 1 {
		t.Fatalf("unexpected dataset: %+v", loaded)
	}
	if loaded.Queries[0].Judgments[0].Rel != RelHighlyRelevant {
		t.Errorf("expected rel 2, got %d", loaded.Queries[0].Judgments[0].Rel)
	}

	reportPath := filepath.Join(t.TempDir(), "report.json")
	report := &Report{Dataset: "reports", Systems: []string{"full"}}
	if err := SaveReport(reportPath, report); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if _, err := os.Stat(reportPath); err != nil {
		t.Errorf("expected report file: %v", err)
	}
}
