// Package quality provides IR-style evaluation for document retrieval.
// A dataset pairs queries with graded relevance judgments over chunk
// sources; the runner replays the queries through one or more retrieval
// systems and reports ranking metrics.
package quality

import (
	"encoding/json"
	"os"
)

// Relevance represents graded relevance judgments for retrieved chunks.
type Relevance int

const (
	RelNone           Relevance = 0 // Not relevant
	RelRelevant       Relevance = 1 // Relevant (supporting context)
	RelHighlyRelevant Relevance = 2 // Highly relevant (answers the query)
)

// LabeledResult represents a chunk source with its relevance judgment.
type LabeledResult struct {
	Source string    `json:"source"` // e.g. "report p. 3"
	Rel    Relevance `json:"rel"`    // Relevance grade (0/1/2)
}

// QueryCase represents a single evaluation query with ground truth.
type QueryCase struct {
	Query     string          `json:"query"`
	Judgments []LabeledResult `json:"judgments"`
	Category  string          `json:"category,omitempty"` // e.g. "factual", "comparison", "summary"
}

// Dataset represents a complete evaluation dataset.
type Dataset struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Corpus      string      `json:"corpus"` // Corpus identifier the judgments were made against
	Queries     []QueryCase `json:"queries"`
}

// RetrievedItem is one ranked result from a retrieval system.
type RetrievedItem struct {
	Source string  `json:"source"`
	Score  float64 `json:"score,omitempty"`
}

// EvalResult holds evaluation metrics for a single query.
type EvalResult struct {
	Query         string  `json:"query"`
	System        string  `json:"system"`
	MRR           float64 `json:"mrr"`
	NDCG5         float64 `json:"ndcg@5"`
	NDCG10        float64 `json:"ndcg@10"`
	MAP           float64 `json:"map"`
	PrecisionAt5  float64 `json:"p@5"`
	PrecisionAt10 float64 `json:"p@10"`
	RecallAt5     float64 `json:"r@5"`
	RecallAt10    float64 `json:"r@10"`
	LatencyMs     float64 `json:"latency_ms"`
}

// Summary holds aggregated metrics across all queries for one system.
type Summary struct {
	System        string  `json:"system"`
	NumQueries    int     `json:"num_queries"`
	MeanMRR       float64 `json:"mean_mrr"`
	MeanNDCG5     float64 `json:"mean_ndcg@5"`
	MeanNDCG10    float64 `json:"mean_ndcg@10"`
	MeanMAP       float64 `json:"mean_map"`
	MeanP5        float64 `json:"mean_p@5"`
	MeanP10       float64 `json:"mean_p@10"`
	MeanR5        float64 `json:"mean_r@5"`
	MeanR10       float64 `json:"mean_r@10"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
}

// Report holds the complete evaluation report.
type Report struct {
	Dataset   string       `json:"dataset"`
	Timestamp string       `json:"timestamp"`
	Systems   []string     `json:"systems"`
	Results   []EvalResult `json:"results"`
	Summaries []Summary    `json:"summaries"`
}

// LoadDataset loads an evaluation dataset from a JSON file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, err
	}

	return &ds, nil
}

// SaveReport saves an evaluation report to a JSON file.
func SaveReport(path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// RelevanceMap builds a map from chunk source to relevance for lookup.
func (q *QueryCase) RelevanceMap() map[string]Relevance {
	m := make(map[string]Relevance, len(q.Judgments))
	for _, j := range q.Judgments {
		m[j.Source] = j.Rel
	}
	return m
}

// TotalRelevant returns the count of relevant items (Rel > 0).
func (q *QueryCase) TotalRelevant() int {
	count := 0
	for _, j := range q.Judgments {
		if j.Rel > RelNone {
			count++
		}
	}
	return count
}

// ToRelevances converts retrieved items to a relevance slice using
// ground truth.
func ToRelevances(results []RetrievedItem, relMap map[string]Relevance) []Relevance {
	rels := make([]Relevance, len(results))
	for i, r := range results {
		rels[i] = relMap[r.Source] // defaults to RelNone if not judged
	}
	return rels
}
