package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"docrag/bench/quality"
	"docrag/pkg/store"
)

var flagEvalOut string

var evalCmd = &cobra.Command{
	Use:   "eval [dataset.json]",
	Short: "Evaluate retrieval quality against a labeled dataset",
	Long: `eval replays a dataset of queries with relevance judgments through the
retrieval pipeline and reports ranking metrics (MRR, NDCG, precision,
recall). The dataset's corpus must already be ingested.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := quality.LoadDataset(args[0])
		if err != nil {
			return fmt.Errorf("loading dataset: %w", err)
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		corpus := ds.Corpus
		if flagCorpus != "" {
			corpus = flagCorpus
		}
		if corpus != "" {
			if err := client.LoadCorpus(corpus); err != nil {
				return fmt.Errorf("loading corpus %q: %w", corpus, err)
			}
		}

		runner := quality.NewRunner()
		runner.AddSystem("docrag", func(ctx context.Context, query string) ([]*store.Chunk, error) {
			result, err := client.Query(ctx, query)
			if err != nil {
				return nil, err
			}
			return result.Chunks, nil
		})

		report, err := runner.RunDataset(cmd.Context(), ds)
		if err != nil {
			return err
		}

		for _, s := range report.Summaries {
			fmt.Printf("%s: %d queries\n", s.System, s.NumQueries)
			fmt.Printf("  MRR      %.4f\n", s.MeanMRR)
			fmt.Printf("  NDCG@5   %.4f\n", s.MeanNDCG5)
			fmt.Printf("  NDCG@10  %.4f\n", s.MeanNDCG10)
			fmt.Printf("  MAP      %.4f\n", s.MeanMAP)
			fmt.Printf("  P@5      %.4f  R@5  %.4f\n", s.MeanP5, s.MeanR5)
			fmt.Printf("  latency  %.1fms\n", s.MeanLatencyMs)
		}

		if flagEvalOut != "" {
			if err := quality.SaveReport(flagEvalOut, report); err != nil {
				return fmt.Errorf("saving report: %w", err)
			}
			fmt.Printf("Report written to %s\n", flagEvalOut)
		}
		return nil
	},
}

func init() {
	evalCmd.Flags().StringVarP(&flagEvalOut, "out", "o", "", "write full JSON report to file")
	rootCmd.AddCommand(evalCmd)
}
