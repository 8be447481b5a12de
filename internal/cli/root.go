// Package cli implements the docrag command line interface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docrag"
	"docrag/pkg/config"
	"docrag/pkg/util"
)

var (
	flagConfig  string
	flagCorpus  string
	flagTopK    int
	flagJSON    bool
	flagNoLLM   bool
	flagVerbose int
)

var rootCmd = &cobra.Command{
	Use:   "docrag [query]",
	Short: "Question answering over local documents",
	Long: `docrag indexes local documents and answers questions about them.

Ingest a document or directory first, then ask questions:

  docrag ingest ./reports
  docrag --corpus reports "what was the revenue growth in Q3"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := args[0]
		for _, a := range args[1:] {
			query += " " + a
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if flagCorpus != "" {
			if err := client.LoadCorpus(flagCorpus); err != nil {
				return fmt.Errorf("loading corpus %q: %w", flagCorpus, err)
			}
		}

		ctx := cmd.Context()
		var result *docrag.Result
		if flagNoLLM {
			result, err = client.Query(ctx, query)
		} else {
			result, err = client.Answer(ctx, query)
		}
		if err != nil {
			return err
		}
		return output(result)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Parse and index a document or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		path := args[0]
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			err = client.IngestDir(cmd.Context(), path)
		} else {
			err = client.IngestFile(cmd.Context(), path)
		}
		if err != nil {
			return err
		}

		s := client.Status(cmd.Context())
		fmt.Printf("Indexed %d chunks as corpus %q\n", s.IndexedChunks, s.CorpusID)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Index a directory and re-index documents as they change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Watching %s (ctrl-c to stop)\n", args[0])
		return client.Watch(ctx, args[0])
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index and store statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if flagCorpus != "" {
			if err := client.LoadCorpus(flagCorpus); err != nil {
				return fmt.Errorf("loading corpus %q: %w", flagCorpus, err)
			}
		}

		s := client.Status(cmd.Context())
		if flagJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		fmt.Printf("Corpus:         %s\n", orNone(s.CorpusID))
		fmt.Printf("Indexed chunks: %d\n", s.IndexedChunks)
		if s.StoreReady {
			fmt.Printf("Stored chunks:  %d\n", s.StoredChunks)
		} else {
			fmt.Println("Fallback store: unavailable")
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all indexed data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Cleared index data")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&flagCorpus, "corpus", "c", "", "corpus to load before querying")
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "debug output (repeat for more)")
	rootCmd.Flags().IntVarP(&flagTopK, "top-k", "n", 0, "number of chunks to retrieve")
	rootCmd.Flags().BoolVar(&flagJSON, "json", false, "emit JSON")
	rootCmd.Flags().BoolVar(&flagNoLLM, "no-answer", false, "retrieve context only, skip answer generation")
	statusCmd.Flags().BoolVar(&flagJSON, "json", false, "emit JSON")

	rootCmd.AddCommand(ingestCmd, watchCmd, statusCmd, clearCmd)
}

func newClient() (*docrag.Client, error) {
	util.SetDebugLevel(util.DebugLevel(flagVerbose))

	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if flagTopK > 0 {
		cfg.TopK = flagTopK
	}
	return docrag.New(cfg)
}

func output(r *docrag.Result) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	if r.Answer != "" {
		fmt.Println(r.Answer)
		fmt.Println()
	}
	if len(r.Chunks) == 0 {
		fmt.Println("No matching documents.")
		return nil
	}
	fmt.Println("Sources:")
	for _, c := range r.Chunks {
		fmt.Printf("  %s\n", c.Source)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}
