// inkwellctl is the operator CLI: job queue inspection, offline reranking
// of candidate files, and one-shot ontology ingestion.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/embeddings"
	"github.com/inkwell-ai/inkwell/internal/ingest"
	"github.com/inkwell-ai/inkwell/internal/jobs"
	"github.com/inkwell-ai/inkwell/internal/rerank"
)

// Exit codes: 0 success, 1 database or execution error, 2 unknown command
// or bad usage.
func main() {
	root := &cobra.Command{
		Use:           "inkwellctl",
		Short:         "Operate the inkwell retrieval service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(jobsCommand(), rerankCommand(), ingestOntologyCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func openClient() (*db.Client, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	client, err := db.NewClient(cfg.Database, zap.NewNop())
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

func jobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the embedding job queue",
	}

	var format string
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Counts per job status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := openClient()
			if err != nil {
				return err
			}
			defer client.Close()
			rows, err := jobs.NewQueue(client, zap.NewNop()).Summarize(cmd.Context())
			if err != nil {
				return err
			}
			if format == "json" {
				return json.NewEncoder(os.Stdout).Encode(rows)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STATUS\tCOUNT")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%d\n", r.Status, r.Count)
			}
			return tw.Flush()
		},
	}
	summary.Flags().StringVar(&format, "format", "table", "output format: table or json")

	var (
		status       string
		limit        int
		includeError bool
		listFormat   string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := openClient()
			if err != nil {
				return err
			}
			defer client.Close()
			rows, err := jobs.NewQueue(client, zap.NewNop()).List(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			if listFormat == "json" {
				return json.NewEncoder(os.Stdout).Encode(rows)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			header := "ID\tSCOPE\tMODEL\tSTATUS\tPROGRESS\tRETRIES"
			if includeError {
				header += "\tERROR"
			}
			fmt.Fprintln(tw, header)
			for _, j := range rows {
				line := fmt.Sprintf("%s\t%s/%s\t%s\t%s\t%.0f%%\t%d",
					j.ID, j.SourceType, j.SourceID, j.ModelName, j.Status, j.Progress*100, j.RetryCount)
				if includeError {
					msg := ""
					if j.ErrorLog != nil {
						msg = *j.ErrorLog
					}
					line += "\t" + msg
				}
				fmt.Fprintln(tw, line)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (PENDING, RUNNING, SUCCEEDED, FAILED)")
	list.Flags().IntVar(&limit, "limit", 50, "max rows")
	list.Flags().BoolVar(&includeError, "include-error", false, "show the error column")
	list.Flags().StringVar(&listFormat, "format", "table", "output format: table or json")

	cmd.AddCommand(summary, list)
	return cmd
}

// candidatesFile is the offline rerank input.
type candidatesFile struct {
	Query      string `json:"query"`
	Candidates []struct {
		ChunkID        string                 `json:"chunk_id"`
		Text           string                 `json:"text"`
		RetrieverScore float64                `json:"retriever_score"`
		Embedding      []float32              `json:"embedding,omitempty"`
		Metadata       map[string]interface{} `json:"metadata,omitempty"`
	} `json:"candidates"`
}

// retrieverScorer replays retriever scores when no cross-encoder is
// configured; MMR still applies. The scores are aligned with the candidate
// order handed to Rerank, which forwards texts in that same order.
type retrieverScorer struct{ scores []float64 }

func (s retrieverScorer) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	if len(texts) != len(s.scores) {
		return nil, fmt.Errorf("scorer prepared for %d candidates, got %d texts", len(s.scores), len(texts))
	}
	return s.scores, nil
}

// buildCandidates converts the parsed file and pairs it with a fallback
// scorer carrying the retriever scores.
func buildCandidates(file candidatesFile) ([]rerank.Candidate, retrieverScorer) {
	cands := make([]rerank.Candidate, len(file.Candidates))
	scores := make([]float64, len(file.Candidates))
	for i, c := range file.Candidates {
		cands[i] = rerank.Candidate{
			ChunkID:        c.ChunkID,
			Text:           c.Text,
			RetrieverScore: c.RetrieverScore,
			Embedding:      c.Embedding,
			Metadata:       c.Metadata,
		}
		scores[i] = c.RetrieverScore
	}
	return cands, retrieverScorer{scores: scores}
}

func rerankCommand() *cobra.Command {
	var (
		path   string
		query  string
		topK   int
		useMMR bool
		lambda float64
	)
	cmd := &cobra.Command{
		Use:   "rerank",
		Short: "Rerank a candidates JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				return &usageError{"--candidates is required"}
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			var file candidatesFile
			if err := json.Unmarshal(raw, &file); err != nil {
				return fmt.Errorf("malformed candidates file: %w", err)
			}
			if query == "" {
				query = file.Query
			}

			cands, fallback := buildCandidates(file)

			var scorer rerank.Scorer = fallback
			if cfg, err := config.Load(); err == nil && cfg.Reranker.BaseURL != "" {
				scorer = rerank.NewHTTPScorer(cfg.Reranker.BaseURL, cfg.Reranker.Model, cfg.Reranker.Timeout)
			}

			reranked, err := rerank.New(scorer, zap.NewNop()).Rerank(cmd.Context(), query, cands, rerank.Options{
				TopK:     topK,
				ApplyMMR: useMMR,
				Lambda:   lambda,
			})
			if err != nil {
				return err
			}

			out := make([]map[string]interface{}, len(reranked))
			for i, r := range reranked {
				out[i] = map[string]interface{}{
					"chunk_id":       r.ChunkID,
					"rerank_score":   r.RerankScore,
					"combined_score": r.CombinedScore,
					"metadata":       r.Metadata,
					"rank":           r.Rank,
				}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&path, "candidates", "", "candidates JSON file")
	cmd.Flags().StringVar(&query, "query", "", "query text (defaults to the file's)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "cap the output (0 keeps all)")
	cmd.Flags().BoolVar(&useMMR, "mmr", false, "apply MMR diversification")
	cmd.Flags().Float64Var(&lambda, "lambda", 0.7, "MMR relevance/diversity tradeoff")
	return cmd
}

func ingestOntologyCommand() *cobra.Command {
	var (
		kind      string
		sourceID  string
		oboPath   string
		autoEmbed bool
	)
	cmd := &cobra.Command{
		Use:   "ingest-ontology",
		Short: "Ingest one OBO file and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if kind == "" || sourceID == "" || oboPath == "" {
				return &usageError{"--type, --source-id and --obo-path are required"}
			}
			client, cfg, err := openClient()
			if err != nil {
				return err
			}
			defer client.Close()

			var embedder ingest.UnifiedEmbedder
			if autoEmbed {
				provider := embeddings.NewHTTPProvider(
					cfg.Embeddings.BaseURL,
					cfg.Embeddings.Timeout,
					cfg.Embeddings.RatePerSecond,
					cfg.Embeddings.RateBurst,
				)
				embeddings.Initialize(embeddings.Config{
					DefaultModel: cfg.Embeddings.DefaultModel,
					CacheTTL:     cfg.Embeddings.CacheTTL,
					MaxLRU:       cfg.Embeddings.MaxLRU,
				}, provider, embeddings.NewRegistry(nil), client, nil, zap.NewNop())
				embedder = embeddings.Get()
			}

			worker := &ingest.OntologyWorker{
				Client:    client,
				Kind:      kind,
				Embedder:  embedder,
				AutoEmbed: autoEmbed,
				Logger:    zap.NewNop(),
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()
			status, err := worker.IngestFile(ctx, sourceID, oboPath)
			if status == nil && err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(status); encErr != nil {
				return encErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "ontology kind, e.g. disease")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "scope id, e.g. mondo")
	cmd.Flags().StringVar(&oboPath, "obo-path", "", "path to the OBO file")
	cmd.Flags().BoolVar(&autoEmbed, "auto-embed", false, "embed chunks after ingesting")
	return cmd
}
