package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docqa-rag/internal/config"
	"docqa-rag/internal/logging"
	"docqa-rag/internal/models"
	"docqa-rag/internal/pipeline"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "indexer",
		Short:         "build the document index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config.yaml")

	var (
		docType  string
		reset    bool
		corpusID string
	)
	ingestCmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "load, section, chunk, embed and index a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if docType == "" {
				docType = cfg.Ingest.DocumentType
			}
			dt, err := models.ParseDocumentType(docType)
			if err != nil {
				return err
			}
			if corpusID == "" {
				corpusID = cfg.Ingest.CorpusID
			}
			return runIngest(cmd.Context(), cfg, logger, args[0], pipeline.IngestOptions{
				DocumentType: dt,
				Reset:        reset,
				CorpusID:     corpusID,
			})
		},
	}
	ingestCmd.Flags().StringVar(&docType, "type", "", "document type: unstructured, general_structured or iso_structured")
	ingestCmd.Flags().BoolVar(&reset, "reset", false, "clear the index before ingesting")
	ingestCmd.Flags().StringVar(&corpusID, "corpus", "", "corpus id stored with every chunk")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "remove every chunk from the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := pipeline.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("failed to reset index: %w", err)
			}
			logger.Info("index reset", zap.String("index", cfg.Index.Type))
			return nil
		},
	}

	rootCmd.AddCommand(ingestCmd, resetCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("config loaded", zap.String("config", configPath))
	return cfg, logger, nil
}

func runIngest(ctx context.Context, cfg *config.Config, logger *zap.Logger, path string, opts pipeline.IngestOptions) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("input does not exist: %w", err)
	}

	logger.Info("starting ingestion",
		zap.String("path", path),
		zap.String("document_type", string(opts.DocumentType)),
		zap.Bool("reset", opts.Reset),
		zap.String("embedding_model", cfg.Ollama.EmbeddingModel),
		zap.Int("max_concurrent", cfg.Embedding.MaxConcurrent))

	backend, err := pipeline.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	ingest, err := pipeline.NewIngest(cfg, backend, logger)
	if err != nil {
		return err
	}
	ingest.Progress = progressLogger(logger)

	res, err := ingest.Run(ctx, path, opts)
	if err != nil {
		return err
	}
	printStatistics(res)
	return nil
}

// progressLogger reports embedding progress with an estimate of the time left
func progressLogger(logger *zap.Logger) func(processed, total int) {
	start := time.Now()
	return func(processed, total int) {
		if processed == 0 || total == 0 || (processed%25 != 0 && processed != total) {
			return
		}
		elapsed := time.Since(start)
		remaining := elapsed*time.Duration(total)/time.Duration(processed) - elapsed
		logger.Info("embedding progress",
			zap.Int("processed", processed),
			zap.Int("total", total),
			zap.String("percent", fmt.Sprintf("%.1f", float64(processed)/float64(total)*100)),
			zap.Duration("remaining", remaining.Round(time.Second)))
	}
}

func printStatistics(res *pipeline.IngestResult) {
	fmt.Println("Ingestion complete:")
	fmt.Printf("  Documents: %d\n", res.Documents)
	fmt.Printf("  Sections:  %d\n", res.Sections)
	fmt.Printf("  Chunks:    %d\n", res.Chunks)
	if res.Sections > 0 {
		fmt.Printf("  Chunks per section: %.2f\n", float64(res.Chunks)/float64(res.Sections))
	}
	fmt.Printf("  Took: %v\n", res.Duration.Round(time.Millisecond))
}
