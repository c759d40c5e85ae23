package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"docqa-rag/internal/api"
	"docqa-rag/internal/config"
	"docqa-rag/internal/eval"
	"docqa-rag/internal/logging"
	"docqa-rag/internal/models"
	"docqa-rag/internal/pipeline"
	"docqa-rag/internal/vectorstore"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds what every subcommand needs once the config is loaded
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	backend  *pipeline.Backend
	answerer *pipeline.Answerer
}

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "docqa",
		Short:         "ask questions about indexed documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config.yaml")

	withApp := func(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return run(cmd.Context(), a, args)
		}
	}

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "answer a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			resp, err := a.answerer.Answer(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(formatAnswer(resp))
			return nil
		}),
	}

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "interactive question answering",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			return runInteractiveMode(ctx, a)
		}),
	}

	var k int
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "show the ranked passages for a query without generating an answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			results, err := a.answerer.Search(ctx, strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			fmt.Print(formatCandidates(results))
			return nil
		}),
	}
	searchCmd.Flags().IntVar(&k, "k", 0, "number of candidates to retrieve (default retrieval.k)")

	sectionsCmd := &cobra.Command{
		Use:   "sections [title]",
		Short: "list indexed sections, or show the chunks of one section",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if len(args) == 1 {
				return printSection(ctx, a, args[0])
			}
			return printSections(ctx, a)
		}),
	}

	var out string
	evalCmd := &cobra.Command{
		Use:   "eval <dataset.json>",
		Short: "score the pipeline against a labelled question set",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			ds, err := eval.LoadDataset(args[0])
			if err != nil {
				return err
			}
			report, err := eval.Run(ctx, ds, a.answerer.Answer, a.logger)
			if err != nil {
				return err
			}
			s := report.Summary
			fmt.Printf("Questions:         %d (%d failed)\n", s.Total, s.Failed)
			fmt.Printf("Answer accuracy:   %.3f\n", s.AnswerAccuracy)
			fmt.Printf("Retrieval recall:  %.3f\n", s.RetrievalRecall)
			fmt.Printf("Grounded accuracy: %.3f\n", s.GroundedAccuracy)
			if out == "" {
				return nil
			}
			if err := report.Save(out); err != nil {
				return err
			}
			a.logger.Info("evaluation report written", zap.String("path", out))
			return nil
		}),
	}
	evalCmd.Flags().StringVar(&out, "out", "", "write the per question results to this JSON file")

	var allowIngest bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			return runServer(ctx, a, allowIngest)
		}),
	}
	serveCmd.Flags().BoolVar(&allowIngest, "ingest", false, "enable POST /api/ingest")

	rootCmd.AddCommand(askCmd, chatCmd, searchCmd, sectionsCmd, evalCmd, serveCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func open(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	logger.Info("config loaded", zap.String("config", configPath))

	backend, err := pipeline.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	answerer, err := pipeline.NewAnswerer(cfg, backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, backend: backend, answerer: answerer}, nil
}

func (a *app) close() {
	if err := a.backend.Close(); err != nil {
		a.logger.Warn("failed to close index", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *app) sections() vectorstore.SectionLister {
	lister, _ := a.backend.Store.(vectorstore.SectionLister)
	return lister
}

// warmup loads the generation model before the first question arrives
func warmup(ctx context.Context, a *app) {
	w, ok := a.answerer.Generator.(interface{ Warmup(context.Context) error })
	if !ok {
		return
	}
	if err := w.Warmup(ctx); err != nil {
		a.logger.Warn("model warmup failed", zap.Error(err))
	}
}

func runInteractiveMode(ctx context.Context, a *app) error {
	warmup(ctx, a)
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Document assistant. Ask a question about the indexed documents (type 'exit' to quit)")
	fmt.Println("Commands: /sections, /section <title>, /search <query>")

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		lower := strings.ToLower(input)

		switch {
		case input == "":
			continue
		case lower == "exit" || lower == "quit":
			return nil
		case lower == "/sections":
			if err := printSections(ctx, a); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			continue
		case strings.HasPrefix(lower, "/section "):
			if err := printSection(ctx, a, strings.TrimSpace(input[len("/section "):])); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			continue
		case strings.HasPrefix(lower, "/search "):
			results, err := a.answerer.Search(ctx, strings.TrimSpace(input[len("/search "):]), 0)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Print(formatCandidates(results))
			continue
		}

		fmt.Print("Searching documents... ")
		start := time.Now()
		resp, err := a.answerer.Answer(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Printf("\rError: %v\n", err)
			continue
		}
		a.logger.Debug("query processed", zap.Duration("took", time.Since(start)))
		fmt.Println("\r" + formatAnswer(resp))
	}
	return scanner.Err()
}

func printSections(ctx context.Context, a *app) error {
	lister := a.sections()
	if lister == nil {
		return fmt.Errorf("index type %q cannot list sections", a.cfg.Index.Type)
	}
	sections, err := lister.ListSections(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Indexed sections:")
	for _, s := range sections {
		fmt.Println("  " + s)
	}
	return nil
}

func printSection(ctx context.Context, a *app, title string) error {
	lister := a.sections()
	if lister == nil {
		return fmt.Errorf("index type %q cannot list sections", a.cfg.Index.Type)
	}
	chunks, err := lister.QueryBySection(ctx, title, 20)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		fmt.Printf("No sections match %q\n", title)
		return nil
	}
	for _, c := range chunks {
		fmt.Printf("[%s] (%d/%d, pages %s)\n%s\n\n", orNA(c.Metadata.SectionTitle),
			c.Metadata.ChunkIndex+1, c.Metadata.TotalChunks, formatPages(c.Metadata.Pages), c.Content)
	}
	return nil
}

func runServer(ctx context.Context, a *app, allowIngest bool) error {
	var ingest api.IngestService
	if allowIngest {
		in, err := pipeline.NewIngest(a.cfg, a.backend, a.logger)
		if err != nil {
			return err
		}
		ingest = in
	}
	warmup(ctx, a)

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      api.NewServer(a.answerer, ingest, a.sections(), a.logger),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", zap.String("addr", srv.Addr), zap.Bool("ingest", allowIngest))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func formatAnswer(resp *models.Response) string {
	var sb strings.Builder
	sb.WriteString(resp.Answer)
	sb.WriteString("\n\n")

	if len(resp.Sources) > 0 {
		sb.WriteString("Sources:\n")
		for i, src := range resp.Sources {
			md := src.Chunk.Metadata
			fmt.Fprintf(&sb, "  %d. [Section: %s, Document: %s, Pages: %s]\n",
				i+1, orNA(md.SectionTitle), orNA(md.DocID), formatPages(md.Pages))
		}
	}
	return sb.String()
}

func formatCandidates(results []models.ScoredCandidate) string {
	if len(results) == 0 {
		return "No matching passages.\n"
	}
	var sb strings.Builder
	for i, c := range results {
		md := c.Chunk.Metadata
		fmt.Fprintf(&sb, "%2d. %s (pages %s) distance=%.4f", i+1, orNA(md.SectionTitle), formatPages(md.Pages), c.DistanceScore)
		if c.Reranked {
			fmt.Fprintf(&sb, " relevance=%.4f fused=%.4f", c.RelevanceScore, c.FusedScore)
		}
		sb.WriteString("\n    ")
		sb.WriteString(preview(c.Chunk.Content, 160))
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatPages(pages []int) string {
	if len(pages) == 0 {
		return "N/A"
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ", ")
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
