package pipeline

import (
	"context"
	"fmt"

	"docqa-rag/internal/config"
	"docqa-rag/internal/database"
	"docqa-rag/internal/embedding"
	"docqa-rag/internal/llm"
	"docqa-rag/internal/processor"
	"docqa-rag/internal/ragerr"
	"docqa-rag/internal/retrieval"
	"docqa-rag/internal/vectorstore"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// Backend bundles the long lived clients shared by both pipelines. The
// generation model is loaded lazily by the ollama server on first use.
type Backend struct {
	Client   *api.Client
	Embedder embedding.Embedder
	Store    vectorstore.Store
}

// Open connects the model client and the configured index
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	client, err := embedding.NewClient(cfg.Ollama.Host)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.LLMInitialization, err, "failed to create ollama client")
	}
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	embedder := embedding.NewOllamaEmbedder(client, cfg.Ollama.EmbeddingModel, cfg.Embedding.MaxRetries, cfg.Ollama.Timeout)
	return &Backend{Client: client, Embedder: embedder, Store: store}, nil
}

// Close releases the index
func (b *Backend) Close() error {
	return b.Store.Close()
}

// OpenStore opens the index selected by index.type
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (vectorstore.Store, error) {
	switch cfg.Index.Type {
	case "postgres":
		db, err := database.NewDB(ctx, cfg.Index.Postgres.DSN, cfg.Index.Postgres.Dimension, logger)
		if err != nil {
			return nil, ragerr.Wrap(ragerr.Indexing, err, "failed to open postgres index")
		}
		if err := db.Initialize(ctx); err != nil {
			_ = db.Close()
			return nil, ragerr.Wrap(ragerr.Indexing, err, "failed to initialize postgres index")
		}
		return db, nil
	case "local", "":
		s, err := vectorstore.OpenLocal(cfg.Index.Path, logger)
		if err != nil {
			return nil, ragerr.Wrap(ragerr.Indexing, err, "failed to open local index")
		}
		return s, nil
	default:
		return nil, ragerr.New(ragerr.Indexing, "unknown index type %q", cfg.Index.Type)
	}
}

// NewIngest builds the ingestion pipeline from configuration
func NewIngest(cfg *config.Config, b *Backend, logger *zap.Logger) (*Ingest, error) {
	chunker, err := processor.NewChunker(cfg.Chunker.MaxSize, cfg.Chunker.ChunkSize, cfg.Chunker.Overlap, cfg.Chunker.KeepAtomicUnits)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Chunking, err, "invalid chunker settings")
	}
	normalizer := processor.NewNormalizer(cfg.Normalizer.MinLength, cfg.Normalizer.MinAlnumRatio)
	normalizer.KeepShortHeadings = cfg.Normalizer.KeepShortHeadings

	isoID := fmt.Sprintf("%s-%s", cfg.ISO.StandardID, cfg.ISO.Year)
	return &Ingest{
		Strategies:    DefaultStrategies(cfg.Sectioner.MinChars, cfg.Sectioner.WindowChars, isoID),
		Normalizer:    normalizer,
		Chunker:       chunker,
		Embedder:      b.Embedder,
		Store:         b.Store,
		Workers:       cfg.Ingest.Workers,
		MaxConcurrent: cfg.Embedding.MaxConcurrent,
		Logger:        logger,
	}, nil
}

// NewScorer builds the reranking scorer selected by rerank.type, or nil for none
func NewScorer(cfg *config.Config, client *api.Client) retrieval.Scorer {
	switch cfg.Rerank.Type {
	case "http":
		return retrieval.NewCrossEncoderClient(cfg.Rerank.URL, cfg.Rerank.Model, cfg.Rerank.Timeout)
	case "ollama":
		return retrieval.NewOllamaScorer(client, cfg.Ollama.Model)
	default:
		return nil
	}
}

// NewAnswerer builds the question answering pipeline from configuration.
// Query embeddings go through an LRU cache.
func NewAnswerer(cfg *config.Config, b *Backend) (*Answerer, error) {
	gen, err := llm.NewOllamaGenerator(b.Client, cfg.Ollama.Model, cfg.Ollama.Temperature)
	if err != nil {
		return nil, err
	}

	queryEmbedder := embedding.WithCache(b.Embedder, cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL)
	a := &Answerer{
		Retriever:          retrieval.NewRetriever(queryEmbedder, b.Store, cfg.Retrieval.K, cfg.Retrieval.Timeout),
		Generator:          gen,
		TopN:               cfg.Rerank.TopN,
		MaxScoreGap:        cfg.Rerank.MaxScoreGap,
		FallbackOnError:    cfg.Rerank.FallbackOnError,
		MaxTokens:          cfg.Generation.MaxTokens,
		ContextChars:       cfg.Generation.ContextChars,
		TrimFirstParagraph: cfg.Generation.TrimFirstParagraph,
	}
	if scorer := NewScorer(cfg, b.Client); scorer != nil {
		a.Reranker = retrieval.NewReranker(scorer, retrieval.Options{
			TopN:            cfg.Rerank.TopN,
			MaxScoreGap:     cfg.Rerank.MaxScoreGap,
			FusionEnabled:   cfg.Rerank.FusionEnabled,
			RelevanceWeight: cfg.Rerank.RelevanceWeight,
			DistanceWeight:  cfg.Rerank.DistanceWeight,
			Normalization:   retrieval.Normalization(cfg.Rerank.DistanceNormalization),
			Timeout:         cfg.Rerank.Timeout,
		})
	}
	return a, nil
}
