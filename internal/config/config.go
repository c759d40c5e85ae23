// Package config loads the application configuration from a YAML file, an
// optional .env file and DOCQA_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"docqa-rag/internal/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// OllamaConfig configures the model backend
type OllamaConfig struct {
	// Host overrides OLLAMA_HOST when set
	Host           string        `yaml:"host"`
	Model          string        `yaml:"model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Temperature    float64       `yaml:"temperature"`
	Timeout        time.Duration `yaml:"timeout"`
}

// PostgresConfig configures the pgvector index
type PostgresConfig struct {
	DSN       string `yaml:"dsn"`
	Dimension int    `yaml:"dimension"`
}

// IndexConfig selects the vector index backend
type IndexConfig struct {
	Type     string         `yaml:"type"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// NormalizerConfig configures element cleaning
type NormalizerConfig struct {
	MinLength     int     `yaml:"min_length"`
	MinAlnumRatio float64 `yaml:"min_alnum_ratio"`

	// KeepShortHeadings lets headings below MinLength through to the sectioner
	KeepShortHeadings bool `yaml:"keep_short_headings"`
}

// SectionerConfig configures section grouping
type SectionerConfig struct {
	MinChars    int `yaml:"min_chars"`
	WindowChars int `yaml:"window_chars"`
}

// ChunkerConfig configures adaptive chunking
type ChunkerConfig struct {
	MaxSize         int  `yaml:"max_size"`
	ChunkSize       int  `yaml:"chunk_size"`
	Overlap         int  `yaml:"overlap"`
	KeepAtomicUnits bool `yaml:"keep_atomic_units"`
}

// EmbeddingConfig configures embedding calls
type EmbeddingConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxRetries    int           `yaml:"max_retries"`
	CacheSize     int           `yaml:"cache_size"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// RetrievalConfig configures vector search
type RetrievalConfig struct {
	K       int           `yaml:"k"`
	Timeout time.Duration `yaml:"timeout"`
}

// RerankConfig configures the reranker and score fusion
type RerankConfig struct {
	Type                  string        `yaml:"type"`
	URL                   string        `yaml:"url"`
	Model                 string        `yaml:"model"`
	Timeout               time.Duration `yaml:"timeout"`
	TopN                  int           `yaml:"top_n"`
	MaxScoreGap           float64       `yaml:"max_score_gap"`
	FusionEnabled         bool          `yaml:"fusion_enabled"`
	RelevanceWeight       float64       `yaml:"relevance_weight"`
	DistanceWeight        float64       `yaml:"distance_weight"`
	DistanceNormalization string        `yaml:"distance_normalization"`
	FallbackOnError       bool          `yaml:"fallback_on_error"`
}

// GenerationConfig configures answer generation
type GenerationConfig struct {
	MaxTokens          int  `yaml:"max_tokens"`
	ContextChars       int  `yaml:"context_chars"`
	TrimFirstParagraph bool `yaml:"trim_first_paragraph"`
}

// ISOConfig identifies the standard ingested as iso_structured
type ISOConfig struct {
	StandardID string `yaml:"standard_id"`
	Year       string `yaml:"year"`
}

// IngestConfig configures the ingestion run
type IngestConfig struct {
	Workers      int    `yaml:"workers"`
	DocumentType string `yaml:"document_type"`
	CorpusID     string `yaml:"corpus_id"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Config is the root application configuration
type Config struct {
	Log        logging.Config   `yaml:"log"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Index      IndexConfig      `yaml:"index"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Sectioner  SectionerConfig  `yaml:"sectioner"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Generation GenerationConfig `yaml:"generation"`
	ISO        ISOConfig        `yaml:"iso"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Server     ServerConfig     `yaml:"server"`
}

// Load reads the config at path. A missing file yields defaults. A .env file
// in the working directory is loaded first so its values feed the
// environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{
		Normalizer: NormalizerConfig{
			KeepShortHeadings: true,
		},
		Rerank: RerankConfig{
			FusionEnabled: true,
		},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Ollama.Model == "" {
		cfg.Ollama.Model = "phi3-mini"
	}
	if cfg.Ollama.EmbeddingModel == "" {
		cfg.Ollama.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Ollama.Temperature == 0 {
		cfg.Ollama.Temperature = 0.1
	}
	if cfg.Ollama.Timeout == 0 {
		cfg.Ollama.Timeout = 30 * time.Second
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "local"
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = "vector_db"
	}
	if cfg.Index.Postgres.Dimension == 0 {
		cfg.Index.Postgres.Dimension = 768
	}
	if cfg.Normalizer.MinLength == 0 {
		cfg.Normalizer.MinLength = 20
	}
	if cfg.Normalizer.MinAlnumRatio == 0 {
		cfg.Normalizer.MinAlnumRatio = 0.3
	}
	if cfg.Sectioner.MinChars == 0 {
		cfg.Sectioner.MinChars = 200
	}
	if cfg.Sectioner.WindowChars == 0 {
		cfg.Sectioner.WindowChars = 1200
	}
	if cfg.Chunker.MaxSize == 0 {
		cfg.Chunker.MaxSize = 2000
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1400
	}
	if cfg.Chunker.Overlap == 0 {
		cfg.Chunker.Overlap = 150
	}
	if cfg.Embedding.MaxConcurrent == 0 {
		cfg.Embedding.MaxConcurrent = 3
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 512
	}
	if cfg.Embedding.CacheTTL == 0 {
		cfg.Embedding.CacheTTL = 10 * time.Minute
	}
	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 30
	}
	if cfg.Rerank.Type == "" {
		cfg.Rerank.Type = "http"
	}
	if cfg.Rerank.URL == "" {
		cfg.Rerank.URL = "http://localhost:8081"
	}
	if cfg.Rerank.Model == "" {
		cfg.Rerank.Model = "BAAI/bge-reranker-base"
	}
	if cfg.Rerank.Timeout == 0 {
		cfg.Rerank.Timeout = 30 * time.Second
	}
	if cfg.Rerank.TopN == 0 {
		cfg.Rerank.TopN = 10
	}
	if cfg.Rerank.MaxScoreGap == 0 {
		cfg.Rerank.MaxScoreGap = 2.0
	}
	if cfg.Rerank.RelevanceWeight == 0 && cfg.Rerank.DistanceWeight == 0 {
		cfg.Rerank.RelevanceWeight = 0.7
		cfg.Rerank.DistanceWeight = 0.3
	}
	if cfg.Rerank.DistanceNormalization == "" {
		cfg.Rerank.DistanceNormalization = "identity"
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 256
	}
	if cfg.Generation.ContextChars == 0 {
		cfg.Generation.ContextChars = 3000
	}
	if cfg.ISO.StandardID == "" {
		cfg.ISO.StandardID = "ISO27001"
	}
	if cfg.ISO.Year == "" {
		cfg.ISO.Year = "2022"
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 2
	}
	if cfg.Ingest.DocumentType == "" {
		cfg.Ingest.DocumentType = "unstructured"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8090"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
}

// Validate rejects impossible settings
func (c *Config) Validate() error {
	switch c.Index.Type {
	case "local":
		if c.Index.Path == "" {
			return fmt.Errorf("index.path is required for the local index")
		}
	case "postgres":
		if c.Index.Postgres.DSN == "" {
			return fmt.Errorf("index.postgres.dsn is required for the postgres index")
		}
		if c.Index.Postgres.Dimension <= 0 {
			return fmt.Errorf("index.postgres.dimension must be positive")
		}
	default:
		return fmt.Errorf("unknown index type %q", c.Index.Type)
	}

	if c.Normalizer.MinLength < 0 {
		return fmt.Errorf("normalizer.min_length must not be negative")
	}
	if c.Normalizer.MinAlnumRatio < 0 || c.Normalizer.MinAlnumRatio > 1 {
		return fmt.Errorf("normalizer.min_alnum_ratio must be within [0,1]")
	}
	if c.Sectioner.MinChars < 0 || c.Sectioner.WindowChars <= 0 {
		return fmt.Errorf("sectioner sizes must be positive")
	}

	ch := c.Chunker
	if ch.ChunkSize <= 0 || ch.MaxSize <= 0 {
		return fmt.Errorf("chunker sizes must be positive")
	}
	if ch.ChunkSize > ch.MaxSize {
		return fmt.Errorf("chunker.chunk_size %d exceeds chunker.max_size %d", ch.ChunkSize, ch.MaxSize)
	}
	if ch.Overlap < 0 || ch.Overlap >= ch.ChunkSize {
		return fmt.Errorf("chunker.overlap %d must be within [0,%d)", ch.Overlap, ch.ChunkSize)
	}

	if c.Embedding.MaxConcurrent <= 0 {
		return fmt.Errorf("embedding.max_concurrent must be positive")
	}
	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval.k must be positive")
	}

	r := c.Rerank
	switch r.Type {
	case "http", "ollama", "none":
	default:
		return fmt.Errorf("unknown rerank type %q", r.Type)
	}
	switch r.DistanceNormalization {
	case "identity", "clamp", "minmax", "cosine":
	default:
		return fmt.Errorf("unknown distance normalization %q", r.DistanceNormalization)
	}
	if r.TopN <= 0 {
		return fmt.Errorf("rerank.top_n must be positive")
	}
	if r.MaxScoreGap < 0 {
		return fmt.Errorf("rerank.max_score_gap must not be negative")
	}
	if r.RelevanceWeight < 0 || r.DistanceWeight < 0 {
		return fmt.Errorf("rerank weights must not be negative")
	}

	if c.Generation.MaxTokens <= 0 || c.Generation.ContextChars <= 0 {
		return fmt.Errorf("generation limits must be positive")
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive")
	}
	return nil
}

// applyEnv overlays DOCQA_* environment variables
func applyEnv(cfg *Config) error {
	var err error
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" && err == nil {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = fmt.Errorf("invalid %s: %w", key, perr)
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" && err == nil {
			f, perr := strconv.ParseFloat(v, 64)
			if perr != nil {
				err = fmt.Errorf("invalid %s: %w", key, perr)
				return
			}
			*dst = f
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" && err == nil {
			b, perr := strconv.ParseBool(strings.TrimSpace(v))
			if perr != nil {
				err = fmt.Errorf("invalid %s: %w", key, perr)
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" && err == nil {
			d, perr := time.ParseDuration(v)
			if perr != nil {
				err = fmt.Errorf("invalid %s: %w", key, perr)
				return
			}
			*dst = d
		}
	}

	setString("DOCQA_LOG_LEVEL", &cfg.Log.Level)
	setString("DOCQA_LOG_FORMAT", &cfg.Log.Format)
	setString("DOCQA_LOG_FILE", &cfg.Log.File)
	setString("DOCQA_OLLAMA_HOST", &cfg.Ollama.Host)
	setString("DOCQA_OLLAMA_MODEL", &cfg.Ollama.Model)
	setString("DOCQA_EMBEDDING_MODEL", &cfg.Ollama.EmbeddingModel)
	setString("DOCQA_INDEX_TYPE", &cfg.Index.Type)
	setString("DOCQA_INDEX_PATH", &cfg.Index.Path)
	setString("DOCQA_PG_DSN", &cfg.Index.Postgres.DSN)
	setInt("DOCQA_PG_DIMENSION", &cfg.Index.Postgres.Dimension)
	setInt("DOCQA_CHUNK_MAX_SIZE", &cfg.Chunker.MaxSize)
	setInt("DOCQA_CHUNK_SIZE", &cfg.Chunker.ChunkSize)
	setInt("DOCQA_CHUNK_OVERLAP", &cfg.Chunker.Overlap)
	setInt("DOCQA_RETRIEVAL_K", &cfg.Retrieval.K)
	setDuration("DOCQA_RETRIEVAL_TIMEOUT", &cfg.Retrieval.Timeout)
	setString("DOCQA_RERANK_TYPE", &cfg.Rerank.Type)
	setString("DOCQA_RERANK_URL", &cfg.Rerank.URL)
	setString("DOCQA_RERANK_MODEL", &cfg.Rerank.Model)
	setInt("DOCQA_RERANK_TOP_N", &cfg.Rerank.TopN)
	setFloat("DOCQA_RERANK_MAX_SCORE_GAP", &cfg.Rerank.MaxScoreGap)
	setBool("DOCQA_RERANK_FUSION", &cfg.Rerank.FusionEnabled)
	setBool("DOCQA_RERANK_FALLBACK", &cfg.Rerank.FallbackOnError)
	setString("DOCQA_ISO_STANDARD_ID", &cfg.ISO.StandardID)
	setString("DOCQA_ISO_YEAR", &cfg.ISO.Year)
	setInt("DOCQA_INGEST_WORKERS", &cfg.Ingest.Workers)
	setString("DOCQA_SERVER_ADDR", &cfg.Server.Addr)
	return err
}
