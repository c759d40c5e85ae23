// Package pipeline wires the ingestion and question answering flows out of
// the parser, processor, embedding, index, retrieval and generation parts.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"docqa-rag/internal/embedding"
	"docqa-rag/internal/models"
	"docqa-rag/internal/parser"
	"docqa-rag/internal/processor"
	"docqa-rag/internal/ragerr"
	"docqa-rag/internal/vectorstore"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const upsertBatchSize = 256

// Strategy is the per document type ingestion behaviour
type Strategy struct {
	DocFamily  string
	CorpusID   string
	Sectioner  processor.Sectioner
	// FixedDocID replaces the file stem as document id when set
	FixedDocID string
}

// LoadFunc parses a file into raw elements
type LoadFunc func(ctx context.Context, path string) (parser.Document, error)

// Ingest runs documents through normalize, section, chunk, embed and upsert
type Ingest struct {
	Strategies    map[models.DocumentType]Strategy
	Normalizer    *processor.Normalizer
	Chunker       *processor.Chunker
	Embedder      embedding.Embedder
	Store         vectorstore.Store
	Load          LoadFunc
	Workers       int
	MaxConcurrent int
	Progress      embedding.ProgressFunc
	Logger        *zap.Logger
}

// IngestOptions selects what one ingestion run does
type IngestOptions struct {
	DocumentType models.DocumentType
	// Reset clears the index before anything is written
	Reset        bool
	// CorpusID overrides the strategy's corpus id when set
	CorpusID     string
}

// IngestResult summarises a finished run
type IngestResult struct {
	Documents int           `json:"documents"`
	Sections  int           `json:"sections"`
	Chunks    int           `json:"chunks"`
	Duration  time.Duration `json:"duration"`
}

// DefaultStrategies returns the strategy table for every document type
func DefaultStrategies(minChars, windowChars int, isoID string) map[models.DocumentType]Strategy {
	return map[models.DocumentType]Strategy{
		models.DocumentTypeISOStructured: {
			DocFamily:  "iso_standard",
			CorpusID:   isoID,
			FixedDocID: isoID,
			Sectioner:  &processor.HeadingSectioner{MinChars: minChars, ClauseLookahead: true},
		},
		models.DocumentTypeGeneralStructured: {
			DocFamily: "general_structured",
			CorpusID:  "general",
			Sectioner: &processor.HeadingSectioner{MinChars: minChars},
		},
		models.DocumentTypeUnstructured: {
			DocFamily: "generic_unstructured",
			CorpusID:  "unstructured",
			Sectioner: &processor.WindowSectioner{WindowChars: windowChars, MinChars: minChars},
		},
	}
}

type docResult struct {
	sections int
	chunks   []models.Chunk
}

// Run ingests the file or directory at path
func (in *Ingest) Run(ctx context.Context, path string, opts IngestOptions) (*IngestResult, error) {
	start := time.Now()
	logger := in.logger()

	strategy, ok := in.Strategies[opts.DocumentType]
	if !ok {
		return nil, ragerr.New(ragerr.Pipeline, "no strategy for document type %q", opts.DocumentType)
	}
	if opts.CorpusID != "" {
		strategy.CorpusID = opts.CorpusID
	}

	files, err := parser.ListFiles(path)
	if err != nil {
		return nil, ragerr.Stage("load", err)
	}
	if len(files) == 0 {
		return nil, ragerr.Stage("load", ragerr.New(ragerr.Pipeline, "no supported documents found at %s", path))
	}

	if opts.Reset {
		if err := in.Store.Reset(ctx); err != nil {
			return nil, ragerr.Stage("reset", ragerr.Wrap(ragerr.Indexing, err, "failed to reset index"))
		}
		logger.Info("index reset")
	}

	results := make([]docResult, len(files))
	workers := in.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, file := range files {
		g.Go(func() error {
			info := documentInfo(file, strategy, len(files) > 1)
			res, err := in.processDocument(gctx, file, info, strategy.Sectioner)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &IngestResult{Documents: len(files)}
	var chunks []models.Chunk
	for _, r := range results {
		result.Sections += r.sections
		chunks = append(chunks, r.chunks...)
	}
	if len(chunks) == 0 {
		return nil, ragerr.Stage("chunk", ragerr.New(ragerr.Pipeline, "no chunks produced from %d documents", len(files)))
	}

	embedStart := time.Now()
	embedded, err := embedding.EmbedBatch(ctx, in.Embedder, chunks, in.MaxConcurrent, in.Progress)
	if err != nil {
		return nil, ragerr.Stage("embed", ragerr.FromContext(ragerr.Indexing, err, "failed to embed chunks"))
	}
	logger.Info("embedded chunks", zap.Int("chunks", len(embedded)), zap.Duration("took", time.Since(embedStart)))

	for lo := 0; lo < len(embedded); lo += upsertBatchSize {
		hi := min(lo+upsertBatchSize, len(embedded))
		if err := in.Store.Upsert(ctx, embedded[lo:hi]); err != nil {
			return nil, ragerr.Stage("index", ragerr.FromContext(ragerr.Indexing, err, "failed to store chunks %d-%d", lo, hi))
		}
	}

	result.Chunks = len(embedded)
	result.Duration = time.Since(start)
	logger.Info("ingestion complete",
		zap.String("document_type", string(opts.DocumentType)),
		zap.Int("documents", result.Documents),
		zap.Int("sections", result.Sections),
		zap.Int("chunks", result.Chunks),
		zap.Duration("took", result.Duration))
	return result, nil
}

func (in *Ingest) processDocument(ctx context.Context, file string, info models.DocumentInfo, sectioner processor.Sectioner) (docResult, error) {
	load := in.Load
	if load == nil {
		load = parser.Load
	}
	doc, err := load(ctx, file)
	if err != nil {
		return docResult{}, ragerr.Stage("load", err)
	}
	if info.Title == "" {
		info.Title = documentTitle(doc.Elements)
	}

	units := in.Normalizer.Normalize(ctx, doc.Elements)
	sections := sectioner.Section(ctx, info, units)
	chunks, err := in.Chunker.Chunk(ctx, sections)
	if err != nil {
		return docResult{}, ragerr.Stage("chunk", err)
	}

	in.logger().Info("processed document",
		zap.String("file", file),
		zap.String("doc_id", info.DocID),
		zap.Int("elements", len(doc.Elements)),
		zap.Int("units", len(units)),
		zap.Int("sections", len(sections)),
		zap.Int("chunks", len(chunks)))
	if len(chunks) == 0 {
		in.logger().Warn("document produced no chunks", zap.String("file", file))
	}
	return docResult{sections: len(sections), chunks: chunks}, nil
}

func (in *Ingest) logger() *zap.Logger {
	if in.Logger == nil {
		return zap.NewNop()
	}
	return in.Logger
}

func documentInfo(path string, s Strategy, many bool) models.DocumentInfo {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	id := stem
	if s.FixedDocID != "" {
		id = s.FixedDocID
		if many {
			id = fmt.Sprintf("%s-%s", s.FixedDocID, stem)
		}
	}
	return models.DocumentInfo{
		DocID:      id,
		SourcePath: path,
		FileName:   base,
		DocFamily:  s.DocFamily,
		CorpusID:   s.CorpusID,
	}
}

func documentTitle(elements []models.RawElement) string {
	for _, e := range elements {
		if e.Category == models.CategoryTitle {
			if t := strings.TrimSpace(e.Text); t != "" {
				return t
			}
		}
	}
	return ""
}
