package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docqa-rag/internal/llm"
	"docqa-rag/internal/models"
	"docqa-rag/internal/parser"
	"docqa-rag/internal/processor"
	"docqa-rag/internal/ragerr"
	"docqa-rag/internal/retrieval"
	"docqa-rag/internal/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keywordEmbedder struct {
	fail bool
}

func (k keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if k.fail {
		return nil, errors.New("embedding service down")
	}
	lower := strings.ToLower(text)
	vec := []float32{0.01, 0.01, 0.01}
	if strings.Contains(lower, "access") {
		vec[0] = 1
	}
	if strings.Contains(lower, "asset") {
		vec[1] = 1
	}
	if strings.Contains(lower, "supplier") {
		vec[2] = 1
	}
	return vec, nil
}

func (keywordEmbedder) ModelName() string { return "keyword" }

type recordingGenerator struct {
	prompt string
	reply  string
	err    error
}

func (g *recordingGenerator) Complete(_ context.Context, prompt string, _ int) (string, error) {
	g.prompt = prompt
	return g.reply, g.err
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, string, []string) ([]float64, error) {
	return nil, errors.New("reranker unavailable")
}

func para(words string, n int) string {
	return strings.TrimSpace(strings.Repeat(words+" ", n))
}

func isoElements() []models.RawElement {
	return []models.RawElement{
		{Text: "Information security management", Category: models.CategoryTitle, Page: 1},
		{Text: "8.3", Category: models.CategoryHeading, Page: 3},
		{Text: "Access control", Category: models.CategoryHeading, Page: 3},
		{Text: para("Access to information shall be restricted.", 4), Category: models.CategoryBody, Page: 3},
		{Text: para("Access rights shall be reviewed regularly.", 4), Category: models.CategoryBody, Page: 4},
		{Text: "Asset management", Category: models.CategoryHeading, Page: 5},
		{Text: para("An inventory of asset records shall be kept.", 6), Category: models.CategoryBody, Page: 5},
	}
}

func newTestIngest(t *testing.T, store vectorstore.Store, elements []models.RawElement) *Ingest {
	t.Helper()
	chunker, err := processor.NewChunker(0, 0, 0, false)
	require.NoError(t, err)
	normalizer := processor.NewNormalizer(0, 0)
	normalizer.KeepShortHeadings = true
	return &Ingest{
		Strategies: DefaultStrategies(processor.DefaultMinSectionChars, processor.DefaultWindowChars, "ISO27001-2022"),
		Normalizer: normalizer,
		Chunker:    chunker,
		Embedder:   keywordEmbedder{},
		Store:      store,
		Load: func(_ context.Context, path string) (parser.Document, error) {
			return parser.Document{Path: path, Elements: elements}, nil
		},
		Workers:       2,
		MaxConcurrent: 2,
	}
}

func writeFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("placeholder"), 0o644))
	}
	return dir
}

func TestIngestISODocument(t *testing.T) {
	ctx := context.Background()
	store, err := vectorstore.OpenLocal(t.TempDir(), nil)
	require.NoError(t, err)
	dir := writeFiles(t, "iso27001.pdf")

	in := newTestIngest(t, store, isoElements())
	res, err := in.Run(ctx, dir, IngestOptions{DocumentType: models.DocumentTypeISOStructured})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Documents)
	assert.Equal(t, 2, res.Sections)
	assert.Equal(t, 2, res.Chunks)

	sections, err := store.ListSections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"8.3 Access control", "Asset management"}, sections)

	chunks, err := store.QueryBySection(ctx, "8.3", 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	md := chunks[0].Metadata
	assert.Equal(t, "ISO27001-2022", md.DocID)
	assert.Equal(t, "iso_standard", md.DocFamily)
	assert.Equal(t, "ISO27001-2022", md.CorpusID)
	assert.Equal(t, "8.3", md.ClausePrefix)
	assert.Equal(t, []int{3, 4}, md.Pages)
	assert.Equal(t, "iso27001.pdf", md.FileName)
}

func TestIngestResetAndCorpusOverride(t *testing.T) {
	ctx := context.Background()
	store, err := vectorstore.OpenLocal(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, []models.EmbeddedChunk{{
		Chunk:     models.Chunk{ID: "stale", Content: "stale", Metadata: models.ChunkMetadata{SectionTitle: "Old", TotalChunks: 1}},
		Embedding: []float32{1, 1, 1},
	}}))

	dir := writeFiles(t, "a.txt", "b.txt")
	in := newTestIngest(t, store, isoElements())
	res, err := in.Run(ctx, dir, IngestOptions{DocumentType: models.DocumentTypeUnstructured, Reset: true, CorpusID: "policies"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents)

	sections, err := store.ListSections(ctx)
	require.NoError(t, err)
	assert.NotContains(t, sections, "Old")

	chunks, err := store.QueryBySection(ctx, "", 100)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	docIDs := map[string]bool{}
	for _, c := range chunks {
		assert.Equal(t, "policies", c.Metadata.CorpusID)
		assert.Equal(t, "generic_unstructured", c.Metadata.DocFamily)
		docIDs[c.Metadata.DocID] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, docIDs)
}

func TestIngestFailures(t *testing.T) {
	ctx := context.Background()
	store, err := vectorstore.OpenLocal(t.TempDir(), nil)
	require.NoError(t, err)

	t.Run("no documents", func(t *testing.T) {
		in := newTestIngest(t, store, isoElements())
		_, err := in.Run(ctx, t.TempDir(), IngestOptions{DocumentType: models.DocumentTypeUnstructured})
		require.Error(t, err)
		assert.ErrorIs(t, err, ragerr.Pipeline)
	})

	t.Run("no chunks", func(t *testing.T) {
		in := newTestIngest(t, store, []models.RawElement{{Text: "tiny", Category: models.CategoryBody}})
		_, err := in.Run(ctx, writeFiles(t, "a.txt"), IngestOptions{DocumentType: models.DocumentTypeUnstructured})
		require.Error(t, err)
		assert.ErrorIs(t, err, ragerr.Pipeline)
		assert.Contains(t, err.Error(), "[chunk]")
	})

	t.Run("load error keeps its kind", func(t *testing.T) {
		in := newTestIngest(t, store, nil)
		in.Load = parser.Load
		file := filepath.Join(writeFiles(t, "scan.tiff"), "scan.tiff")
		_, err := in.Run(ctx, file, IngestOptions{DocumentType: models.DocumentTypeUnstructured})
		require.Error(t, err)
		assert.Equal(t, ragerr.DocumentLoad, ragerr.KindOf(err))
		assert.Contains(t, err.Error(), ".tiff")
	})

	t.Run("embedding error", func(t *testing.T) {
		in := newTestIngest(t, store, isoElements())
		in.Embedder = keywordEmbedder{fail: true}
		_, err := in.Run(ctx, writeFiles(t, "a.txt"), IngestOptions{DocumentType: models.DocumentTypeISOStructured})
		require.Error(t, err)
		assert.ErrorIs(t, err, ragerr.Indexing)
		assert.Equal(t, ragerr.Indexing, ragerr.KindOf(err))
	})

	t.Run("unknown type", func(t *testing.T) {
		in := newTestIngest(t, store, isoElements())
		_, err := in.Run(ctx, writeFiles(t, "a.txt"), IngestOptions{DocumentType: "scanned"})
		assert.ErrorIs(t, err, ragerr.Pipeline)
	})
}

func newTestAnswerer(t *testing.T, gen llm.Generator) (*Answerer, vectorstore.Store) {
	t.Helper()
	store, err := vectorstore.OpenLocal(t.TempDir(), nil)
	require.NoError(t, err)
	in := newTestIngest(t, store, isoElements())
	_, err = in.Run(context.Background(), writeFiles(t, "iso.pdf"), IngestOptions{DocumentType: models.DocumentTypeISOStructured})
	require.NoError(t, err)

	return &Answerer{
		Retriever:    retrieval.NewRetriever(keywordEmbedder{}, store, 5, 0),
		Generator:    gen,
		TopN:         1,
		MaxScoreGap:  2,
		MaxTokens:    128,
		ContextChars: 3000,
		Now:          func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}, store
}

func TestAnswerUsesRetrievedContext(t *testing.T) {
	gen := &recordingGenerator{reply: "Access is restricted and reviewed.\n\nExtra rambling."}
	a, _ := newTestAnswerer(t, gen)
	a.TrimFirstParagraph = true

	resp, err := a.Answer(context.Background(), "How is access reviewed?")
	require.NoError(t, err)
	assert.Equal(t, "Access is restricted and reviewed.", resp.Answer)
	assert.Equal(t, "2024-05-01T12:00:00Z", resp.Timestamp)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "8.3 Access control", resp.Sources[0].Chunk.Metadata.SectionTitle)
	assert.Contains(t, gen.prompt, "[8.3 Access control]\n")
	assert.Contains(t, gen.prompt, "Question:\nHow is access reviewed?")
}

func TestAnswerSmallTalkSkipsRetrieval(t *testing.T) {
	gen := &recordingGenerator{reply: "unused"}
	a := &Answerer{Generator: gen}

	resp, err := a.Answer(context.Background(), "thanks!")
	require.NoError(t, err)
	assert.Equal(t, "You're welcome.", resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Empty(t, gen.prompt)
}

func TestAnswerWithEmptyIndex(t *testing.T) {
	store, err := vectorstore.OpenLocal(t.TempDir(), nil)
	require.NoError(t, err)
	gen := &recordingGenerator{reply: "unused"}
	a := &Answerer{Retriever: retrieval.NewRetriever(keywordEmbedder{}, store, 5, 0), Generator: gen, TopN: 3}

	resp, err := a.Answer(context.Background(), "What does clause 8.3 require?")
	require.NoError(t, err)
	assert.Equal(t, llm.NoInformation, resp.Answer)
	assert.Empty(t, gen.prompt)
}

func TestSearchRerankFallback(t *testing.T) {
	a, _ := newTestAnswerer(t, &recordingGenerator{})
	a.TopN = 2
	a.Reranker = retrieval.NewReranker(failingScorer{}, retrieval.DefaultOptions())

	_, err := a.Search(context.Background(), "asset inventory", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerr.Reranking)

	a.FallbackOnError = true
	got, err := a.Search(context.Background(), "asset inventory", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Asset management", got[0].Chunk.Metadata.SectionTitle)
	assert.False(t, got[0].Reranked)
}

func TestAnswerGenerationFailure(t *testing.T) {
	a, _ := newTestAnswerer(t, &recordingGenerator{err: ragerr.New(ragerr.LLMGeneration, "model crashed")})

	_, err := a.Answer(context.Background(), "How is access reviewed?")
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerr.LLMGeneration)
	assert.Equal(t, ragerr.LLMGeneration, ragerr.KindOf(err))
}
