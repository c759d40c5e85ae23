package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"docqa-rag/internal/models"
	"docqa-rag/internal/ragerr"
	"docqa-rag/internal/vectorstore"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedScorer struct {
	scores   map[string]float64
	err      error
	passages []string
}

func (f *fixedScorer) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	f.passages = passages
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(passages))
	for i, p := range passages {
		out[i] = f.scores[strings.SplitN(p, "\n", 2)[0]]
	}
	return out, nil
}

func candidate(title string, distance float64) models.ScoredCandidate {
	return models.ScoredCandidate{
		Chunk: models.Chunk{
			ID:       title,
			Content:  "text of " + title,
			Metadata: models.ChunkMetadata{SectionTitle: title},
		},
		DistanceScore: distance,
	}
}

func TestRerankFusionExample(t *testing.T) {
	scorer := &fixedScorer{scores: map[string]float64{"[low]": 0.5, "[high]": 0.9}}
	r := NewReranker(scorer, DefaultOptions())

	in := []models.ScoredCandidate{candidate("low", 0.5), candidate("high", 0.1)}
	out, err := r.Rerank(context.Background(), "q", in, 10, 2.0)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "high", out[0].Chunk.ID)
	assert.InDelta(t, 0.90, out[0].FusedScore, 1e-9)
	assert.InDelta(t, 0.50, out[1].FusedScore, 1e-9)
	assert.True(t, out[0].Reranked)

	// input untouched
	assert.Equal(t, "low", in[0].Chunk.ID)
	assert.False(t, in[0].Reranked)
	assert.Equal(t, []string{"[low]\ntext of low", "[high]\ntext of high"}, scorer.passages)
}

func TestRerankGapCutoffAndTopN(t *testing.T) {
	scorer := &fixedScorer{scores: map[string]float64{"[a]": 9, "[b]": 8.5, "[c]": 7.9, "[d]": 2}}
	opts := DefaultOptions()
	opts.FusionEnabled = false
	r := NewReranker(scorer, opts)

	in := []models.ScoredCandidate{candidate("d", 0), candidate("c", 0), candidate("b", 0), candidate("a", 0)}

	out, err := r.Rerank(context.Background(), "q", in, 10, 1.0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Chunk.ID)
	assert.Equal(t, "b", out[1].Chunk.ID)
	for _, c := range out {
		assert.LessOrEqual(t, out[0].RelevanceScore-c.RelevanceScore, 1.0)
	}

	out, err = r.Rerank(context.Background(), "q", in, 3, 100)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].RelevanceScore, out[i].RelevanceScore)
	}
}

func TestRerankUsesOptionsWhenArgumentsAreZero(t *testing.T) {
	scores := map[string]float64{"[a]": 9, "[b]": 8.5, "[c]": 7.9, "[d]": 2}
	in := []models.ScoredCandidate{candidate("d", 0), candidate("c", 0), candidate("b", 0), candidate("a", 0)}

	r := NewReranker(&fixedScorer{scores: scores}, Options{TopN: 3, MaxScoreGap: 1.0})
	out, err := r.Rerank(context.Background(), "q", in, 0, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Chunk.ID)
	assert.Equal(t, "b", out[1].Chunk.ID)

	r = NewReranker(&fixedScorer{scores: scores}, Options{TopN: 1, MaxScoreGap: 100})
	out, err = r.Rerank(context.Background(), "q", in, 0, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Chunk.ID)

	// explicit arguments win over options
	out, err = r.Rerank(context.Background(), "q", in, 4, 100)
	require.NoError(t, err)
	assert.Len(t, out, 4)

	r = NewReranker(&fixedScorer{scores: scores}, Options{})
	assert.Equal(t, 10, r.Options.TopN)
	assert.Equal(t, 2.0, r.Options.MaxScoreGap)
	assert.Equal(t, NormalizeIdentity, r.Options.Normalization)
}

func TestRerankEmptyAndErrors(t *testing.T) {
	r := NewReranker(&fixedScorer{err: errors.New("service down")}, DefaultOptions())

	out, err := r.Rerank(context.Background(), "q", nil, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = r.Rerank(context.Background(), "q", []models.ScoredCandidate{candidate("a", 0.2)}, 10, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerr.Reranking)
}

func TestDistanceNormalizations(t *testing.T) {
	cands := []models.ScoredCandidate{candidate("a", 0.4), candidate("b", 1.2)}

	assert.InDelta(t, 1.2, normalizer(NormalizeIdentity, cands)(1.2), 1e-9)
	assert.InDelta(t, 1.0, normalizer(NormalizeClamp, cands)(1.2), 1e-9)
	assert.InDelta(t, 0.6, normalizer(NormalizeCosine, cands)(1.2), 1e-9)
	mm := normalizer(NormalizeMinMax, cands)
	assert.InDelta(t, 0, mm(0.4), 1e-9)
	assert.InDelta(t, 1, mm(1.2), 1e-9)
	assert.InDelta(t, 0, normalizer(NormalizeMinMax, cands[:1])(0.4), 1e-9)
}

func TestPassThrough(t *testing.T) {
	in := []models.ScoredCandidate{candidate("a", 0.1), candidate("b", 0.2), candidate("c", 0.3)}
	out := PassThrough(in, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Chunk.ID)
	assert.Len(t, PassThrough(in, 0), 3)
}

type mapEmbedder struct {
	block bool
}

func (m mapEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if strings.Contains(text, "access") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (mapEmbedder) ModelName() string { return "map" }

func TestRetrieverAttachesDistances(t *testing.T) {
	ctx := context.Background()
	store, err := vectorstore.OpenLocal(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, []models.EmbeddedChunk{
		{Chunk: models.Chunk{ID: "access", Content: "access control"}, Embedding: []float32{1, 0}},
		{Chunk: models.Chunk{ID: "assets", Content: "asset inventory"}, Embedding: []float32{0, 1}},
	}))

	r := NewRetriever(mapEmbedder{}, store, 0, 0)
	assert.Equal(t, DefaultK, r.K)

	got, err := r.Retrieve(ctx, "who manages access?", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "access", got[0].Chunk.ID)
	assert.InDelta(t, 0, got[0].DistanceScore, 1e-9)
	assert.False(t, got[0].Reranked)
}

func TestRetrieverErrors(t *testing.T) {
	store, err := vectorstore.OpenLocal(t.TempDir(), nil)
	require.NoError(t, err)

	r := NewRetriever(mapEmbedder{}, store, 5, 0)
	_, err = r.Retrieve(context.Background(), "  ", 0)
	assert.ErrorIs(t, err, ragerr.Retrieval)

	slow := NewRetriever(mapEmbedder{block: true}, store, 5, 10*time.Millisecond)
	_, err = slow.Retrieve(context.Background(), "anything", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerr.Timeout)
}

func TestCrossEncoderClientScoresInPassageOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is risk?", req.Query)
		require.Len(t, req.Texts, 2)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"index":1,"score":3.5},{"index":0,"score":-1.25}]`)
	}))
	defer srv.Close()

	c := NewCrossEncoderClient(srv.URL+"/", "bge", time.Second)
	scores, err := c.Score(context.Background(), "what is risk?", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{-1.25, 3.5}, scores)
}

func TestCrossEncoderClientFailures(t *testing.T) {
	partial := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"index":0,"score":1}]`)
	}))
	defer partial.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	_, err := NewCrossEncoderClient(partial.URL, "", time.Second).Score(context.Background(), "q", []string{"a", "b"})
	assert.ErrorContains(t, err, "missing passage 1")

	_, err = NewCrossEncoderClient(down.URL, "", time.Second).Score(context.Background(), "q", []string{"a"})
	assert.ErrorContains(t, err, "overloaded")
}

func TestOllamaScorerParsesGrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req api.GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		grade := "2"
		if strings.Contains(req.Prompt, "[match]") {
			grade = "9"
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintf(w, "{\"model\":\"judge\",\"response\":\"%s\",\"done\":false}\n", grade)
		fmt.Fprint(w, "{\"model\":\"judge\",\"response\":\"\",\"done\":true}\n")
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	s := NewOllamaScorer(api.NewClient(u, srv.Client()), "judge")

	scores, err := s.Score(context.Background(), "q", []string{"[other]\nx", "[match]\ny"})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.InDelta(t, 0.2, scores[0], 1e-9)
	assert.InDelta(t, 0.9, scores[1], 1e-9)
}

func TestParseGrade(t *testing.T) {
	v, err := ParseGrade(" Score: 7.5/10")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, v, 1e-9)

	v, err = ParseGrade("42")
	require.NoError(t, err)
	assert.InDelta(t, 1, v, 1e-9)

	_, err = ParseGrade("not sure")
	assert.Error(t, err)
}
