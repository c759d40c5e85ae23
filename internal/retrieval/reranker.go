package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"docqa-rag/internal/logging"
	"docqa-rag/internal/models"
	"docqa-rag/internal/ragerr"

	"go.uber.org/zap"
)

// Scorer scores (query, passage) pairs; higher is more relevant
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Normalization maps a raw distance onto [0,1] before it is inverted and fused
type Normalization string

const (
	// NormalizeIdentity assumes distances already lie in [0,1]
	NormalizeIdentity Normalization = "identity"
	NormalizeClamp    Normalization = "clamp"
	// NormalizeMinMax rescales across the candidate set
	NormalizeMinMax   Normalization = "minmax"
	// NormalizeCosine maps a cosine distance in [0,2] onto [0,1]
	NormalizeCosine   Normalization = "cosine"
)

// Options configures reranking and fusion
type Options struct {
	TopN            int
	MaxScoreGap     float64
	FusionEnabled   bool
	RelevanceWeight float64
	DistanceWeight  float64
	Normalization   Normalization
	Timeout         time.Duration
}

// DefaultOptions returns the standard fusion settings
func DefaultOptions() Options {
	return Options{
		TopN:            10,
		MaxScoreGap:     2.0,
		FusionEnabled:   true,
		RelevanceWeight: 0.7,
		DistanceWeight:  0.3,
		Normalization:   NormalizeIdentity,
	}
}

// Reranker rescores candidates with a Scorer and fuses the result with the
// retrieval distance
type Reranker struct {
	Scorer  Scorer
	Options Options
}

// NewReranker creates a reranker. Zero TopN, MaxScoreGap and Normalization
// take the DefaultOptions values.
func NewReranker(s Scorer, opts Options) *Reranker {
	def := DefaultOptions()
	if opts.TopN <= 0 {
		opts.TopN = def.TopN
	}
	if opts.MaxScoreGap <= 0 {
		opts.MaxScoreGap = def.MaxScoreGap
	}
	if opts.Normalization == "" {
		opts.Normalization = def.Normalization
	}
	return &Reranker{Scorer: s, Options: opts}
}

// Rerank orders candidates best-first. Candidates trailing the best score by
// more than maxScoreGap are dropped, then the result is cut to topN. A
// non-positive topN or maxScoreGap uses the reranker's Options. The input
// slice is not modified.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []models.ScoredCandidate, topN int, maxScoreGap float64) ([]models.ScoredCandidate, error) {
	if len(candidates) == 0 {
		return []models.ScoredCandidate{}, nil
	}
	if topN <= 0 {
		topN = r.Options.TopN
	}
	if topN <= 0 {
		topN = len(candidates)
	}
	if maxScoreGap <= 0 {
		maxScoreGap = r.Options.MaxScoreGap
	}
	if r.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Options.Timeout)
		defer cancel()
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = Passage(c.Chunk)
	}

	scores, err := r.Scorer.Score(ctx, query, passages)
	if err != nil {
		return nil, ragerr.FromContext(ragerr.Reranking, err, "failed to score candidates")
	}
	if len(scores) != len(candidates) {
		return nil, ragerr.New(ragerr.Reranking, "scorer returned %d scores for %d candidates", len(scores), len(candidates))
	}

	norm := normalizer(r.Options.Normalization, candidates)
	out := make([]models.ScoredCandidate, len(candidates))
	for i, c := range candidates {
		c.RelevanceScore = scores[i]
		c.FusedScore = r.Options.RelevanceWeight*scores[i] + r.Options.DistanceWeight*(1-norm(c.DistanceScore))
		c.Reranked = true
		out[i] = c
	}

	key := r.rankKey
	sort.SliceStable(out, func(i, j int) bool {
		return key(out[i]) > key(out[j])
	})

	best := key(out[0])
	kept := out[:0]
	for _, c := range out {
		if best-key(c) <= maxScoreGap {
			kept = append(kept, c)
		}
	}
	if len(kept) > topN {
		kept = kept[:topN]
	}

	logging.FromContext(ctx).Debug("reranked candidates",
		zap.Int("in", len(candidates)),
		zap.Int("out", len(kept)),
		zap.Float64("best", best))
	return kept, nil
}

func (r *Reranker) rankKey(c models.ScoredCandidate) float64 {
	if r.Options.FusionEnabled {
		return c.FusedScore
	}
	return c.RelevanceScore
}

// Passage is the text a candidate is scored on: its section title in
// brackets followed by the chunk content
func Passage(c models.Chunk) string {
	title := c.Metadata.SectionTitle
	if title == "" {
		title = "Unknown"
	}
	return fmt.Sprintf("[%s]\n%s", title, c.Content)
}

// PassThrough returns the retrieval order cut to topN, without scores
func PassThrough(candidates []models.ScoredCandidate, topN int) []models.ScoredCandidate {
	n := len(candidates)
	if topN > 0 && topN < n {
		n = topN
	}
	out := make([]models.ScoredCandidate, n)
	copy(out, candidates[:n])
	return out
}

func normalizer(mode Normalization, candidates []models.ScoredCandidate) func(float64) float64 {
	switch mode {
	case NormalizeClamp:
		return clamp01
	case NormalizeCosine:
		return func(d float64) float64 { return clamp01(d / 2) }
	case NormalizeMinMax:
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, c := range candidates {
			lo = math.Min(lo, c.DistanceScore)
			hi = math.Max(hi, c.DistanceScore)
		}
		return func(d float64) float64 {
			if hi == lo {
				return 0
			}
			return (d - lo) / (hi - lo)
		}
	default:
		return func(d float64) float64 { return d }
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
