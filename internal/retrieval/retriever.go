// Package retrieval runs the query side of the pipeline: vector search
// followed by cross-encoder reranking and score fusion.
package retrieval

import (
	"context"
	"strings"
	"time"

	"docqa-rag/internal/embedding"
	"docqa-rag/internal/logging"
	"docqa-rag/internal/models"
	"docqa-rag/internal/ragerr"
	"docqa-rag/internal/vectorstore"

	"go.uber.org/zap"
)

// DefaultK is the number of candidates pulled from the index per query
const DefaultK = 30

// Retriever embeds a query and searches the index with it
type Retriever struct {
	Embedder embedding.Embedder
	Store    vectorstore.Store
	K        int
	// Timeout bounds one Retrieve call when positive
	Timeout  time.Duration
}

// NewRetriever creates a retriever over an embedder and an index
func NewRetriever(e embedding.Embedder, s vectorstore.Store, k int, timeout time.Duration) *Retriever {
	if k <= 0 {
		k = DefaultK
	}
	return &Retriever{Embedder: e, Store: s, K: k, Timeout: timeout}
}

// Retrieve returns up to k candidates for query with their raw distances.
// A non-positive k uses the retriever's default.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]models.ScoredCandidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ragerr.New(ragerr.Retrieval, "empty query")
	}
	if k <= 0 {
		k = r.K
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()
	vec, err := r.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, ragerr.FromContext(ragerr.Retrieval, err, "failed to embed query")
	}

	hits, err := r.Store.Search(ctx, vec, k)
	if err != nil {
		return nil, ragerr.FromContext(ragerr.Retrieval, err, "failed to search index")
	}

	candidates := make([]models.ScoredCandidate, len(hits))
	for i, hit := range hits {
		candidates[i] = models.ScoredCandidate{Chunk: hit.Chunk, DistanceScore: hit.Distance}
	}
	logging.FromContext(ctx).Debug("retrieved candidates",
		zap.Int("k", k),
		zap.Int("count", len(candidates)),
		zap.Duration("took", time.Since(start)))
	return candidates, nil
}
