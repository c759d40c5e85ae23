package embedding

import (
	"context"
	"time"

	"docqa-rag/internal/logging"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// CachedEmbedder memoizes embeddings of repeated texts, typically queries
type CachedEmbedder struct {
	next  Embedder
	cache *expirable.LRU[string, []float32]
}

// WithCache wraps e in an LRU cache. A non-positive size or ttl disables caching.
func WithCache(e Embedder, size int, ttl time.Duration) Embedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &CachedEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := c.cache.Get(text); ok {
		logging.FromContext(ctx).Debug("embedding cache hit", zap.String("model", c.next.ModelName()))
		return cloneEmbedding(cached), nil
	}
	res, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, cloneEmbedding(res))
	return res, nil
}

func (c *CachedEmbedder) ModelName() string {
	return c.next.ModelName()
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
