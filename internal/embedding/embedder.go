// Package embedding turns text into vectors for the index and for queries.
package embedding

import (
	"context"
	"fmt"
	"sync"

	"docqa-rag/internal/models"

	"golang.org/x/sync/errgroup"
)

// Embedder maps text to a vector. Implementations must be safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// ProgressFunc reports how many of total chunks have been embedded
type ProgressFunc func(processed, total int)

// EmbedBatch embeds chunks with at most maxConcurrent requests in flight.
// The first failure cancels the remaining requests.
func EmbedBatch(ctx context.Context, e Embedder, chunks []models.Chunk, maxConcurrent int, progress ProgressFunc) ([]models.EmbeddedChunk, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	out := make([]models.EmbeddedChunk, len(chunks))

	var mu sync.Mutex
	processed := 0
	total := len(chunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i := range chunks {
		g.Go(func() error {
			vec, err := e.Embed(gctx, chunks[i].Content)
			if err != nil {
				return fmt.Errorf("failed to embed chunk %s: %w", chunks[i].ID, err)
			}
			out[i] = models.EmbeddedChunk{Chunk: chunks[i], Embedding: vec}

			mu.Lock()
			processed++
			if progress != nil {
				progress(processed, total)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
